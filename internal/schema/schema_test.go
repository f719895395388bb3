package schema

import "testing"

func TestCompileAndValidateSubmit(t *testing.T) {
	s, err := Compile("scc.submit.v1", SubmitV1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	good := []byte(`{"status":"DONE","exit_code":0,"changed_files":["a.md"],"tests":{"passed":true}}`)
	if err := ValidateJSON(s, good); err != nil {
		t.Fatalf("expected valid submit, got %v", err)
	}

	bad := []byte(`{"status":"BOGUS","exit_code":0}`)
	if err := ValidateJSON(s, bad); err == nil {
		t.Fatalf("expected invalid status to fail schema validation")
	}

	missing := []byte(`{"status":"DONE"}`)
	if err := ValidateJSON(s, missing); err == nil {
		t.Fatalf("expected missing exit_code to fail schema validation")
	}
}
