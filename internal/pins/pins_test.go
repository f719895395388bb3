package pins

import "testing"

func TestViolations_SubsetPasses(t *testing.T) {
	allowed := []string{"src/a.js"}
	changed := []string{"src/a.js"}
	if v := Violations(allowed, changed); len(v) != 0 {
		t.Fatalf("expected no violations, got %v", v)
	}
}

func TestViolations_OutOfScopeFileDetected(t *testing.T) {
	allowed := []string{"src/a.js"}
	changed := []string{"src/a.js", "src/secret.js"}
	v := Violations(allowed, changed)
	if len(v) != 1 || v[0] != "src/secret.js" {
		t.Fatalf("expected [src/secret.js], got %v", v)
	}
}

func TestContains_GlobPattern(t *testing.T) {
	allowed := []string{"src/**/*.go"}
	if !Contains(allowed, "src/pkg/sub/file.go") {
		t.Fatalf("expected doublestar glob to cover nested file")
	}
	if Contains(allowed, "other/file.go") {
		t.Fatalf("expected file outside pattern to be rejected")
	}
}

func TestContains_DirectoryPrefix(t *testing.T) {
	allowed := []string{"src/"}
	if !Contains(allowed, "src/a.go") {
		t.Fatalf("expected directory prefix to cover a file directly inside it")
	}
	if !Contains(allowed, "src/nested/b.go") {
		t.Fatalf("expected directory prefix to cover a nested file")
	}
	if Contains(allowed, "other/a.go") {
		t.Fatalf("expected file outside the directory to be rejected")
	}
}
