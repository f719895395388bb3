// Package attestation generates per-claim nonces and verifies the
// nonce-bound file hashes a worker must return on completion, proving it
// read the context pack's files fresh rather than replaying a prior
// completion (§3 Attestation, §4.H.1, §9).
package attestation

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// NewNonce returns a fresh 128-bit random value, hex-encoded.
func NewNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// Sha256Hex returns the lowercase hex sha256 digest of content, matching
// kilroy/internal/cxdb's sha256.Sum256 + hex.EncodeToString idiom.
func Sha256Hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// NonceBoundSha256Hex returns sha256(nonce || content), hex-encoded: the
// hash a worker must compute to prove it read content after receiving
// nonce.
func NonceBoundSha256Hex(nonce string, content []byte) (string, error) {
	nb, err := hex.DecodeString(nonce)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	h := sha256.New()
	h.Write(nb)
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal performs a constant-time comparison of two hex digest strings, per
// spec's explicit constant-time-comparison requirement (§9).
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// FileHashes is the pair of hashes a worker must report for one pack
// file: the raw content hash and the nonce-bound hash.
type FileHashes struct {
	RawSha256        string
	NonceBoundSha256 string
}

// Verify checks a single file's reported hashes against server-computed
// expectations. required files with a mismatched or absent nonce-bound
// hash indicate the worker either didn't fetch the file or replayed a
// stale completion (P3).
func Verify(nonce string, content []byte, reported FileHashes) (bool, error) {
	wantRaw := Sha256Hex(content)
	wantBound, err := NonceBoundSha256Hex(nonce, content)
	if err != nil {
		return false, err
	}
	return Equal(wantRaw, reported.RawSha256) && Equal(wantBound, reported.NonceBoundSha256), nil
}
