package stream

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// FingerprintLength is the number of hex characters in a Fingerprint.
const FingerprintLength = 32

// Fingerprint is the content-addressing key of a conversion job.
type Fingerprint string

// NormalizeSource validates a raw source reference and returns its canonical form.
func NormalizeSource(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", NewError(ErrInvalidRequest, "URL missing", "", nil)
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", NewError(ErrInvalidRequest, "URL is malformed", "", err)
	}
	if parsed.Scheme == "" || (parsed.Host == "" && parsed.Opaque == "" && parsed.Path == "") {
		return "", NewError(ErrInvalidRequest, "URL is malformed", "", nil)
	}
	return value, nil
}

// ResolveFingerprint hashes a source reference into a Fingerprint.
//
// The hash covers the reference string only, so two URLs serving identical
// bytes map to different jobs. No I/O is performed.
func ResolveFingerprint(source string) (Fingerprint, error) {
	normalized, err := NormalizeSource(source)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(normalized))
	return Fingerprint(hex.EncodeToString(sum[:])[:FingerprintLength]), nil
}

// Valid reports whether f has the shape produced by ResolveFingerprint.
func (f Fingerprint) Valid() bool {
	if len(f) != FingerprintLength {
		return false
	}
	for _, r := range f {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func (f Fingerprint) String() string {
	return string(f)
}
