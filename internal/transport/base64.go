// Package transport holds the wire-boundary helpers for the HTTP surface:
// the standard base64 encoding every binary submission field crosses in
// JSON requests/responses as.
package transport

import (
	"encoding/base64"
	"fmt"
)

// EncodeBytes base64-encodes raw bytes for a JSON response field. An empty
// slice encodes to "" rather than the base64 empty string (both are "", so
// this is really just a readability alias).
func EncodeBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

// EncodeOptional returns nil instead of a pointer to "" when b is empty, the
// base64 analogue of Python's Optional[str] encode_optional.
func EncodeOptional(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := EncodeBytes(b)
	return &s
}

// DecodeString base64-decodes a request field. An empty string decodes to a
// nil/empty slice rather than an error.
func DecodeString(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 data: %w", err)
	}
	return b, nil
}

// DecodeOptional decodes a request field that may be absent entirely.
func DecodeOptional(s *string) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return DecodeString(*s)
}
