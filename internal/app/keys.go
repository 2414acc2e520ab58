package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// minTokenKeyBytes is the shortest configured secret accepted for token encryption.
const minTokenKeyBytes = 16

// DecodeKey decodes a secret written as hex, standard base64 or raw base64.
// Anything else is used as raw bytes.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}
	return decodeKey(v), nil
}

// KeyByteLength returns the decoded byte length of a key string, 0 for an empty one.
func KeyByteLength(value string) (int, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, nil
	}
	return len(decodeKey(v)), nil
}

func decodeKey(v string) []byte {
	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(v); err == nil {
			return decoded
		}
	}
	return []byte(v)
}

func validateTokenKey(value string) error {
	length, err := KeyByteLength(value)
	if err != nil {
		return err
	}
	if length > 0 && length < minTokenKeyBytes {
		return fmt.Errorf("config: tokens.encryption_key must decode to at least %d bytes, got %d", minTokenKeyBytes, length)
	}
	return nil
}
