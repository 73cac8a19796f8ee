package cryptoutil

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

const KeySize = 32

// ParseKey decodes a 32-byte key. Accepted forms are "base64:<data>",
// "hex:<data>", "env:<VAR>" (the variable holds one of the other forms) and a
// bare base64 or hex string.
func ParseKey(key string) ([]byte, error) {
	trimmed := strings.TrimSpace(key)
	if name, ok := strings.CutPrefix(trimmed, "env:"); ok {
		trimmed = strings.TrimSpace(os.Getenv(name))
		if trimmed == "" {
			return nil, fmt.Errorf("key variable %s is empty", name)
		}
	}
	if trimmed == "" {
		return nil, errors.New("encryption key is empty")
	}

	var data []byte
	var err error
	switch {
	case strings.HasPrefix(trimmed, "base64:"):
		data, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(trimmed, "base64:"))
	case strings.HasPrefix(trimmed, "hex:"):
		data, err = hex.DecodeString(strings.TrimPrefix(trimmed, "hex:"))
	default:
		data, err = base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			data, err = hex.DecodeString(trimmed)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("invalid key length: %d (expected %d bytes)", len(data), KeySize)
	}
	return data, nil
}
