// Package protocol provides the JSON wire types of the NFC session API.
// This package is designed to be importable without pulling in server dependencies.
package protocol

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

// ParseUID decodes a tag ID from hex.
// Supports: "04:AB:CD:EF", "04ABCDEF", "04 ab cd ef", "04-AB-CD-EF"
func ParseUID(uid string) ([]byte, error) {
	if uid == "" {
		return nil, fmt.Errorf("empty UID")
	}

	cleaned := strings.NewReplacer(":", "", " ", "", "-", "").Replace(uid)
	cleaned = strings.ToLower(cleaned)

	if !hexPattern.MatchString(cleaned) {
		return nil, fmt.Errorf("UID contains invalid characters: %s", uid)
	}
	if len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("UID has odd number of hex characters: %s", uid)
	}

	return hex.DecodeString(cleaned)
}

// FormatUID encodes a tag ID as lower-case hex without separators.
func FormatUID(id []byte) string {
	return hex.EncodeToString(id)
}
