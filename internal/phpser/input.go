package phpser

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/joestump/menuca-migrate/internal/dump"
)

// DecodeInput normalizes the ways a serialized BLOB shows up in exports:
// 0x-prefixed or bare hex from HEX() exports, MySQL-escaped text copied out
// of a dump, or the raw serialized text.
func DecodeInput(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("decode hex blob: %w", err)
		}
		return b, nil
	}
	if b, ok := bareHex(s); ok {
		return b, nil
	}
	if strings.Contains(s, `\"`) {
		return []byte(dump.Unescape(s)), nil
	}
	return []byte(s), nil
}

// bareHex accepts hex without a prefix only when it decodes to something
// that starts like a serialized value.
func bareHex(s string) ([]byte, bool) {
	if len(s) < 4 || len(s)%2 != 0 {
		return nil, false
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	if len(b) >= 2 && (b[1] == ':' || (b[0] == 'N' && b[1] == ';')) {
		return b, true
	}
	return nil, false
}

// IsEmpty reports whether s holds no serialized data: an empty cell, an
// empty hex literal or a serialized null.
func IsEmpty(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "0x", "0X", "N;":
		return true
	}
	return false
}
