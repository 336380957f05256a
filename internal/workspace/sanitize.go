package workspace

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentifier is returned when a user identifier has no usable
// characters left after sanitization.
var ErrInvalidIdentifier = errors.New("invalid user identifier")

// Sanitize reduces a raw user identifier to a storage key made of ASCII
// letters, digits, '-' and '_'. Other characters are dropped, not replaced,
// so distinct raw identifiers may collide.
func Sanitize(raw string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			sb.WriteByte(c)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
	}
	return sb.String(), nil
}
