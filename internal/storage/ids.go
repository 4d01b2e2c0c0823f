package storage

import (
	"strings"

	"chatline/internal/models"
)

// NormalizeID validates a client-supplied identifier without touching the
// store. It accepts upper or lower case hex and returns the lowercase form.
func NormalizeID(s string) (string, bool) {
	if len(s) != models.IDLength {
		return "", false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return "", false
		}
	}
	return strings.ToLower(s), true
}
