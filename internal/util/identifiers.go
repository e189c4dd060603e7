package util

import "strings"

const maxIdentifierLength = 128

// IsSafeIdentifier reports whether s can be used verbatim inside a storage
// key or a shared-state key: non-empty, bounded, and limited to letters,
// digits and the separators . _ - : @
func IsSafeIdentifier(s string) bool {
	if s == "" || len(s) > maxIdentifierLength {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-', r == ':', r == '@':
		default:
			return false
		}
	}
	return true
}

// ContainsSuspicious flags markup or template fragments in free-form input.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"<", ">", "${", "{{", "script", "onerror", "onload"} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
