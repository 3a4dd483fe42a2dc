package util

import (
	"html"
	"strings"
	"unicode"
)

// SanitizeInput trims and escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious reports markup or template fragments in free text
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"<", ">", "${", "{{", "script", "onerror", "onload"} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

var placeholderPurposes = map[string]bool{
	"n/a":  true,
	"na":   true,
	"none": true,
	"test": true,
	"-":    true,
	"null": true,
	"xxx":  true,
}

// IsMeaningfulPurpose rejects empty, placeholder and too-short purpose strings.
func IsMeaningfulPurpose(purpose string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(purpose))
	if placeholderPurposes[trimmed] {
		return false
	}
	letters := 0
	for _, r := range trimmed {
		if !unicode.IsSpace(r) {
			letters++
		}
	}
	return letters >= 3
}

// IsDigits reports whether s is exactly n ASCII digits.
func IsDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
