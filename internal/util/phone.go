package util

import (
	"regexp"
	"strings"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// NormalizePhone reduces a dialled number to "+<digits>". Separators, spaces and a
// leading "00" international prefix are dropped.
func NormalizePhone(phone string) string {
	var sb strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	s := sb.String()
	s = strings.TrimPrefix(s, "00")
	if s == "" {
		return ""
	}
	return "+" + s
}

// IsValidE164 reports whether phone is a well-formed E.164 number after normalization.
func IsValidE164(phone string) bool {
	return e164.MatchString(NormalizePhone(phone))
}

// MaskPhone hides all but the last 3 digits for logs.
func MaskPhone(p string) string {
	if n := len(p); n >= 3 {
		return strings.Repeat("*", n-3) + p[n-3:]
	}
	return "***"
}
