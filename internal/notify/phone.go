package notify

import (
	"regexp"
	"strings"

	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
)

var e164 = regexp.MustCompile(`^\+\d{1,15}$`)

// NormalizePhone converts user input into E.164. Numbers that already carry
// a '+' keep their country code; bare 10-digit numbers get defaultCountryCode.
// Formatting characters (spaces, dashes, parentheses, dots) are dropped.
func NormalizePhone(raw, defaultCountryCode string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", apperrors.ErrInvalidPhone
	}

	digits := stripNonDigits(trimmed)
	if strings.HasPrefix(trimmed, "+") {
		candidate := "+" + digits
		if !e164.MatchString(candidate) || !onlyFormatting(trimmed[1:]) {
			return "", apperrors.ErrInvalidPhone
		}
		return candidate, nil
	}

	if !onlyFormatting(trimmed) {
		return "", apperrors.ErrInvalidPhone
	}
	if len(digits) == 10 {
		candidate := defaultCountryCode + digits
		if !e164.MatchString(candidate) {
			return "", apperrors.ErrInvalidPhone
		}
		return candidate, nil
	}
	return "", apperrors.ErrInvalidPhone
}

// IsE164 reports whether phone is already normalised.
func IsE164(phone string) bool {
	return e164.MatchString(phone)
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func onlyFormatting(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return false
		}
	}
	return true
}
