package models

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidEmail reports whether the address matches the pattern the quote form accepts
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidName requires at least two characters once surrounding spaces are removed
func ValidName(name string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(name)) >= 2
}

// PhoneDigits strips everything except digits
func PhoneDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NationalDigits returns the digits of a US number without a leading 1 country code
func NationalDigits(phone string) string {
	digits := PhoneDigits(phone)
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// ValidPhone requires exactly ten national digits; a +1 country code is allowed
func ValidPhone(phone string) bool {
	return len(NationalDigits(phone)) == 10
}

// FormatPhone renders a US number as "(AAA) BBB-CCCC", formatting partial input progressively.
// A leading 1 country code on an eleven digit number is dropped, as are digits past the tenth.
func FormatPhone(value string) string {
	digits := NationalDigits(value)
	switch {
	case digits == "":
		return ""
	case len(digits) < 4:
		return digits
	case len(digits) < 7:
		return "(" + digits[:3] + ") " + digits[3:]
	}
	if len(digits) > 10 {
		digits = digits[:10]
	}
	return "(" + digits[:3] + ") " + digits[3:6] + "-" + digits[6:]
}

// ToE164 converts a display phone into the +1 form the SMS provider expects
func ToE164(phone string) string {
	digits := NationalDigits(phone)
	if len(digits) > 10 {
		digits = digits[:10]
	}
	return "+1" + digits
}
