package accounts

import (
	"regexp"
	"unicode"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,16}$`)
	emailRegex    = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+=?^_`{|}~-]+@[a-zA-Z0-9-]+(?:\\.[a-zA-Z0-9-]+)*$")
)

func ValidUsername(s string) bool {
	return usernameRegex.MatchString(s)
}

// ValidPassword requires 8 to 32 characters with at least one digit, one
// lowercase and one uppercase letter.
func ValidPassword(s string) bool {
	if len(s) < 8 || len(s) > 32 {
		return false
	}

	var digit, lower, upper bool

	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		}
	}

	return digit && lower && upper
}

func ValidEmail(s string) bool {
	return emailRegex.MatchString(s)
}
