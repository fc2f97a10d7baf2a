package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var trivial = map[string]struct{}{
	"password": {}, "password123": {}, "12345678": {}, "123456789": {},
	"qwerty123": {}, "11111111": {}, "iloveyou": {},
}

// Check applies the length policy and, when enabled, the weak-pattern filter.
func (p Policy) Check(pw string) error {
	n := utf8.RuneCountInString(pw)
	switch {
	case n < p.MinLength:
		return ErrPasswordTooShort
	case n > p.MaxLength:
		return ErrPasswordTooLong
	}
	if p.RejectVeryWeak && veryWeak(pw) {
		return ErrWeakPassword
	}
	return nil
}

func veryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, ok := trivial[strings.ToLower(s)]; ok {
		return true
	}
	if strings.Trim(s, string([]rune(s)[:1])) == "" {
		return true
	}
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 && utf8.RuneCountInString(s) < 12
}
