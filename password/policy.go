package password

import (
	"errors"
	"fmt"
	"regexp"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrTooShort is returned when a password has fewer characters than the policy minimum.
	ErrTooShort = errors.New("password too short")
	// ErrTooFewNonAlphanumeric is returned when a password lacks enough symbols.
	ErrTooFewNonAlphanumeric = errors.New("password needs more non-alphanumeric characters")
	// ErrStrengthPattern is returned when a password does not match the strength expression.
	ErrStrengthPattern = errors.New("password does not match strength expression")
	// ErrInvalidCharacters is returned for passwords that are not valid UTF-8.
	ErrInvalidCharacters = errors.New("password is not valid UTF-8")
)

// Policy is the set of rules a new password must satisfy.
type Policy struct {
	MinLength          int
	MinNonAlphanumeric int
	strength           *regexp.Regexp
}

// NewPolicy compiles pattern (empty disables the check) and returns the policy.
func NewPolicy(minLength, minNonAlphanumeric int, pattern string) (*Policy, error) {
	if minLength < 0 || minNonAlphanumeric < 0 {
		return nil, errors.New("password policy minimums must not be negative")
	}

	p := &Policy{
		MinLength:          minLength,
		MinNonAlphanumeric: minNonAlphanumeric,
	}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid password strength expression: %w", err)
		}
		p.strength = re
	}
	return p, nil
}

// Validate checks pw against the policy. Length counts characters, not bytes.
func (p *Policy) Validate(pw string) error {
	if p == nil {
		return nil
	}
	if !utf8.ValidString(pw) {
		return ErrInvalidCharacters
	}
	if utf8.RuneCountInString(pw) < p.MinLength {
		return ErrTooShort
	}

	nonAlnum := 0
	for _, r := range pw {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			nonAlnum++
		}
	}
	if nonAlnum < p.MinNonAlphanumeric {
		return ErrTooFewNonAlphanumeric
	}

	if p.strength != nil && !p.strength.MatchString(pw) {
		return ErrStrengthPattern
	}
	return nil
}
