// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Password length bounds, counted in characters.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// PasswordSymbols is the set of characters that satisfy the symbol class.
const PasswordSymbols = "!@#$%^&*()-_=+[]{}|;:'\",.<>/?`~\\"

// Violation is a single reason a password fails the policy.
type Violation string

// Password policy violations.
const (
	ViolationTooShort         Violation = "TOO_SHORT"
	ViolationTooLong          Violation = "TOO_LONG"
	ViolationMissingLowercase Violation = "MISSING_LOWERCASE"
	ViolationMissingUppercase Violation = "MISSING_UPPERCASE"
	ViolationMissingDigit     Violation = "MISSING_DIGIT"
	ViolationMissingSymbol    Violation = "MISSING_SYMBOL"
	ViolationCommonPassword   Violation = "COMMON_PASSWORD"
)

// Message is a human-readable description suitable for form feedback.
func (v Violation) Message() string {
	switch v {
	case ViolationTooShort:
		return "must be at least 8 characters"
	case ViolationTooLong:
		return "must be at most 128 characters"
	case ViolationMissingLowercase:
		return "must contain a lowercase letter"
	case ViolationMissingUppercase:
		return "must contain an uppercase letter"
	case ViolationMissingDigit:
		return "must contain a digit"
	case ViolationMissingSymbol:
		return "must contain a symbol such as ! @ # $ %"
	case ViolationCommonPassword:
		return "is on the list of common passwords"
	default:
		return string(v)
	}
}

// Strength is the coarse score bucket of a password.
type Strength string

// Strength buckets.
const (
	StrengthWeak       Strength = "weak"
	StrengthMedium     Strength = "medium"
	StrengthStrong     Strength = "strong"
	StrengthVeryStrong Strength = "very-strong"
)

// Scoring weights.
const (
	lengthPointsPerChar = 2
	lengthPointsCap     = 60
	classPoints         = 5
	symbolBonus         = 10
	repeatPenalty       = 10
	sequencePenalty     = 15
)

// commonPasswords is compared against the lower-cased candidate.
var commonPasswords = []string{
	"password", "password1", "password12", "password123", "password1234", "passw0rd", "p@ssw0rd", "p@ssword",
	"123456", "1234567", "12345678", "123456789", "1234567890", "111111", "000000", "123123", "654321",
	"qwerty", "qwerty123", "qwertyuiop", "1q2w3e4r", "1qaz2wsx", "zaq12wsx", "asdfghjkl",
	"abc123", "abcd1234", "letmein", "letmein1", "welcome", "welcome1", "welcome123", "admin", "admin123",
	"administrator", "root", "changeme", "secret", "iloveyou", "monkey", "dragon", "football", "baseball",
	"sunshine", "princess", "shadow", "superman", "master", "trustno1", "starwars", "login", "hello123",
	"test1234", "gallery", "gallery123",
}

// PolicyResult is the outcome of Validate.
type PolicyResult struct {
	Valid      bool
	Violations []Violation
}

// Assessment combines validation with the strength score.
type Assessment struct {
	PolicyResult
	Strength Strength
	Points   int
}

// PasswordPolicy validates and scores candidate passwords.
// It holds only immutable configuration and is safe for concurrent use.
type PasswordPolicy struct {
	common map[string]struct{}
}

// NewPasswordPolicy creates a policy with the built-in common-password list
// plus any extra entries.
func NewPasswordPolicy(extraCommon ...string) *PasswordPolicy {
	common := make(map[string]struct{}, len(commonPasswords)+len(extraCommon))
	for _, p := range commonPasswords {
		common[p] = struct{}{}
	}
	for _, p := range extraCommon {
		common[strings.ToLower(p)] = struct{}{}
	}
	return &PasswordPolicy{common: common}
}

type charClasses struct {
	lower, upper, digit, symbol bool
}

func classify(password string) charClasses {
	var c charClasses
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsDigit(r):
			c.digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			c.symbol = true
		}
	}
	return c
}

// Validate checks length bounds, character classes and the common list.
// Violations are reported in a stable order.
func (p *PasswordPolicy) Validate(password string) PolicyResult {
	var violations []Violation

	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		violations = append(violations, ViolationTooShort)
	}
	if n > MaxPasswordLength {
		violations = append(violations, ViolationTooLong)
	}

	c := classify(password)
	if !c.lower {
		violations = append(violations, ViolationMissingLowercase)
	}
	if !c.upper {
		violations = append(violations, ViolationMissingUppercase)
	}
	if !c.digit {
		violations = append(violations, ViolationMissingDigit)
	}
	if !c.symbol {
		violations = append(violations, ViolationMissingSymbol)
	}

	if _, ok := p.common[strings.ToLower(password)]; ok {
		violations = append(violations, ViolationCommonPassword)
	}

	return PolicyResult{Valid: len(violations) == 0, Violations: violations}
}

// Require returns a WeakPassword error listing the violations, or nil.
func (p *PasswordPolicy) Require(password string) error {
	result := p.Validate(password)
	if result.Valid {
		return nil
	}
	return weakPasswordError(result.Violations)
}

// Score rates the password with the additive heuristic.
func (p *PasswordPolicy) Score(password string) Strength {
	return bucket(scorePoints(password))
}

// Check validates and scores in one call.
func (p *PasswordPolicy) Check(password string) Assessment {
	points := scorePoints(password)
	return Assessment{
		PolicyResult: p.Validate(password),
		Strength:     bucket(points),
		Points:       points,
	}
}

func scorePoints(password string) int {
	points := min(utf8.RuneCountInString(password)*lengthPointsPerChar, lengthPointsCap)

	c := classify(password)
	for _, ok := range []bool{c.lower, c.upper, c.digit, c.symbol} {
		if ok {
			points += classPoints
		}
	}
	if c.symbol {
		points += symbolBonus
	}

	if hasRepeatedRun(password) {
		points -= repeatPenalty
	}
	if hasSequence(password) {
		points -= sequencePenalty
	}

	return max(points, 0)
}

func bucket(points int) Strength {
	switch {
	case points < 30:
		return StrengthWeak
	case points < 60:
		return StrengthMedium
	case points < 90:
		return StrengthStrong
	default:
		return StrengthVeryStrong
	}
}

// hasRepeatedRun reports three or more identical consecutive characters.
func hasRepeatedRun(password string) bool {
	runes := []rune(password)
	for i := 2; i < len(runes); i++ {
		if runes[i] == runes[i-1] && runes[i] == runes[i-2] {
			return true
		}
	}
	return false
}

// hasSequence reports three ascending consecutive letters or digits, such as
// "abc" or "123", ignoring case.
func hasSequence(password string) bool {
	runes := []rune(strings.ToLower(password))
	for i := 2; i < len(runes); i++ {
		a, b, c := runes[i-2], runes[i-1], runes[i]
		if !isSequenceRune(a) || !isSequenceRune(b) || !isSequenceRune(c) {
			continue
		}
		if b == a+1 && c == b+1 {
			return true
		}
	}
	return false
}

func isSequenceRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
