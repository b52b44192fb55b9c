// Package validation provides user code validation utilities for the device flow
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation settings
const (
	GroupSize  = 4             // Characters per group
	CodeLength = GroupSize * 2 // Total length excluding separator
	Separator  = "-"
)

// ValidCharset contains the allowed characters for user codes.
// Vowels are left out so codes never spell words, and 0/O, 1/I/L are left out
// because they are easily confused when read off a terminal.
const ValidCharset = "BCDFGHJKMNPQRSTVWXZ23456789"

var codeRegex = regexp.MustCompile(fmt.Sprintf("^[%[1]s]{%[2]d}-?[%[1]s]{%[2]d}$", ValidCharset, GroupSize))

// ValidationError represents a code validation error
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid user code %q: %s", e.Code, e.Message)
}

// ValidateUserCode checks that a user-supplied code could have been issued.
// Input is accepted with or without the separator and in any case.
func ValidateUserCode(code string) error {
	cleaned := strings.ToUpper(strings.Join(strings.Fields(code), ""))

	if n := len(strings.ReplaceAll(cleaned, Separator, "")); n != CodeLength {
		return &ValidationError{
			Code:    code,
			Message: fmt.Sprintf("must be %d characters, got %d", CodeLength, n),
		}
	}

	if !codeRegex.MatchString(cleaned) {
		return &ValidationError{
			Code:    code,
			Message: "code must be in format XXXX-XXXX using only allowed characters",
		}
	}

	return nil
}

// NormalizeCode converts a user code to canonical lookup form
func NormalizeCode(code string) string {
	code = strings.Join(strings.Fields(code), "")
	return strings.ToUpper(strings.ReplaceAll(code, Separator, ""))
}

// FormatCode converts a code to display format
func FormatCode(code string) string {
	code = NormalizeCode(code)
	if len(code) != CodeLength {
		return code
	}
	return code[:GroupSize] + Separator + code[GroupSize:]
}
