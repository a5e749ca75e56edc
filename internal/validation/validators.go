// Package validation provides small composable field validators for request input.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validator is a function that validates a string value and returns an error message if invalid.
type Validator func(v string) string

// Required validates that a field is not empty and does not exceed maxLen characters.
// Uses rune count for proper Unicode support.
func Required(fieldName string, maxLen int) Validator {
	return func(v string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return fieldName + " is required."
		}
		if utf8.RuneCountInString(v) > maxLen {
			return fmt.Sprintf("%s cannot exceed %d characters.", fieldName, maxLen)
		}
		return ""
	}
}

// RequiredRange validates that a field is not empty and is between minLen and maxLen characters.
func RequiredRange(fieldName string, minLen, maxLen int) Validator {
	return func(v string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return fieldName + " is required."
		}
		n := utf8.RuneCountInString(v)
		if n < minLen || n > maxLen {
			return fmt.Sprintf("%s must be between %d and %d characters.", fieldName, minLen, maxLen)
		}
		return ""
	}
}

// ByteRange validates the raw byte length without trimming. Passwords use it
// because bcrypt only reads the first 72 bytes.
func ByteRange(fieldName string, minLen, maxLen int) Validator {
	return func(v string) string {
		if v == "" {
			return fieldName + " is required."
		}
		if len(v) < minLen || len(v) > maxLen {
			return fmt.Sprintf("%s must be between %d and %d bytes.", fieldName, minLen, maxLen)
		}
		return ""
	}
}

// OneOf validates that a field matches one of the provided options (case-insensitive).
func OneOf(fieldName string, options []string) Validator {
	return func(v string) string {
		v = strings.TrimSpace(v)
		for _, opt := range options {
			if strings.EqualFold(v, opt) {
				return ""
			}
		}
		return fmt.Sprintf("%s must be one of: %s", fieldName, strings.Join(options, ", "))
	}
}

// Pattern validates that a non-empty field matches re.
func Pattern(fieldName string, re *regexp.Regexp) Validator {
	return func(v string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return ""
		}
		if !re.MatchString(v) {
			return fieldName + " has an invalid format."
		}
		return ""
	}
}

var reEmail = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Email validates a plausible single address. Deliverability is not checked.
func Email(fieldName string) Validator {
	return func(v string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return ""
		}
		if !reEmail.MatchString(v) {
			return fieldName + " must be a valid email address."
		}
		return ""
	}
}

// Optional validates that an optional field does not exceed maxLen characters if provided.
func Optional(fieldName string, maxLen int) Validator {
	return func(v string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return ""
		}
		if utf8.RuneCountInString(v) > maxLen {
			return fmt.Sprintf("%s cannot exceed %d characters.", fieldName, maxLen)
		}
		return ""
	}
}

// FieldValidator provides a fluent API for validating multiple fields.
type FieldValidator struct {
	errors map[string]string
	order  []string
}

// New creates a new FieldValidator instance.
func New() *FieldValidator {
	return &FieldValidator{errors: make(map[string]string)}
}

// Validate validates a field with one or more validators.
// It stops at the first error for each field.
func (fv *FieldValidator) Validate(field, value string, validators ...Validator) *FieldValidator {
	for _, v := range validators {
		if err := v(value); err != "" {
			if _, seen := fv.errors[field]; !seen {
				fv.order = append(fv.order, field)
			}
			fv.errors[field] = err
			break
		}
	}
	return fv
}

// Errors returns the accumulated validation errors.
func (fv *FieldValidator) Errors() map[string]string {
	return fv.errors
}

// First returns the earliest failing field and its message, in Validate call order.
func (fv *FieldValidator) First() (field, message string, ok bool) {
	if len(fv.order) == 0 {
		return "", "", false
	}
	field = fv.order[0]
	return field, fv.errors[field], true
}
