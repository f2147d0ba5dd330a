// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/samber/oops"
)

// Rule names reported in a Violation.
const (
	RuleMinLength        = "min_length"
	RuleRequireUppercase = "require_uppercase"
	RuleRequireDigit     = "require_digit"
	RuleRequireSpecial   = "require_special"
)

// PasswordPolicy holds the password strength rules. Each rule is
// independently togglable; a zero MinLength disables the length rule.
type PasswordPolicy struct {
	MinLength        int  `koanf:"min_length" json:"min_length" jsonschema:"minimum=0,maximum=1024"`
	RequireUppercase bool `koanf:"require_uppercase" json:"require_uppercase"`
	RequireDigit     bool `koanf:"require_digit" json:"require_digit"`
	RequireSpecial   bool `koanf:"require_special" json:"require_special"`
}

// DefaultPasswordPolicy enables every rule with an 8 character minimum.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		RequireUppercase: true,
		RequireDigit:     true,
		RequireSpecial:   true,
	}
}

// Violation is one failed policy rule.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// PolicyResult is the outcome of validating a password.
type PolicyResult struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Validate evaluates every enabled rule, in declaration order, without
// stopping at the first failure.
func (p PasswordPolicy) Validate(password string) PolicyResult {
	length := 0
	var hasUpper, hasDigit, hasSp bool
	for _, r := range password {
		length++
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			hasSp = true
		}
	}

	var violations []Violation
	if p.MinLength > 0 && length < p.MinLength {
		violations = append(violations, Violation{
			Rule:    RuleMinLength,
			Message: fmt.Sprintf("password must be at least %d characters", p.MinLength),
		})
	}
	if p.RequireUppercase && !hasUpper {
		violations = append(violations, Violation{
			Rule:    RuleRequireUppercase,
			Message: "password must contain an uppercase letter",
		})
	}
	if p.RequireDigit && !hasDigit {
		violations = append(violations, Violation{
			Rule:    RuleRequireDigit,
			Message: "password must contain a digit",
		})
	}
	if p.RequireSpecial && !hasSp {
		violations = append(violations, Violation{
			Rule:    RuleRequireSpecial,
			Message: "password must contain a special character",
		})
	}

	return PolicyResult{Valid: len(violations) == 0, Violations: violations}
}

// Message joins the violation messages into one sentence list.
func (r PolicyResult) Message() string {
	msgs := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		msgs[i] = v.Message
	}
	return strings.Join(msgs, "; ")
}

// Err returns nil for a valid result and a ValidationFailed error otherwise.
// The error context carries the full violation list.
func (r PolicyResult) Err() error {
	if r.Valid {
		return nil
	}
	msg := r.Message()
	return oops.In("auth").
		Code(CodeValidationFailed).
		With("field", "password").
		With("reason", "weak_password").
		With("violations", r.Violations).
		Public(msg).
		Errorf("%s", msg)
}

// Violations extracts the policy violations from a ValidationFailed error.
func Violations(err error) []Violation {
	v, ok := ErrorContext(err, "violations")
	if !ok {
		return nil
	}
	violations, _ := v.([]Violation) //nolint:errcheck // type assertion, not an error
	return violations
}
