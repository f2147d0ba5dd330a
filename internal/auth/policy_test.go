// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenauth/warden/internal/auth"
	"github.com/wardenauth/warden/pkg/errutil"
)

func rules(vs []auth.Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Rule
	}
	return out
}

func TestPasswordPolicy_Validate(t *testing.T) {
	policy := auth.DefaultPasswordPolicy()

	tests := []struct {
		name     string
		password string
		want     []string
	}{
		{"strong", "Str0ng!pass", []string{}},
		{"every rule violated in declaration order", "abc", []string{
			auth.RuleMinLength, auth.RuleRequireUppercase, auth.RuleRequireDigit, auth.RuleRequireSpecial,
		}},
		{"empty", "", []string{
			auth.RuleMinLength, auth.RuleRequireUppercase, auth.RuleRequireDigit, auth.RuleRequireSpecial,
		}},
		{"missing special only", "Password1", []string{auth.RuleRequireSpecial}},
		{"missing digit and upper", "password!!", []string{auth.RuleRequireUppercase, auth.RuleRequireDigit}},
		{"counts runes not bytes", "Ää1!ääää", []string{}},
		{"short but otherwise fine", "Ab1!", []string{auth.RuleMinLength}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := policy.Validate(tt.password)
			assert.Equal(t, len(tt.want) == 0, result.Valid)
			assert.Equal(t, tt.want, rules(result.Violations))
		})
	}
}

func TestPasswordPolicy_RulesToggle(t *testing.T) {
	policy := auth.PasswordPolicy{MinLength: 0}
	assert.True(t, policy.Validate("").Valid)

	policy = auth.PasswordPolicy{RequireDigit: true}
	result := policy.Validate("nodigits")
	assert.Equal(t, []string{auth.RuleRequireDigit}, rules(result.Violations))
}

func TestPolicyResult_Err(t *testing.T) {
	assert.NoError(t, auth.DefaultPasswordPolicy().Validate("Str0ng!pass").Err())

	err := auth.DefaultPasswordPolicy().Validate("abc").Err()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeValidationFailed)
	errutil.AssertErrorContext(t, err, "field", "password")
	assert.Equal(t, auth.CodeValidationFailed, auth.ErrorKind(err))
	assert.Contains(t, auth.PublicMessage(err), "at least 8 characters")
	assert.Len(t, auth.Violations(err), 4)
}
