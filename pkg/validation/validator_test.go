package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeEmail("  User@EXAMPLE.com "))
}

func TestValidateEmail(t *testing.T) {
	v := NewValidator(DefaultPasswordPolicy())

	assert.NoError(t, v.ValidateEmail("user@example.com"))
	assert.NoError(t, v.ValidateEmail("first.last+tag@sub.example.co"))

	assert.Error(t, v.ValidateEmail(""))
	assert.Error(t, v.ValidateEmail("not-an-email"))
	assert.Error(t, v.ValidateEmail("user@"))
	assert.Error(t, v.ValidateEmail("@example.com"))
}

func TestValidateUsername(t *testing.T) {
	v := NewValidator(DefaultPasswordPolicy())

	assert.NoError(t, v.ValidateUsername("alice42"))

	assert.Error(t, v.ValidateUsername("ab"))
	assert.Error(t, v.ValidateUsername("has space"))
	assert.Error(t, v.ValidateUsername("semi;colon"))
}

func TestValidatePassword(t *testing.T) {
	v := NewValidator(DefaultPasswordPolicy())

	assert.Empty(t, v.ValidatePassword("Sup3r$ecret"))

	cases := []struct {
		name     string
		password string
	}{
		{"too short", "Ab1$"},
		{"no uppercase", "sup3r$ecret"},
		{"no lowercase", "SUP3R$ECRET"},
		{"no digit", "Super$ecret"},
		{"no special", "Sup3rSecret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotEmpty(t, v.ValidatePassword(tc.password))
		})
	}
}

func TestValidatePasswordRelaxedPolicy(t *testing.T) {
	v := NewValidator(PasswordPolicy{MinLength: 4})

	assert.Empty(t, v.ValidatePassword("abcd"))
	assert.NotEmpty(t, v.ValidatePassword("abc"))
}

func TestSanitizeInput(t *testing.T) {
	v := NewValidator(DefaultPasswordPolicy())

	assert.Equal(t, "hello", v.SanitizeInput(" hello "))
	assert.NotContains(t, v.SanitizeInput("<script>alert(1)</script>bob"), "<script>")
	assert.Empty(t, v.SanitizeInput(""))
}

func TestContainsInjection(t *testing.T) {
	v := NewValidator(DefaultPasswordPolicy())

	assert.True(t, v.ContainsInjection("1' OR '1'='1"))
	assert.True(t, v.ContainsInjection("x; DROP TABLE users"))
	assert.True(t, v.ContainsInjection("<script>alert(1)</script>"))
	assert.True(t, v.ContainsInjection("javascript:alert(1)"))

	assert.False(t, v.ContainsInjection("Jean-Pierre O'Neill"))
	assert.False(t, v.ContainsInjection("ordinary text"))
}
