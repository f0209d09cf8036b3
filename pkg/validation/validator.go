package validation

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// Validator wraps struct-tag validation with input sanitation and
// lightweight injection screening for free-text fields.
type Validator struct {
	validate       *validator.Validate
	sanitizer      *bluemonday.Policy
	sqlPattern     *regexp.Regexp
	scriptPattern  *regexp.Regexp
	emailPattern   *regexp.Regexp
	usernameChars  *regexp.Regexp
	PasswordPolicy PasswordPolicy
}

// PasswordPolicy mirrors the configurable password requirements.
type PasswordPolicy struct {
	MinLength           int
	RequireUppercase    bool
	RequireLowercase    bool
	RequireNumbers      bool
	RequireSpecialChars bool
}

// DefaultPasswordPolicy matches the service defaults: 8+ characters with
// all four character classes required.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:           8,
		RequireUppercase:    true,
		RequireLowercase:    true,
		RequireNumbers:      true,
		RequireSpecialChars: true,
	}
}

// NewValidator creates a validator with the strict bluemonday policy.
func NewValidator(policy PasswordPolicy) *Validator {
	return &Validator{
		validate:       validator.New(),
		sanitizer:      bluemonday.StrictPolicy(),
		sqlPattern:     regexp.MustCompile(`(?i)(union\s+select|insert\s+into|delete\s+from|drop\s+table|exec\s|;--|'\s*or\s+'1'\s*=\s*'1)`),
		scriptPattern:  regexp.MustCompile(`(?i)(<script|<iframe|javascript:|vbscript:|on\w+\s*=)`),
		emailPattern:   regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`),
		usernameChars:  regexp.MustCompile(`^[a-zA-Z0-9]+$`),
		PasswordPolicy: policy,
	}
}

// ValidateStruct validates a struct using its validate tags.
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.validate.Struct(s)
}

// SanitizeInput strips HTML and escapes what remains.
func (v *Validator) SanitizeInput(input string) string {
	if input == "" {
		return input
	}
	return html.EscapeString(v.sanitizer.Sanitize(strings.TrimSpace(input)))
}

// ContainsInjection reports whether the input matches known SQL or script
// injection patterns. Free-text profile fields are screened with this
// before being stored.
func (v *Validator) ContainsInjection(input string) bool {
	return v.sqlPattern.MatchString(input) || v.scriptPattern.MatchString(input)
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks basic email shape and length.
func (v *Validator) ValidateEmail(email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if len(email) > 254 {
		return fmt.Errorf("email too long")
	}
	if !v.emailPattern.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateUsername checks username length and character set.
func (v *Validator) ValidateUsername(username string) error {
	if len(username) < 3 || len(username) > 30 {
		return fmt.Errorf("username must be between 3 and 30 characters")
	}
	if !v.usernameChars.MatchString(username) {
		return fmt.Errorf("username may only contain letters and digits")
	}
	return nil
}

// ValidatePassword checks a candidate password against the policy and
// returns every violated requirement.
func (v *Validator) ValidatePassword(password string) []string {
	var problems []string

	if len(password) < v.PasswordPolicy.MinLength {
		problems = append(problems, fmt.Sprintf("must be at least %d characters", v.PasswordPolicy.MinLength))
	}
	if len(password) > 128 {
		problems = append(problems, "must be at most 128 characters")
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsNumber(r):
			hasNumber = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if v.PasswordPolicy.RequireUppercase && !hasUpper {
		problems = append(problems, "must contain an uppercase letter")
	}
	if v.PasswordPolicy.RequireLowercase && !hasLower {
		problems = append(problems, "must contain a lowercase letter")
	}
	if v.PasswordPolicy.RequireNumbers && !hasNumber {
		problems = append(problems, "must contain a digit")
	}
	if v.PasswordPolicy.RequireSpecialChars && !hasSpecial {
		problems = append(problems, "must contain a special character")
	}

	return problems
}
