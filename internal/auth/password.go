package auth

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	apierrors "github.com/authkit/authkit/pkg/errors"
	"github.com/authkit/authkit/pkg/validation"
)

// HashPassword hashes a plaintext password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether the plaintext matches the stored hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CheckPasswordPolicy validates a candidate password against the policy
// and returns a field-level API error listing every violation.
func CheckPasswordPolicy(v *validation.Validator, password string) error {
	problems := v.ValidatePassword(password)
	if len(problems) == 0 {
		return nil
	}
	err := apierrors.Invalid("password does not meet the policy: " + strings.Join(problems, "; "))
	for _, p := range problems {
		err = err.WithField("password", p)
	}
	return err
}
