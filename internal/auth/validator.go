package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ErrWeakPassword is returned when a password lacks a letter or a digit.
var ErrWeakPassword = errors.New("password must contain a letter and a digit")

var usernameRE = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernameRE.MatchString(fl.Field().String())
	})
	return v
}

// RegisterInput is the account creation payload.
type RegisterInput struct {
	Username string `validate:"required,min=3,max=32,username"`
	Email    string `validate:"required,email,max=255"`
	Password string `validate:"required,min=8,max=72"`
}

// ProfileInput carries optional profile changes; nil fields are untouched.
type ProfileInput struct {
	DisplayName   *string `validate:"omitnil,max=64"`
	IsPrivate     *bool
	AllowGroupAdd *string `validate:"omitnil,oneof=everyone contacts nobody"`
}

// ValidateRegister checks field rules and password strength.
func ValidateRegister(in RegisterInput) error {
	if err := validate.Struct(in); err != nil {
		return describe(err)
	}
	if !isPasswordComplex(in.Password) {
		return ErrWeakPassword
	}
	return nil
}

// ValidateProfile checks profile field rules.
func ValidateProfile(in ProfileInput) error {
	if err := validate.Struct(in); err != nil {
		return describe(err)
	}
	return nil
}

// describe turns validator output into a single readable error.
func describe(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("%s is required", field)
		case "min":
			return fmt.Errorf("%s must be at least %s characters", field, fe.Param())
		case "max":
			return fmt.Errorf("%s must be at most %s characters", field, fe.Param())
		case "email":
			return fmt.Errorf("%s must be a valid email address", field)
		case "username":
			return fmt.Errorf("%s may only contain letters, digits, '_' and '.'", field)
		case "oneof":
			return fmt.Errorf("%s must be one of: %s", field, fe.Param())
		}
		return fmt.Errorf("%s is invalid", field)
	}
	return err
}

func isPasswordComplex(s string) bool {
	var hasLetter, hasDigit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}
