package booking

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

type contactForm struct {
	Name  string `validate:"required"`
	Email string `validate:"required,email"`
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// validateContact returns the first failing field as a *ValidationError.
func validateContact(v *validator.Validate, d Details) error {
	form := contactForm{
		Name:  strings.TrimSpace(d.Name),
		Email: strings.TrimSpace(d.Email),
	}
	err := v.Struct(form)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Name":
		return &ValidationError{Field: "name", Err: ErrNameRequired}
	case "Email":
		if fe.Tag() == "required" {
			return &ValidationError{Field: "email", Err: ErrEmailRequired}
		}
		return &ValidationError{Field: "email", Err: ErrEmailInvalid}
	}
	return &ValidationError{Field: strings.ToLower(fe.Field()), Err: err}
}
