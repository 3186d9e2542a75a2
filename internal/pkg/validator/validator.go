package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

var secretRe = regexp.MustCompile(`^[A-Za-z0-9\-_]+$`)

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Gift card secrets are printed on vouchers; keep them URL and print safe
	validate.RegisterValidation("giftcard_secret", func(fl validator.FieldLevel) bool {
		secret := fl.Field().String()
		return secret == "" || secretRe.MatchString(secret)
	})

	validate.RegisterValidation("card_state", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "", "active", "inactive", "empty", "valued":
			return true
		}
		return false
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range verrs {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "uuid":
			errors[field] = "Invalid UUID"
		case "iso4217":
			errors[field] = "Invalid currency. Must be a 3-letter ISO 4217 code"
		case "giftcard_secret":
			errors[field] = "Secret may only contain letters, digits, '-' and '_'"
		case "card_state":
			errors[field] = "Invalid state. Must be: active, inactive, empty, or valued"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
