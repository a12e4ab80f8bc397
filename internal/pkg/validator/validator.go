package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

// Allowed values for tags added through RegisterOneOf
var oneOf = map[string][]string{}

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
	// nonzero int: deltas may be negative but never 0
	validate.RegisterValidation("nonzero", func(fl validator.FieldLevel) bool {
		return fl.Field().Int() != 0
	})
}

// RegisterOneOf adds a string tag that accepts only the given values.
// Packages owning a closed set call it from init.
func RegisterOneOf(tag string, values []string) {
	allowed := append([]string(nil), values...)
	oneOf[tag] = allowed
	validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		for _, a := range allowed {
			if v == a {
				return true
			}
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

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range validationErrors {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "uuid", "uuid4":
			errors[field] = "Must be a valid UUID"
		case "min":
			errors[field] = "Value is too small (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too large (max: " + err.Param() + ")"
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "required_with":
			errors[field] = "Required when " + err.Param() + " is set"
		case "nonzero":
			errors[field] = "Value must not be zero"
		default:
			if allowed, ok := oneOf[err.Tag()]; ok {
				errors[field] = "Invalid value. Must be one of: " + strings.Join(allowed, ", ")
				continue
			}
			errors[field] = "Invalid value"
		}
	}

	return errors
}
