package dto

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("endpoint_pattern", validateEndpointPattern)
}

func GetValidator() *validator.Validate {
	return validate
}

// validateEndpointPattern accepts "*", an absolute path, or an absolute path
// ending with a single trailing '*' (suffix wildcard).
func validateEndpointPattern(fl validator.FieldLevel) bool {
	pattern := fl.Field().String()
	if pattern == "*" {
		return true
	}
	if !strings.HasPrefix(pattern, "/") {
		return false
	}
	if strings.Count(pattern, "*") > 1 {
		return false
	}
	if idx := strings.Index(pattern, "*"); idx >= 0 && idx != len(pattern)-1 {
		return false
	}
	return true
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrorResponse struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors"`
}

func FormatValidationErrors(err error) []ValidationError {
	var errors []ValidationError

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrors {
			var message string

			switch fieldError.Tag() {
			case "required":
				message = fieldError.Field() + " is required"
			case "gt":
				message = fieldError.Field() + " must be greater than " + fieldError.Param()
			case "max":
				message = fieldError.Field() + " must be at most " + fieldError.Param() + " characters"
			case "ip":
				message = fieldError.Field() + " must be a valid IP address"
			case "endpoint_pattern":
				message = fieldError.Field() + " must be \"*\" or an absolute path, optionally ending with '*'"
			case "oneof":
				message = fieldError.Field() + " must be one of: " + fieldError.Param()
			default:
				message = fieldError.Field() + " is invalid"
			}

			errors = append(errors, ValidationError{
				Field:   fieldError.Field(),
				Message: message,
			})
		}
	}

	return errors
}

func CreateValidationErrorResponse(err error) ValidationErrorResponse {
	return ValidationErrorResponse{
		Code:    400,
		Message: "Validation failed",
		Errors:  FormatValidationErrors(err),
	}
}
