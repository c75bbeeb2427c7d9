package app

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// checkInput runs struct validation and converts failures into a
// VALIDATION_ERROR with one entry per offending field.
func checkInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return errValidation(nil)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errValidation(nil)
	}

	details := make([]map[string]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, map[string]string{
			"field":  fieldPath(fe.Namespace()),
			"rule":   fe.Tag(),
			"reason": fe.Error(),
		})
	}
	return errValidation(details)
}

// fieldPath strips the root struct name and lower-cases the leading field,
// so "TemplateInput.Questions[0].Title" reads "questions[0].title".
func fieldPath(namespace string) string {
	parts := strings.SplitN(namespace, ".", 2)
	if len(parts) < 2 {
		return lowerFirstSegments(namespace)
	}
	return lowerFirstSegments(parts[1])
}

func lowerFirstSegments(path string) string {
	segments := strings.Split(path, ".")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		segments[i] = strings.ToLower(segment[:1]) + segment[1:]
	}
	return strings.Join(segments, ".")
}
