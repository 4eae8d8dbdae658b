package models

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var Validate *validator.Validate

const (
	notBlankTag      = "notblank"
	hasCorrectTag    = "has_correct"
	projectIDPattern = "project_id"
)

func init() {
	Validate = validator.New()

	// Use JSON tag names for errors instead of Go struct names.
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = Validate.RegisterValidation(notBlankTag, notBlankValidation)
	_ = Validate.RegisterValidation(projectIDPattern, projectIDValidation)
	Validate.RegisterStructValidation(questionStructValidation, Question{})
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

func projectIDValidation(fl validator.FieldLevel) bool {
	str, ok := fl.Field().Interface().(string)
	if !ok || str == "" || len(str) > 128 {
		return false
	}
	for _, r := range str {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// questionStructValidation requires at least one correct choice per question.
func questionStructValidation(sl validator.StructLevel) {
	q, ok := sl.Current().Interface().(Question)
	if !ok {
		return
	}
	if len(q.CorrectChoices()) == 0 {
		sl.ReportError(q.Choices, "choices", "Choices", hasCorrectTag, "")
	}
}

// ValidProjectID reports whether id may name a project directory.
func ValidProjectID(id string) bool {
	return Validate.Var(id, projectIDPattern) == nil
}
