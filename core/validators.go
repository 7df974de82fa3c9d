package core

import (
	"math"
	"reflect"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	// custom validation tags & texts
	percentageTag  = "percentage"
	percentageText = "{0} must be a percentage between 0 and 100"

	assessmentTag  = "assessment"
	assessmentText = "{0} must be one of: quiz1, quiz2, assignment1, assignment2, midterm"

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "this field is required"
)

// Assessments lists the gradable assessments of a course, in sweep order.
var Assessments = []string{"quiz1", "quiz2", "assignment1", "assignment2", "midterm"}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	_ = validate.RegisterValidation(percentageTag, percentageValidation)
	RegisterCustomTranslation(validate, translator, percentageTag, percentageText)
	_ = validate.RegisterValidation(assessmentTag, assessmentValidation)
	RegisterCustomTranslation(validate, translator, assessmentTag, assessmentText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// Custom Global Validators

// percentageValidation accepts floats in [0, 100]. Works on pointers too (nil is left to `required`).
func percentageValidation(fl validator.FieldLevel) bool {
	fld := fl.Field()
	switch fld.Kind() {
	case reflect.Float32, reflect.Float64:
		v := fld.Float()
		return !math.IsNaN(v) && v >= 0 && v <= 100
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v := fld.Int()
		return v >= 0 && v <= 100
	}
	return false
}

func assessmentValidation(fl validator.FieldLevel) bool {
	s := CleanString(fl.Field().String(), true)
	for _, a := range Assessments {
		if s == a {
			return true
		}
	}
	return false
}
