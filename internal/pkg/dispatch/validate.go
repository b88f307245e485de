package dispatch

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check runs the struct's validate tags, reporting the first failure as
// MISSING_ARG or INVALID_ARG
func check(in interface{}) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.Wrap(err, apperror.CodeInvalidArg, "%v", err)
	}

	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return apperror.MissingArg(field)
	case "min":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map {
			return apperror.InvalidArg("%s must be a non-empty array", field)
		}
		return apperror.InvalidArg("%s must be at least %s", field, fe.Param())
	case "oneof":
		return apperror.InvalidArg("%s must be one of %s, got %v", field, fe.Param(), fe.Value())
	}
	return apperror.InvalidArg("%s is invalid (%s)", field, fe.Tag())
}
