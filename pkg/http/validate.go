package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

// newValidator reports fields by their json/query name, which is what callers send.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query", "param"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// ReadAndValidateRequest binds req, fills `default` tags and validates it.
// It returns nil or a []FieldProblem ready for BadRequestResponse.
func ReadAndValidateRequest(c echo.Context, req interface{}) interface{} {
	if err := c.Bind(req); err != nil {
		return problems(err)
	}
	if err := defaults.Set(req); err != nil {
		return problems(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return problems(err)
	}
	return nil
}

func problems(err error) []FieldProblem {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]FieldProblem, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, FieldProblem{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: describe(fe),
				Params:  params(fe),
			})
		}
		return out
	}
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return []FieldProblem{{Code: "ERR_BIND", Message: msg}}
}

func describe(fe validator.FieldError) string {
	f, p := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return f + " is required"
	case "oneof":
		return f + " must be one of " + strings.ReplaceAll(p, " ", "|")
	case "min", "gte":
		return f + " must be >= " + p
	case "max", "lte":
		return f + " must be <= " + p
	case "gt":
		return f + " must be > " + p
	case "lt":
		return f + " must be < " + p
	}
	return fmt.Sprintf("%s violates %q", f, fe.Tag())
}

func params(fe validator.FieldError) map[string]interface{} {
	switch fe.Tag() {
	case "oneof":
		return map[string]interface{}{"options": strings.Fields(fe.Param())}
	case "min", "max", "gte", "lte", "gt", "lt":
		return map[string]interface{}{"limit": fe.Param()}
	}
	return nil
}
