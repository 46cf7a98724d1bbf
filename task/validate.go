package task

import (
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	afErrors "github.com/kbukum/autoflow/errors"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("task_type", func(fl validator.FieldLevel) bool {
			t := Type(fl.Field().String())
			for _, known := range Types {
				if t == known {
					return true
				}
			}
			return false
		})
	})
	return validate
}

// Validate checks a schedule before it is saved. The cron expression is
// only checked for presence here; an unparsable expression is stored and
// left uninstalled by the scheduler.
func Validate(t *ScheduleTask) error {
	var fields []FieldError
	if err := getValidator().Struct(t); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return afErrors.Validation("validation failed").WithCause(err)
		}
		for _, e := range verrs {
			fields = append(fields, FieldError{Field: fieldPath(e), Message: message(e)})
		}
	}
	if t.Type.NeedsTarget() && strings.TrimSpace(t.TargetID) == "" && t.Type != "" {
		fields = append(fields, FieldError{Field: "target_id", Message: "is required for type " + string(t.Type)})
	}
	if len(fields) == 0 {
		return nil
	}

	msgs := make([]string, len(fields))
	for i, f := range fields {
		msgs[i] = f.Field + ": " + f.Message
	}
	return afErrors.Validation(strings.Join(msgs, "; ")).WithDetail("fields", fields)
}

// fieldPath drops the root struct name: "ScheduleTask.config.window_days"
// becomes "config.window_days".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return e.Field()
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max", "lte":
		return "must be at most " + e.Param()
	case "min", "gte":
		return "must be at least " + e.Param()
	case "task_type":
		return "must be one of " + typeList()
	default:
		return "is invalid"
	}
}

func typeList() string {
	names := make([]string, len(Types))
	for i, t := range Types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
