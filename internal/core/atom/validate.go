package atom

import (
	"errors"
	"sync"

	perr "feedthreads/internal/platform/errors"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("object_type", func(fl validator.FieldLevel) bool {
			t := ObjectType(fl.Field().Uint())
			return t == Post || t == Comment || t == Status
		})
		validate = v
	})
	return validate
}

// Validate checks the invariants every stored record must hold: an id, a
// published time and a known object type
func (r Record) Validate() error {
	err := validatorInstance().Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return perr.Wrap(err, perr.ErrorCodeMalformedRecord, "record validation")
	}
	fe := verrs[0]
	switch fe.Field() {
	case "ObjectType":
		return perr.WithField(perr.Newf(perr.ErrorCodeUnknownObjectType,
			"record %q has unknown object type %d", r.ID, r.ObjectType), "object_type")
	case "ID":
		return perr.WithField(perr.Malformedf("record missing id"), "id")
	default:
		return perr.WithField(perr.Malformedf("record %q missing %s", r.ID, fe.Field()), fe.Field())
	}
}
