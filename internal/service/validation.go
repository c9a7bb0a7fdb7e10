package service

import (
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/immigration-dms-api/internal/models"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
)

// newRequestValidator returns a validator aware of the domain enums used in
// request tags.
func newRequestValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("applicationType", func(fl validator.FieldLevel) bool {
		return models.ApplicationType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("applicationStatus", func(fl validator.FieldLevel) bool {
		return models.ApplicationStatus(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		return models.Priority(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("syncAction", func(fl validator.FieldLevel) bool {
		return models.SyncAction(fl.Field().String()).Valid()
	})
	return v
}

func validationError(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
}
