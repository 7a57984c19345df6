package api

import (
	"sync"

	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/usage"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators adds the domain tags to gin's binding validator:
// entity_kind, override_status, case_status and invoice_status.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("entity_kind", func(fl validator.FieldLevel) bool {
			return usage.EntityKind(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("override_status", func(fl validator.FieldLevel) bool {
			status := models.SubscriptionStatus(fl.Field().String())
			return status == models.StatusActive || status == models.StatusInactive
		})
		_ = v.RegisterValidation("case_status", func(fl validator.FieldLevel) bool {
			return fl.Field().String() == "" || models.CaseStatus(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("invoice_status", func(fl validator.FieldLevel) bool {
			return fl.Field().String() == "" || models.InvoiceStatus(fl.Field().String()).Valid()
		})
	})
}
