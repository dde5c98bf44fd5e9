package httpserver

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/scryptex-labs/texledger/pkg/ledger"
)

// registerValidations teaches gin's binding engine the domain literals so
// malformed payloads are rejected before they reach the service.
func registerValidations() {
	engine, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = engine.RegisterValidation("analysistype", func(fl validator.FieldLevel) bool {
		_, err := ledger.ParseAnalysisType(fl.Field().String())
		return err == nil
	})
	_ = engine.RegisterValidation("referralcode", func(fl validator.FieldLevel) bool {
		_, err := ledger.NewReferralCode(fl.Field().String())
		return err == nil
	})
	_ = engine.RegisterValidation("txpurpose", func(fl validator.FieldLevel) bool {
		_, err := ledger.ParseTransactionPurpose(fl.Field().String())
		return err == nil
	})
}
