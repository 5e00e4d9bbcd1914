// Package validator validates service request structs with go-playground
// validator and translates failures into AppErrors.
package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"folio/internal/cashflow"
	apperrors "folio/internal/errors"

	money "github.com/Rhymond/go-money"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	instance *validator.Validate
	once     sync.Once
)

// Get returns the shared validator with all custom tags registered.
func Get() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
		_ = v.RegisterValidation("iso4217", validateISO4217)
		_ = v.RegisterValidation("asset_class", validateAssetClass)
		_ = v.RegisterValidation("frequency", validateFrequency)
		_ = v.RegisterValidation("estimate_category", validateEstimateCategory)
		_ = v.RegisterValidation("ymd", validateYMD)
		_ = v.RegisterValidation("dpositive", validateDecimalPositive)
		_ = v.RegisterValidation("dnonneg", validateDecimalNonNegative)
		instance = v
	})
	return instance
}

// Struct validates s. A missing required field maps to
// MISSING_REQUIRED_FIELD, a malformed date to INVALID_DATE and any other
// failure to INVALID_INPUT.
func Struct(s interface{}) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.Wrap(apperrors.ErrInvalidInput, err)
	}

	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return apperrors.WithMessage(apperrors.ErrMissingRequiredField, field+" is required")
	case "ymd":
		return apperrors.WithMessage(apperrors.ErrInvalidDate, field+" must be formatted as YYYY-MM-DD")
	}
	return apperrors.WithMessage(apperrors.ErrInvalidInput, field+" failed "+fe.Tag()+" validation")
}

func validateISO4217(fl validator.FieldLevel) bool {
	code := fl.Field().String()
	return code == strings.ToUpper(code) && money.GetCurrency(code) != nil
}

func validateAssetClass(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "security", "gold", "currency", "real_estate", "debt_instrument":
		return true
	}
	return false
}

func validateFrequency(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "monthly", "quarterly", "yearly":
		return true
	}
	return false
}

func validateEstimateCategory(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "salary", "zakat", "charity", "living_expenses", "other":
		return true
	}
	return false
}

func validateYMD(fl validator.FieldLevel) bool {
	_, err := cashflow.ParseDate(fl.Field().String())
	return err == nil
}

// decimalValue lets tags see a decimal as its string form.
func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		return d.String()
	}
	return nil
}

func validateDecimalPositive(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	return err == nil && d.IsPositive()
}

func validateDecimalNonNegative(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	return err == nil && !d.IsNegative()
}
