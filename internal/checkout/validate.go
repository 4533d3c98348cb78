package checkout

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/angelmondragon/storefront-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/types"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Egyptian mobile numbers, matched against the digits-only form.
var egyptianMobile = []*regexp.Regexp{
	regexp.MustCompile(`^(010|011|012|015)\d{8}$`),
	regexp.MustCompile(`^20(10|11|12|15)\d{8}$`),
	regexp.MustCompile(`^0020(10|11|12|15)\d{8}$`),
}

// ValidEgyptianPhone reports whether phone is an Egyptian mobile number once
// separators are stripped.
func ValidEgyptianPhone(phone string) bool {
	digits := types.DigitsOnly(phone)
	for _, pattern := range egyptianMobile {
		if pattern.MatchString(digits) {
			return true
		}
	}
	return false
}

type lineForm struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1,max=50"`
}

type orderForm struct {
	DeliveryMethod string     `json:"deliveryMethod" validate:"required,oneof=pickup delivery"`
	Name           string     `json:"name" validate:"required,min=2,max=50"`
	Phone          string     `json:"phone" validate:"required,egphone"`
	Branch         string     `json:"branch"`
	Address        string     `json:"address"`
	Notes          string     `json:"notes" validate:"max=300"`
	Items          []lineForm `json:"items" validate:"required,min=1,dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("egphone", func(fl validator.FieldLevel) bool {
		return ValidEgyptianPhone(fl.Field().String())
	})
	v.RegisterStructValidation(validateFulfilment, orderForm{})
	return v
}

// validateFulfilment applies the rules that depend on the delivery method.
func validateFulfilment(sl validator.StructLevel) {
	form := sl.Current().Interface().(orderForm)
	switch enums.DeliveryMethod(form.DeliveryMethod) {
	case enums.DeliveryMethodPickup:
		if form.Branch == "" {
			sl.ReportError(form.Branch, "branch", "Branch", "required", "")
		}
	case enums.DeliveryMethodDelivery:
		n := utf8.RuneCountInString(form.Address)
		switch {
		case n == 0:
			sl.ReportError(form.Address, "address", "Address", "required", "")
		case n < 10:
			sl.ReportError(form.Address, "address", "Address", "min", "10")
		case n > 200:
			sl.ReportError(form.Address, "address", "Address", "max", "200")
		}
	}
}

func formFor(req Request) orderForm {
	items := make([]lineForm, 0, len(req.Lines))
	for _, line := range req.Lines {
		items = append(items, lineForm{ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity})
	}
	return orderForm{
		DeliveryMethod: string(req.Delivery.Method),
		Name:           strings.TrimSpace(req.Customer.Name),
		Phone:          strings.TrimSpace(req.Customer.Phone),
		Branch:         strings.TrimSpace(req.Delivery.BranchID),
		Address:        strings.TrimSpace(req.Customer.Address),
		Notes:          strings.TrimSpace(req.Customer.Notes),
		Items:          items,
	}
}

// ValidateForm checks the customer-facing fields of a submission.
func ValidateForm(req Request) error {
	if err := validate.Struct(formFor(req)); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "egphone":
		return "must be an Egyptian mobile number (e.g. 01012345678)"
	}
	return "is invalid"
}

// scanForPrices refuses any submission that carries client-side money.
func scanForPrices(req Request) error {
	lines := make([]types.OrderLine, 0, len(req.Lines)+len(req.ClientLines))
	lines = append(lines, req.Lines...)
	lines = append(lines, req.ClientLines...)
	for _, line := range lines {
		if line.CarriesPrice() {
			return pkgerrors.New(pkgerrors.CodeSecurity, "prices must not be sent with an order").
				WithDetails(map[string]any{"productId": line.ProductID})
		}
	}
	for _, amount := range []*decimal.Decimal{req.Subtotal, req.Total, req.Discount} {
		if amount != nil && !amount.IsZero() {
			return pkgerrors.New(pkgerrors.CodeSecurity, "totals must not be sent with an order")
		}
	}
	return nil
}
