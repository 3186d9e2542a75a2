package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type cardForm struct {
	Currency string `json:"currency" validate:"required,iso4217"`
	Secret   string `json:"secret" validate:"omitempty,min=6,max=190,giftcard_secret"`
	State    string `json:"state" validate:"card_state"`
}

func TestValidateUsesJSONNames(t *testing.T) {
	errs := Validate(cardForm{Currency: "eur", Secret: "bad secret!", State: "gone"})

	assert.Contains(t, errs, "currency")
	assert.Contains(t, errs, "secret")
	assert.Contains(t, errs, "state")
}

func TestValidateAcceptsValidForm(t *testing.T) {
	assert.Nil(t, Validate(cardForm{Currency: "EUR", Secret: "ABC-123_xyz", State: "valued"}))
	assert.Nil(t, Validate(cardForm{Currency: "JPY"}))
}

func TestValidateVar(t *testing.T) {
	assert.NoError(t, ValidateVar("USD", "iso4217"))
	assert.Error(t, ValidateVar("US", "iso4217"))
	assert.Error(t, ValidateVar("YEN", "iso4217"))
}

func TestValidateRejectsUnknownCurrency(t *testing.T) {
	assert.Contains(t, Validate(cardForm{Currency: "XYZ"}), "currency")
}
