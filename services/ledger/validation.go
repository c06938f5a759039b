package ledger

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	maxNameLength  = 200
	maxTextLength  = 2000
	minPasswordLen = 8
)

var maxAmount = decimal.RequireFromString("999999999999.99")

func requireText(v *violations, field, value string, max int) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		v.add(field, "is required")
	case utf8.RuneCountInString(value) > max:
		v.add(field, "is too long")
	}
}

func optionalText(v *violations, field, value string, max int) {
	if utf8.RuneCountInString(value) > max {
		v.add(field, "is too long")
	}
}

func checkEmail(v *violations, field, value string) {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		v.add(field, "must be a valid email address")
	}
}

func checkPhone(v *violations, field, value string, required bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			v.add(field, "is required")
		}
		return
	}
	digits := 0
	for i, r := range value {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' && i == 0, r == ' ', r == '-':
		default:
			v.add(field, "must contain only digits, spaces, dashes and a leading +")
			return
		}
	}
	if digits < 7 || digits > 15 {
		v.add(field, "must contain 7 to 15 digits")
	}
}

func checkAmount(v *violations, field string, amount decimal.Decimal) {
	switch {
	case !amount.IsPositive():
		v.add(field, "must be greater than zero")
	case amount.Exponent() < -2 && !amount.Equal(amount.Round(2)):
		v.add(field, "must have at most two decimal places")
	case amount.GreaterThan(maxAmount):
		v.add(field, "is too large")
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
