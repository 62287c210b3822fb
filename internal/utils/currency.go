package utils

import (
	"fmt"
	"math"
)

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"CAD": "C$",
	"AUD": "A$",
	"JPY": "¥",
	"INR": "₹",
	"BRL": "R$",
	"MXN": "$",
}

// Currencies without a minor unit.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
}

// RoundCurrency rounds amount to the minor unit of the currency.
func RoundCurrency(amount float64, currencyCode string) float64 {
	if zeroDecimalCurrencies[currencyCode] {
		return math.Round(amount)
	}
	return math.Round(amount*100) / 100
}

func FormatCurrency(amount float64, currencyCode string) string {
	symbol, ok := currencySymbols[currencyCode]
	if !ok {
		symbol = currencyCode + " "
	}
	amount = RoundCurrency(amount, currencyCode)
	if zeroDecimalCurrencies[currencyCode] {
		return fmt.Sprintf("%s%.0f", symbol, amount)
	}
	return fmt.Sprintf("%s%.2f", symbol, amount)
}
