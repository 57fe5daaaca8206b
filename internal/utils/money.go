package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// currencyScales - количество знаков дробной части для валют, отличающихся от двух.
var currencyScales = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"ISK": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
	"JOD": 3,
	"TND": 3,
}

const defaultScale int32 = 2

// NormalizeCurrency приводит код валюты к верхнему регистру без пробелов.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CurrencyScale возвращает точность валюты в минорных единицах.
func CurrencyScale(code string) int32 {
	if scale, ok := currencyScales[NormalizeCurrency(code)]; ok {
		return scale
	}
	return defaultScale
}

// FitsCurrencyScale проверяет, что сумма не содержит больше знаков после запятой,
// чем допускает валюта.
func FitsCurrencyScale(amount decimal.Decimal, code string) bool {
	scale := CurrencyScale(code)
	return amount.Equal(amount.Truncate(scale))
}
