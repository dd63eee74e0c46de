package notification

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// currencyFormats maps ISO codes to display templates
var currencyFormats = map[string]string{
	"GBP": "£%s",
	"USD": "$%s",
	"EUR": "€%s",
	"JPY": "¥%s",
	"AUD": "A$%s",
	"CAD": "C$%s",
	"NOK": "%skr",
	"CNY": "¥%s",
	"RMB": "¥%s",
	"SEK": "%skr",
}

// FormatAmount renders the magnitude of a minor-unit amount with exactly two
// decimals. Unknown currencies render as "<CODE> <amount>".
func FormatAmount(minor int64, currency string) string {
	value := decimal.New(minor, -2).Abs().StringFixed(2)

	code := strings.ToUpper(strings.TrimSpace(currency))
	if format, ok := currencyFormats[code]; ok {
		return fmt.Sprintf(format, value)
	}
	return strings.TrimSpace(code + " " + value)
}

// title mimics word title casing: "eating_out" becomes "Eating Out", "GB" becomes "Gb"
func title(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	if s == "" {
		return ""
	}
	// Casers are stateful; one per call
	return cases.Title(language.English).String(s)
}
