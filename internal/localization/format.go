package localization

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"notification-workers/internal/models"
)

// localeFormat holds the per-language conventions x/text does not cover.
type localeFormat struct {
	dateLayout     string
	timeLayout     string
	currency       string
	symbolTrailing bool
}

var localeFormats = map[string]localeFormat{
	"en": {dateLayout: "01/02/2006", timeLayout: "3:04 PM", currency: "USD"},
	"es": {dateLayout: "02/01/2006", timeLayout: "15:04", currency: "EUR", symbolTrailing: true},
	"fr": {dateLayout: "02/01/2006", timeLayout: "15:04", currency: "EUR", symbolTrailing: true},
	"de": {dateLayout: "02.01.2006", timeLayout: "15:04", currency: "EUR", symbolTrailing: true},
	"pt": {dateLayout: "02/01/2006", timeLayout: "15:04", currency: "BRL"},
	"it": {dateLayout: "02/01/2006", timeLayout: "15:04", currency: "EUR", symbolTrailing: true},
	"zh": {dateLayout: "2006-01-02", timeLayout: "15:04", currency: "CNY"},
	"ja": {dateLayout: "2006/01/02", timeLayout: "15:04", currency: "JPY"},
	"ar": {dateLayout: "02/01/2006", timeLayout: "15:04", currency: "SAR", symbolTrailing: true},
	"hi": {dateLayout: "02-01-2006", timeLayout: "3:04 PM", currency: "INR"},
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"CNY": "¥",
	"INR": "₹",
	"BRL": "R$",
	"SAR": "ر.س",
	"CAD": "CA$",
	"AUD": "A$",
}

var (
	formatPlaceholder = regexp.MustCompile(`\{\{\s*(date|time|number|currency):([^{}]+?)\s*\}\}`)

	dateInputLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
	timeInputLayouts = []string{time.RFC3339, "15:04:05", "15:04"}
)

func formatFor(lang string) localeFormat {
	if f, ok := localeFormats[lang]; ok {
		return f
	}
	return localeFormats["en"]
}

// ApplyLocalizationToText rewrites the date, time, number and currency
// placeholders of text for lang. Values that do not parse are left as the
// original placeholder.
func ApplyLocalizationToText(text, lang string) string {
	lang = BaseLanguage(lang)
	printer := message.NewPrinter(language.Make(lang))
	lf := formatFor(lang)

	return formatPlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		m := formatPlaceholder.FindStringSubmatch(match)
		kind, value := m[1], strings.TrimSpace(m[2])

		var (
			out string
			ok  bool
		)
		switch kind {
		case "date":
			out, ok = formatTime(value, dateInputLayouts, lf.dateLayout)
		case "time":
			out, ok = formatTime(value, timeInputLayouts, lf.timeLayout)
		case "number":
			out, ok = formatNumber(printer, value)
		case "currency":
			out, ok = formatCurrency(printer, lf, value)
		}
		if !ok {
			return match
		}
		return out
	})
}

// ApplyLanguageFormatting formats every text field of the variant in place.
func ApplyLanguageFormatting(v *models.Variant, lang string) {
	v.Subject = ApplyLocalizationToText(v.Subject, lang)
	v.Title = ApplyLocalizationToText(v.Title, lang)
	v.Body = ApplyLocalizationToText(v.Body, lang)
	v.HTMLBody = ApplyLocalizationToText(v.HTMLBody, lang)
}

func formatTime(value string, inputs []string, layout string) (string, bool) {
	for _, in := range inputs {
		if t, err := time.Parse(in, value); err == nil {
			return t.Format(layout), true
		}
	}
	return "", false
}

func formatNumber(p *message.Printer, value string) (string, bool) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return "", false
	}
	return p.Sprint(number.Decimal(f, number.MaxFractionDigits(2))), true
}

// formatCurrency handles "amount" and "amount:CODE".
func formatCurrency(p *message.Printer, lf localeFormat, value string) (string, bool) {
	amountStr, code := value, lf.currency
	if i := strings.LastIndex(value, ":"); i >= 0 {
		amountStr, code = strings.TrimSpace(value[:i]), strings.ToUpper(strings.TrimSpace(value[i+1:]))
	}
	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil {
		return "", false
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", false
	}
	scale, _ := currency.Standard.Rounding(unit)
	formatted := p.Sprint(number.Decimal(amount, number.Scale(scale)))

	symbol, ok := currencySymbols[unit.String()]
	if !ok {
		return formatted + " " + unit.String(), true
	}
	if lf.symbolTrailing {
		return formatted + " " + symbol, true
	}
	return symbol + formatted, true
}
