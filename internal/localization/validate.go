package localization

import (
	"sort"
	"strings"
	"unicode/utf8"

	"notification-workers/internal/models"
	"notification-workers/internal/rendering"
)

// ContentReport is the result of checking a translated variant.
type ContentReport struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidateTranslatedContent checks a variant written in lang. Title and body
// must reference exactly the same set of placeholders.
func (s *Service) ValidateTranslatedContent(v *models.Variant, lang string) *ContentReport {
	report := &ContentReport{Errors: []string{}, Warnings: []string{}}

	if strings.TrimSpace(v.Title) == "" {
		report.Errors = append(report.Errors, "title is required")
	}
	if strings.TrimSpace(v.Body) == "" {
		report.Errors = append(report.Errors, "body is required")
	}
	if !s.IsSupported(lang) {
		report.Errors = append(report.Errors, "unsupported language: "+lang)
	}

	switch v.Channel {
	case models.ChannelEmail:
		if strings.TrimSpace(v.Subject) == "" {
			report.Errors = append(report.Errors, "email subject is required")
		} else if utf8.RuneCountInString(v.Subject) > 78 {
			report.Warnings = append(report.Warnings, "email subject exceeds 78 characters")
		}
	case models.ChannelSMS:
		if utf8.RuneCountInString(v.Body) > rendering.SMSSingleSegmentLength {
			report.Errors = append(report.Errors, "sms body exceeds 160 characters")
		}
	}

	if !equalStrings(placeholderSet(v.Title), placeholderSet(v.Body)) {
		report.Errors = append(report.Errors, "title and body placeholders differ")
	}

	report.Valid = len(report.Errors) == 0
	return report
}

func placeholderSet(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, tok := range protectedPlaceholder.FindAllString(text, -1) {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
