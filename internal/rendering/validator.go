package rendering

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"notification-workers/internal/models"
)

const (
	IssueStructure     = "structure"
	IssueSecurity      = "security"
	IssueAccessibility = "accessibility"
	IssueCompatibility = "compatibility"
	IssueContent       = "content"
)

type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// ValidationReport scores a variant from 0 to 100.
type ValidationReport struct {
	Score       int     `json:"score"`
	Valid       bool    `json:"valid"`
	Errors      []Issue `json:"errors"`
	Warnings    []Issue `json:"warnings"`
	Suggestions []Issue `json:"suggestions"`
}

func (r *ValidationReport) addError(category, format string, args ...interface{}) {
	r.Errors = append(r.Errors, Issue{Category: category, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationReport) addWarning(category, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationReport) addSuggestion(category, format string, args ...interface{}) {
	r.Suggestions = append(r.Suggestions, Issue{Category: category, Message: fmt.Sprintf(format, args...)})
}

// Score computes 100 - 20 per error - 5 per warning - 2 per suggestion, floored at 0.
func Score(errors, warnings, suggestions int) int {
	score := 100 - 20*errors - 5*warnings - 2*suggestions
	if score < 0 {
		return 0
	}
	return score
}

var (
	prohibitedTags = []string{"script", "iframe", "object", "embed"}

	imgTagPattern    = regexp.MustCompile(`(?is)<img\b[^>]*>`)
	altAttrPattern   = regexp.MustCompile(`(?is)\balt\s*=\s*("[^"]*"|'[^']*')`)
	anchorPattern    = regexp.MustCompile(`(?is)<a\b[^>]*>(.*?)</a>`)
	styleTagPattern  = regexp.MustCompile(`(?is)<style\b`)
	linkStylesheetRe = regexp.MustCompile(`(?is)<link\b[^>]*rel\s*=\s*["']?stylesheet`)

	genericLinkText = map[string]bool{
		"click here": true,
		"here":       true,
		"read more":  true,
		"more":       true,
		"link":       true,
		"this link":  true,
	}

	cssWarnings = []struct {
		pattern *regexp.Regexp
		message string
	}{
		{regexp.MustCompile(`(?i)display\s*:\s*(flex|inline-flex)`), "flexbox layout is not supported by several email clients"},
		{regexp.MustCompile(`(?i)display\s*:\s*grid`), "CSS grid is not supported by most email clients"},
		{regexp.MustCompile(`(?i)position\s*:\s*(absolute|fixed|sticky)`), "CSS positioning is stripped by many email clients"},
		{regexp.MustCompile(`(?i)@import`), "@import rules are ignored by most email clients"},
	}

	cssSuggestions = []struct {
		pattern *regexp.Regexp
		message string
	}{
		{regexp.MustCompile(`(?i)background-image\s*:`), "background images are unreliable in email; provide a background color fallback"},
		{regexp.MustCompile(`(?i)@font-face|fonts\.googleapis\.com`), "web fonts need a web-safe fallback font family"},
		{regexp.MustCompile(`(?i)\d(rem|vw|vh)\b`), "relative units (rem, vw, vh) render inconsistently; prefer px"},
	}
)

// Validator checks a variant's structure, security, accessibility and
// cross-client compatibility.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

func (v *Validator) Validate(variant *models.Variant) *ValidationReport {
	report := &ValidationReport{
		Errors:      []Issue{},
		Warnings:    []Issue{},
		Suggestions: []Issue{},
	}
	if variant == nil {
		report.addError(IssueStructure, "variant is required")
		report.Score = Score(len(report.Errors), 0, 0)
		return report
	}

	v.checkStructure(variant, report)
	if variant.HTMLBody != "" {
		v.checkHTML(variant.HTMLBody, report)
	}
	v.checkSecurity(variant, report)

	report.Score = Score(len(report.Errors), len(report.Warnings), len(report.Suggestions))
	report.Valid = len(report.Errors) == 0
	return report
}

func (v *Validator) checkStructure(variant *models.Variant, report *ValidationReport) {
	if strings.TrimSpace(variant.Title) == "" {
		report.addError(IssueStructure, "title is required")
	}
	if strings.TrimSpace(variant.Body) == "" {
		report.addError(IssueStructure, "body is required")
	}

	fields := []struct{ name, text string }{
		{"subject", variant.Subject},
		{"title", variant.Title},
		{"body", variant.Body},
		{"htmlBody", variant.HTMLBody},
	}
	for _, f := range fields {
		if strings.Count(f.text, "{{") != strings.Count(f.text, "}}") {
			report.addError(IssueStructure, "%s has unbalanced placeholder braces", f.name)
		}
	}

	switch variant.Channel {
	case models.ChannelEmail:
		if strings.TrimSpace(variant.Subject) == "" {
			report.addError(IssueStructure, "email subject is required")
		} else if utf8.RuneCountInString(variant.Subject) > 78 {
			report.addWarning(IssueContent, "email subject exceeds 78 characters and may be cut off")
		}
		if variant.HTMLBody == "" {
			report.addSuggestion(IssueContent, "no HTML body provided; the default layout will be used")
		}
	case models.ChannelSMS:
		if n := utf8.RuneCountInString(variant.Body); n > SMSSingleSegmentLength {
			report.addWarning(IssueContent, "sms body is %d characters and will be sent as %d segments", n, CalculateSMSCount(variant.Body))
		}
		if variant.HTMLBody != "" {
			report.addWarning(IssueContent, "sms variants ignore the HTML body")
		}
	case models.ChannelWebsocket:
		if utf8.RuneCountInString(variant.Title) > 100 {
			report.addSuggestion(IssueContent, "push titles over 100 characters are truncated on most devices")
		}
	}
}

func (v *Validator) checkHTML(htmlBody string, report *ValidationReport) {
	lower := strings.ToLower(htmlBody)
	if !strings.Contains(lower, "<html") {
		report.addWarning(IssueStructure, "HTML body is missing the <html> element")
	}
	if !strings.Contains(lower, "<body") {
		report.addWarning(IssueStructure, "HTML body is missing the <body> element")
	}
	if !strings.Contains(lower, "<title") {
		report.addSuggestion(IssueStructure, "add a <title> element for clients that display it")
	}
	if !strings.Contains(lower, "<!doctype") {
		report.addSuggestion(IssueStructure, "add a DOCTYPE declaration")
	}

	for _, img := range imgTagPattern.FindAllString(htmlBody, -1) {
		if !altAttrPattern.MatchString(img) {
			report.addWarning(IssueAccessibility, "image is missing alt text: %s", truncateForMessage(img))
		}
	}
	for _, m := range anchorPattern.FindAllStringSubmatch(htmlBody, -1) {
		text := strings.ToLower(strings.TrimSpace(HTMLToText(m[1])))
		if genericLinkText[text] {
			report.addWarning(IssueAccessibility, "link text %q is not descriptive", text)
		}
	}

	for _, c := range cssWarnings {
		if c.pattern.MatchString(htmlBody) {
			report.addWarning(IssueCompatibility, "%s", c.message)
		}
	}
	for _, c := range cssSuggestions {
		if c.pattern.MatchString(htmlBody) {
			report.addSuggestion(IssueCompatibility, "%s", c.message)
		}
	}
	if styleTagPattern.MatchString(htmlBody) {
		report.addSuggestion(IssueCompatibility, "inline CSS instead of <style> blocks; some clients strip them")
	}
	if linkStylesheetRe.MatchString(htmlBody) {
		report.addWarning(IssueCompatibility, "external stylesheets are not loaded by email clients")
	}
}

func (v *Validator) checkSecurity(variant *models.Variant, report *ValidationReport) {
	content := strings.ToLower(variant.HTMLBody + " " + variant.Body)
	for _, tag := range prohibitedTags {
		if strings.Contains(content, "<"+tag) {
			report.addError(IssueSecurity, "prohibited tag <%s> found", tag)
		}
	}
	if strings.Contains(content, "javascript:") {
		report.addError(IssueSecurity, "javascript: URLs are not allowed")
	}
	for _, a := range variant.Actions {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.URL)), "javascript:") {
			report.addError(IssueSecurity, "action %q uses a javascript: URL", a.Text)
		}
	}
}

func truncateForMessage(s string) string {
	if len(s) <= 60 {
		return s
	}
	return s[:57] + "..."
}
