package rendering

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"

	"notification-workers/internal/models"
)

var conditionalPattern = regexp.MustCompile(`(?s)\{\{#if\s+([^{}\s]+)\s*\}\}(.*?)\{\{/if\}\}`)

// RenderedEmail is the email engine output.
type RenderedEmail struct {
	Subject     string              `json:"subject"`
	Title       string              `json:"title"`
	Body        string              `json:"body"`
	HTML        string              `json:"html"`
	Text        string              `json:"text"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// EmailOptions configures the default layout used when a variant has no HTML body.
type EmailOptions struct {
	BrandName      string
	FooterText     string
	DefaultStyling models.Styling
}

func DefaultEmailOptions() EmailOptions {
	return EmailOptions{
		BrandName:  "CarePlus Health",
		FooterText: "You are receiving this message because of activity on your account.",
		DefaultStyling: models.Styling{
			PrimaryColor:    "#0b6efd",
			BackgroundColor: "#f4f6f8",
			FontFamily:      "Arial, Helvetica, sans-serif",
		},
	}
}

type EmailRenderer struct {
	opts   EmailOptions
	layout *template.Template
}

func NewEmailRenderer(opts EmailOptions) *EmailRenderer {
	return &EmailRenderer{
		opts:   opts,
		layout: template.Must(template.New("email").Parse(defaultLayout)),
	}
}

// Render produces subject, HTML and text for an email variant.
func (r *EmailRenderer) Render(v *models.Variant, data map[string]interface{}, attachments []models.Attachment) (*RenderedEmail, error) {
	if v == nil {
		return nil, fmt.Errorf("render email: nil variant")
	}

	subject := Interpolate(ProcessConditionals(v.Subject, data), data)
	title := Interpolate(ProcessConditionals(v.Title, data), data)
	body := Interpolate(ProcessConditionals(v.Body, data), data)
	if subject == "" {
		subject = title
	}

	var htmlOut string
	if v.HTMLBody != "" {
		htmlOut = interpolateEscaped(ProcessConditionals(v.HTMLBody, data), data)
	} else {
		rendered, err := r.renderLayout(v, title, body, data)
		if err != nil {
			return nil, err
		}
		htmlOut = rendered
	}

	prepared, err := PrepareAttachments(attachments)
	if err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}

	return &RenderedEmail{
		Subject:     subject,
		Title:       title,
		Body:        body,
		HTML:        htmlOut,
		Text:        HTMLToText(htmlOut),
		Attachments: prepared,
	}, nil
}

// ProcessConditionals keeps the content of {{#if key}}...{{/if}} blocks whose
// key resolves to a truthy value and drops the others.
func ProcessConditionals(tmpl string, data map[string]interface{}) string {
	if !strings.Contains(tmpl, "{{#if") {
		return tmpl
	}
	return conditionalPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		groups := conditionalPattern.FindStringSubmatch(match)
		value, found := LookupNestedValue(data, groups[1])
		if found && IsTruthy(value) {
			return groups[2]
		}
		return ""
	})
}

func interpolateEscaped(tmpl string, data map[string]interface{}) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		value, found := LookupNestedValue(data, key)
		if !found {
			return match
		}
		return html.EscapeString(FormatValue(value))
	})
}

type layoutButton struct {
	Text  string
	URL   string
	Color string
}

type layoutData struct {
	Brand      string
	Title      string
	Paragraphs []string
	Buttons    []layoutButton
	Footer     string
	Styling    models.Styling
}

func (r *EmailRenderer) renderLayout(v *models.Variant, title, body string, data map[string]interface{}) (string, error) {
	styling := r.opts.DefaultStyling
	if v.Styling != nil {
		if v.Styling.PrimaryColor != "" {
			styling.PrimaryColor = v.Styling.PrimaryColor
		}
		if v.Styling.BackgroundColor != "" {
			styling.BackgroundColor = v.Styling.BackgroundColor
		}
		if v.Styling.FontFamily != "" {
			styling.FontFamily = v.Styling.FontFamily
		}
		if v.Styling.LogoURL != "" {
			styling.LogoURL = v.Styling.LogoURL
		}
	}

	ld := layoutData{
		Brand:   r.opts.BrandName,
		Title:   title,
		Footer:  r.opts.FooterText,
		Styling: styling,
	}
	for _, p := range strings.Split(body, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			ld.Paragraphs = append(ld.Paragraphs, p)
		}
	}
	for _, a := range v.Actions {
		color := styling.PrimaryColor
		switch a.Style {
		case "danger":
			color = "#dc3545"
		case "secondary":
			color = "#6c757d"
		}
		ld.Buttons = append(ld.Buttons, layoutButton{
			Text:  Interpolate(a.Text, data),
			URL:   Interpolate(a.URL, data),
			Color: color,
		})
	}

	var buf bytes.Buffer
	if err := r.layout.Execute(&buf, ld); err != nil {
		return "", fmt.Errorf("render email layout: %w", err)
	}
	return buf.String(), nil
}

const defaultLayout = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body style="margin:0;padding:0;background-color:{{.Styling.BackgroundColor}};font-family:{{.Styling.FontFamily}};">
<table role="presentation" width="100%" cellpadding="0" cellspacing="0">
<tr><td align="center">
<table role="presentation" width="600" cellpadding="24" cellspacing="0" style="background-color:#ffffff;">
<tr><td>
{{if .Styling.LogoURL}}<img src="{{.Styling.LogoURL}}" alt="{{.Brand}}" width="120">{{else}}<strong>{{.Brand}}</strong>{{end}}
<h1 style="color:{{.Styling.PrimaryColor}};font-size:22px;">{{.Title}}</h1>
{{range .Paragraphs}}<p style="font-size:15px;line-height:1.5;">{{.}}</p>
{{end}}{{range .Buttons}}<p><a href="{{.URL}}" style="background-color:{{.Color}};color:#ffffff;padding:10px 18px;text-decoration:none;">{{.Text}}</a></p>
{{end}}<p style="font-size:12px;color:#888888;">{{.Footer}}</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`
