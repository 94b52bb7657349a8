package rendering

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"notification-workers/internal/models"
)

const (
	SMSSingleSegmentLength = 160
	SMSConcatSegmentLength = 153
	smsEllipsis            = "..."
)

// RenderedSMS is the SMS engine output.
type RenderedSMS struct {
	Message   string `json:"message"`
	Length    int    `json:"length"`
	Segments  int    `json:"segments"`
	Truncated bool   `json:"truncated"`
}

type SMSRenderer struct {
	maxLength int
}

// NewSMSRenderer returns a renderer that truncates output to maxLength runes.
// A non-positive maxLength means a single segment.
func NewSMSRenderer(maxLength int) *SMSRenderer {
	if maxLength <= 0 {
		maxLength = SMSSingleSegmentLength
	}
	return &SMSRenderer{maxLength: maxLength}
}

// Render interpolates the variant body, appends the first action link and
// fits the result into the configured length.
func (r *SMSRenderer) Render(v *models.Variant, data map[string]interface{}) (*RenderedSMS, error) {
	if v == nil {
		return nil, fmt.Errorf("render sms: nil variant")
	}

	msg := compactWhitespace(Interpolate(v.Body, data))
	if msg == "" {
		msg = compactWhitespace(Interpolate(v.Title, data))
	}

	var link string
	if len(v.Actions) > 0 {
		link = strings.TrimSpace(Interpolate(v.Actions[0].URL, data))
	}

	truncated := false
	if link != "" {
		budget := r.maxLength - utf8.RuneCountInString(link) - 1
		if budget > 0 {
			msg, truncated = Truncate(msg, budget)
			msg = msg + " " + link
		} else {
			msg, truncated = Truncate(msg, r.maxLength)
		}
	} else {
		msg, truncated = Truncate(msg, r.maxLength)
	}

	length := utf8.RuneCountInString(msg)
	return &RenderedSMS{
		Message:   msg,
		Length:    length,
		Segments:  CalculateSMSCount(msg),
		Truncated: truncated,
	}, nil
}

// CalculateSMSCount returns the number of segments needed to send msg:
// 0 for an empty message, 1 up to 160 characters, then ceil(len/153).
func CalculateSMSCount(msg string) int {
	n := utf8.RuneCountInString(msg)
	switch {
	case n == 0:
		return 0
	case n <= SMSSingleSegmentLength:
		return 1
	default:
		return (n + SMSConcatSegmentLength - 1) / SMSConcatSegmentLength
	}
}

// Truncate shortens msg to at most maxLength runes, ellipsis included. It cuts
// at the last space inside the final 20% of the budget when there is one,
// otherwise mid-word. Below the ellipsis length only the leading dots fit.
func Truncate(msg string, maxLength int) (string, bool) {
	runes := []rune(msg)
	if len(runes) <= maxLength {
		return msg, false
	}
	if maxLength <= 0 {
		return "", true
	}
	budget := maxLength - len(smsEllipsis)
	if budget <= 0 {
		return smsEllipsis[:maxLength], true
	}

	cut := runes[:budget]
	minCut := int(float64(budget) * 0.8)
	for i := len(cut) - 1; i >= minCut; i-- {
		if cut[i] == ' ' {
			cut = cut[:i]
			break
		}
	}
	return strings.TrimRight(string(cut), " ") + smsEllipsis, true
}

func compactWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
