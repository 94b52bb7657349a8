package rendering

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-workers/internal/models"
)

func TestEmailRenderer_OrderConfirmed(t *testing.T) {
	r := NewEmailRenderer(DefaultEmailOptions())
	variant := &models.Variant{
		Channel:  models.ChannelEmail,
		UserRole: models.RolePatient,
		Language: "en",
		Subject:  "Order #{{orderNumber}}",
		Title:    "Order Confirmed",
		Body:     "Hi {{firstName}}",
	}

	out, err := r.Render(variant, map[string]interface{}{"orderNumber": "123", "firstName": "Ann"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Order #123", out.Subject)
	assert.Equal(t, "Order Confirmed", out.Title)
	assert.Equal(t, "Hi Ann", out.Body)
	assert.Contains(t, out.HTML, "Hi Ann")
	assert.Contains(t, out.HTML, "<title>Order Confirmed</title>")
	assert.Contains(t, out.Text, "Order Confirmed")
	assert.Contains(t, out.Text, "Hi Ann")
	assert.NotContains(t, out.Text, "<")
}

func TestEmailRenderer_Conditionals(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]interface{}
		expected string
	}{
		{name: "truthy", data: map[string]interface{}{"urgent": true}, expected: "URGENT: Refill due"},
		{name: "falsy", data: map[string]interface{}{"urgent": false}, expected: "Refill due"},
		{name: "missing", data: map[string]interface{}{}, expected: "Refill due"},
		{name: "non-empty string", data: map[string]interface{}{"urgent": "yes"}, expected: "URGENT: Refill due"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ProcessConditionals("{{#if urgent}}URGENT: {{/if}}Refill due", tt.data))
		})
	}
}

func TestEmailRenderer_HTMLBodyEscapesValues(t *testing.T) {
	r := NewEmailRenderer(DefaultEmailOptions())
	variant := &models.Variant{
		Channel:  models.ChannelEmail,
		Subject:  "Note",
		Title:    "Note",
		Body:     "{{note}}",
		HTMLBody: "<html><body><p>{{note}}</p><p>{{unknown}}</p>{{#if show}}<p>shown</p>{{/if}}</body></html>",
	}

	out, err := r.Render(variant, map[string]interface{}{"note": "<b>bold</b>", "show": true}, nil)
	require.NoError(t, err)

	assert.Contains(t, out.HTML, "<p>&lt;b&gt;bold&lt;/b&gt;</p>")
	assert.Contains(t, out.HTML, "<p>{{unknown}}</p>")
	assert.Contains(t, out.HTML, "<p>shown</p>")
	assert.Equal(t, "<b>bold</b> {{unknown}} shown", out.Text)
}

func TestEmailRenderer_ActionButtons(t *testing.T) {
	r := NewEmailRenderer(DefaultEmailOptions())
	variant := &models.Variant{
		Channel: models.ChannelEmail,
		Subject: "Results",
		Title:   "Your lab results are ready",
		Body:    "Log in to view them.",
		Actions: []models.ActionButton{{Text: "View results", URL: "https://care.example.com/labs/{{labId}}", Style: "primary"}},
	}

	out, err := r.Render(variant, map[string]interface{}{"labId": "L-9"}, nil)
	require.NoError(t, err)
	assert.Contains(t, out.HTML, `href="https://care.example.com/labs/L-9"`)
	assert.Contains(t, out.HTML, "View results")
}

func TestEmailRenderer_SubjectFallsBackToTitle(t *testing.T) {
	r := NewEmailRenderer(DefaultEmailOptions())
	out, err := r.Render(&models.Variant{Title: "Welcome", Body: "Hello"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Welcome", out.Subject)
}

func TestPrepareAttachments(t *testing.T) {
	tests := []struct {
		name        string
		in          models.Attachment
		expectedErr string
		expected    string
	}{
		{
			name:     "sanitizes filename",
			in:       models.Attachment{Filename: "my report (1).pdf", ContentType: "application/pdf", Content: []byte("%PDF")},
			expected: "my_report__1_.pdf",
		},
		{
			name:        "missing filename",
			in:          models.Attachment{ContentType: "application/pdf", Content: []byte("x")},
			expectedErr: "filename is required",
		},
		{
			name:        "missing content",
			in:          models.Attachment{Filename: "a.pdf", ContentType: "application/pdf"},
			expectedErr: "content is required",
		},
		{
			name:        "too large",
			in:          models.Attachment{Filename: "a.pdf", ContentType: "application/pdf", Content: bytes.Repeat([]byte("a"), MaxAttachmentSize+1)},
			expectedErr: "exceeds",
		},
		{
			name:        "disallowed type",
			in:          models.Attachment{Filename: "run.exe", ContentType: "application/x-msdownload", Content: []byte("MZ")},
			expectedErr: "not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := PrepareAttachments([]models.Attachment{tt.in})
			if tt.expectedErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, tt.expected, out[0].Filename)
		})
	}
}
