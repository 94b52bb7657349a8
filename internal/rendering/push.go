package rendering

import (
	"fmt"

	"notification-workers/internal/models"
)

// RenderedPush is the payload content for in-app socket notifications.
type RenderedPush struct {
	Title      string `json:"title"`
	Message    string `json:"message"`
	ActionURL  string `json:"actionUrl,omitempty"`
	ActionText string `json:"actionText,omitempty"`
}

type PushRenderer struct{}

func NewPushRenderer() *PushRenderer { return &PushRenderer{} }

func (r *PushRenderer) Render(v *models.Variant, data map[string]interface{}) (*RenderedPush, error) {
	if v == nil {
		return nil, fmt.Errorf("render push: nil variant")
	}
	out := &RenderedPush{
		Title:   Interpolate(v.Title, data),
		Message: compactWhitespace(Interpolate(v.Body, data)),
	}
	if len(v.Actions) > 0 {
		out.ActionURL = Interpolate(v.Actions[0].URL, data)
		out.ActionText = Interpolate(v.Actions[0].Text, data)
	}
	return out, nil
}
