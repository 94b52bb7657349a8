package resolvetemplate

import (
	"notification-workers/internal/common/validation"
	"notification-workers/internal/models"
)

func GetInputSchema() validation.JSONSchema {
	types := make([]string, len(models.TemplateTypes))
	for i, t := range models.TemplateTypes {
		types[i] = string(t)
	}
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"type", "channel", "role"},
		Properties: map[string]validation.Property{
			"type":     {Type: "string", Enum: types},
			"channel":  {Type: "string", Enum: []string{"websocket", "email", "sms"}},
			"role":     {Type: "string", Enum: []string{"patient", "doctor", "pharmacy", "admin"}},
			"language": {Type: "string", MaxLength: validation.IntPtr(10)},
		},
		AdditionalProperties: true,
	}
}
