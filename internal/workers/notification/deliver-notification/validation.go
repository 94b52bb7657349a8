package delivernotification

import (
	"notification-workers/internal/common/validation"
	"notification-workers/internal/models"
)

func GetInputSchema() validation.JSONSchema {
	types := make([]string, len(models.TemplateTypes))
	for i, t := range models.TemplateTypes {
		types[i] = string(t)
	}
	channel := validation.Property{Type: "string", Enum: []string{"websocket", "email", "sms"}}

	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"type", "recipients"},
		Properties: map[string]validation.Property{
			"notificationId": {
				Type:        "string",
				Description: "Caller supplied notification id; generated when absent",
				MaxLength:   validation.IntPtr(128),
			},
			"type": {
				Type:        "string",
				Description: "Template type of the business event",
				Enum:        types,
			},
			"recipients": {
				Type:        "array",
				Description: "Users to notify",
				MinItems:    validation.IntPtr(1),
				Items: &validation.Property{
					Type:     "object",
					Required: []string{"userId"},
					Properties: map[string]validation.Property{
						"userId": {Type: "string", MinLength: validation.IntPtr(1)},
						"role":   {Type: "string", Enum: []string{"patient", "doctor", "pharmacy", "admin"}},
						"email":  {Type: "string", Format: "email"},
						"phone":  {Type: "string", Pattern: validation.StringPtr(`^\+[1-9][0-9]{1,14}$`)},
					},
				},
			},
			"data": {
				Type:        "object",
				Description: "Placeholder values for template rendering",
			},
			"language": {
				Type:      "string",
				MinLength: validation.IntPtr(2),
				MaxLength: validation.IntPtr(10),
			},
			"priority": {
				Type: "string",
				Enum: []string{"low", "medium", "high", "critical", "emergency"},
			},
			"channels": {
				Type:  "array",
				Items: &channel,
			},
			"preferences": {
				Type:        "object",
				Description: "Per-channel opt-outs; a missing channel counts as enabled",
			},
			"metadata": {
				Type: "object",
			},
		},
		AdditionalProperties: true,
	}
}
