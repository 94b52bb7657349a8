package rendering

import (
	"fmt"
	"regexp"
	"strings"

	"notification-workers/internal/models"
)

// MaxAttachmentSize is the per-attachment size cap.
const MaxAttachmentSize = 10 * 1024 * 1024

// AllowedAttachmentTypes is the MIME allow-list for email attachments.
var AllowedAttachmentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"text/plain":         true,
	"text/csv":           true,
	"text/calendar":      true,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename replaces every character outside [A-Za-z0-9._-] with '_'.
func SanitizeFilename(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}

// PrepareAttachments validates attachments and returns sanitized copies.
func PrepareAttachments(in []models.Attachment) ([]models.Attachment, error) {
	out := make([]models.Attachment, 0, len(in))
	for i, a := range in {
		if strings.TrimSpace(a.Filename) == "" {
			return nil, fmt.Errorf("attachment %d: filename is required", i)
		}
		if len(a.Content) == 0 {
			return nil, fmt.Errorf("attachment %q: content is required", a.Filename)
		}
		if len(a.Content) > MaxAttachmentSize {
			return nil, fmt.Errorf("attachment %q: size %d exceeds %d bytes", a.Filename, len(a.Content), MaxAttachmentSize)
		}
		contentType := strings.ToLower(strings.TrimSpace(a.ContentType))
		if !AllowedAttachmentTypes[contentType] {
			return nil, fmt.Errorf("attachment %q: content type %q is not allowed", a.Filename, a.ContentType)
		}
		out = append(out, models.Attachment{
			Filename:    SanitizeFilename(a.Filename),
			ContentType: contentType,
			Content:     a.Content,
		})
	}
	return out, nil
}
