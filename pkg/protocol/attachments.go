package protocol

import "strings"

// Attachment references an uploaded asset by URL with a MIME-derived type
// tag the backend understands.
type Attachment struct {
	Type string `json:"type"` // image_url, file_url or audio_url
	URL  string `json:"url"`
}

const (
	AttachmentImage = "image_url"
	AttachmentFile  = "file_url"
	AttachmentAudio = "audio_url"
)

// AttachmentTypeForMIME maps a MIME type onto the backend's type tag.
// Anything that is not an image or audio type is a generic file.
func AttachmentTypeForMIME(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return AttachmentImage
	case strings.HasPrefix(mime, "audio/"):
		return AttachmentAudio
	default:
		return AttachmentFile
	}
}

// ImageAttachments wraps image URLs into typed attachments.
func ImageAttachments(urls []string) []Attachment {
	out := make([]Attachment, 0, len(urls))
	for _, u := range urls {
		out = append(out, Attachment{Type: AttachmentImage, URL: u})
	}
	return out
}

// FileAttachments wraps file URLs into typed attachments.
func FileAttachments(urls []string) []Attachment {
	out := make([]Attachment, 0, len(urls))
	for _, u := range urls {
		out = append(out, Attachment{Type: AttachmentFile, URL: u})
	}
	return out
}
