package mailer

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	mimeOctetStream    = "application/octet-stream"
	mimeDetectionBytes = 512
)

// extensionTypes covers common attachment types whose registration in the
// system mime tables varies between platforms.
var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".html": "text/html",
	".ics":  "text/calendar",
	".json": "application/json",
	".xml":  "application/xml",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
}

// AttachmentSource tells whether an attachment came from a file path or raw bytes.
type AttachmentSource string

const (
	SourceFile AttachmentSource = "file"
	SourceData AttachmentSource = "data"
)

// AttachOptions overrides the inferred filename and MIME type of an attachment.
type AttachOptions struct {
	As   string `json:"as,omitempty"`
	Mime string `json:"mime,omitempty"`
}

// Attachment is a file attached to or embedded in a message.
// File attachments carry a Path until the message is finalized, at which point Content is loaded.
type Attachment struct {
	Source      AttachmentSource
	Path        string
	Filename    string
	ContentType string
	ContentID   string // set for inline attachments, without the "cid:" prefix
	Content     []byte
	Inline      bool
}

// resolve loads file content and fills in the filename and MIME type.
func (a Attachment) resolve() (Attachment, error) {
	if a.Source == SourceFile && a.Content == nil {
		data, err := os.ReadFile(a.Path)
		if err != nil {
			return a, errors.Join(ErrAttachmentUnreadable, err)
		}
		a.Content = data
	}
	if a.Filename == "" && a.Path != "" {
		a.Filename = filepath.Base(a.Path)
	}
	if a.ContentType == "" {
		a.ContentType = DetectContentType(a.Filename, a.Content)
	}
	return a, nil
}

// DetectContentType infers a MIME type from the filename extension,
// falling back to content sniffing.
func DetectContentType(filename string, content []byte) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	if len(content) == 0 {
		return mimeOctetStream
	}
	sample := content[:min(len(content), mimeDetectionBytes)]
	ct := http.DetectContentType(sample)
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		if strings.HasPrefix(mediaType, "text/") {
			return ct
		}
		return mediaType
	}
	return mimeOctetStream
}
