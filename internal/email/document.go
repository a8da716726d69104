package email

import (
	"mime"
	"strings"
)

// Kind is the container format of a document accepted by the device.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindEPUB Kind = "epub"
)

const (
	contentTypePDF  = "application/pdf"
	contentTypeEPUB = "application/epub+zip"
)

// ContentType returns the MIME type the device API expects for k, or an
// empty string for unsupported kinds.
func (k Kind) ContentType() string {
	switch k {
	case KindPDF:
		return contentTypePDF
	case KindEPUB:
		return contentTypeEPUB
	default:
		return ""
	}
}

// Supported reports whether k is one of the two accepted kinds.
func (k Kind) Supported() bool {
	return k.ContentType() != ""
}

// KindOf maps a declared MIME type to a Kind. Parameters are ignored and the
// comparison is case-insensitive. ok is false for anything unsupported.
func KindOf(contentType string) (Kind, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case contentTypePDF:
		return KindPDF, true
	case contentTypeEPUB:
		return KindEPUB, true
	default:
		return "", false
	}
}

// Document is a finished payload ready for upload.
type Document struct {
	Filename string
	Content  []byte
	Kind     Kind
}
