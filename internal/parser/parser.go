// Package parser turns a raw RFC 5322 message, as received over SMTP, into
// an inbound message for the delivery pipeline.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/shineum/inkpost/internal/email"
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Parse parses a raw message. Nested multiparts are walked; the first
// text/plain and text/html bodies are kept and every attachment part is
// collected in order. Transfer encodings and charsets are decoded.
func Parse(raw []byte) (*email.InboundMessage, error) {
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if err != nil {
		slog.Warn("message uses an unknown charset, continuing with raw bytes", "error", err)
	}

	mediaType, params, _ := reader.Header.ContentType()
	if strings.HasPrefix(mediaType, "multipart/") && params["boundary"] == "" {
		return nil, fmt.Errorf("multipart message missing boundary")
	}

	result := &email.InboundMessage{
		From:    reader.Header.Get("From"),
		To:      reader.Header.Get("To"),
		Subject: decodeSubject(&reader.Header),
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !gomessage.IsUnknownCharset(err) {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}
		if part == nil {
			continue
		}

		switch header := part.Header.(type) {
		case *gomail.InlineHeader:
			readInline(part, header, result)
		case *gomail.AttachmentHeader:
			if att, ok := readAttachment(part, header); ok {
				result.Attachments = append(result.Attachments, att)
			}
		}
	}

	return result, nil
}

func readInline(part *gomail.Part, header *gomail.InlineHeader, result *email.InboundMessage) {
	mediaType, _, err := header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}

	content, err := io.ReadAll(part.Body)
	if err != nil {
		slog.Warn("failed to read part content",
			"content_type", mediaType,
			"error", err,
		)
		return
	}

	switch mediaType {
	case "text/plain":
		if result.Text == "" {
			result.Text = string(content)
		}
	case "text/html":
		if result.HTML == "" {
			result.HTML = string(content)
		}
	default:
		slog.Debug("skipping inline MIME part",
			"content_type", mediaType,
			"disposition", header.Get("Content-Disposition"),
		)
	}
}

func readAttachment(part *gomail.Part, header *gomail.AttachmentHeader) (email.Attachment, bool) {
	mediaType, params, err := header.ContentType()
	if err != nil {
		slog.Warn("failed to parse attachment content type",
			"content_type", header.Get("Content-Type"),
			"error", err,
		)
	}

	content, err := io.ReadAll(part.Body)
	if err != nil {
		slog.Warn("failed to read attachment content",
			"content_type", mediaType,
			"error", err,
		)
		return email.Attachment{}, false
	}

	return email.Attachment{
		Filename:    attachmentFilename(header, mediaType, params),
		ContentType: mediaType,
		Content:     content,
	}, true
}

// attachmentFilename prefers the Content-Disposition filename, then the
// Content-Type name parameter, and finally derives one from the media type.
func attachmentFilename(header *gomail.AttachmentHeader, mediaType string, params map[string]string) string {
	if fn, err := header.Filename(); err == nil && fn != "" {
		return fn
	}
	if name := params["name"]; name != "" {
		if decoded, err := new(mime.WordDecoder).DecodeHeader(name); err == nil {
			return decoded
		}
		return name
	}
	if parts := strings.SplitN(mediaType, "/", 2); len(parts) == 2 && parts[1] != "" {
		return "attachment." + parts[1]
	}
	return "attachment"
}

func decodeSubject(h *gomail.Header) string {
	subject, err := h.Subject()
	if err != nil {
		return h.Get("Subject")
	}
	return subject
}
