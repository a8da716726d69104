package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jaytaylor/html2text"

	"github.com/shineum/inkpost/internal/email"
	"github.com/shineum/inkpost/internal/fault"
	"github.com/shineum/inkpost/internal/metrics"
	"github.com/shineum/inkpost/internal/render"
)

// maxNameRunes bounds the length of a filename derived from a subject.
const maxNameRunes = 120

// Source tells where the documents of a message came from.
type Source string

const (
	SourceAttachments Source = "attachments"
	SourceHTML        Source = "html"
)

// Skipped is an attachment that was dropped because its type cannot be
// delivered.
type Skipped struct {
	Filename    string
	ContentType string
}

// Normalized is the outcome of normalizing a message.
type Normalized struct {
	Source    Source
	Documents []email.Document
	Skipped   []Skipped
}

// Normalizer turns an inbound message into documents. Attachments the
// device accepts always win over the HTML body.
type Normalizer struct {
	renderer      render.Renderer
	defaultName   string
	renderTimeout time.Duration
	metrics       *metrics.Metrics
}

// NewNormalizer creates a Normalizer that renders HTML bodies with r.
func NewNormalizer(r render.Renderer, cfg Config, m *metrics.Metrics) *Normalizer {
	cfg = cfg.withDefaults()
	return &Normalizer{
		renderer:      r,
		defaultName:   cfg.DefaultName,
		renderTimeout: cfg.RenderTimeout,
		metrics:       m,
	}
}

// Normalize picks the documents to deliver for msg.
func (n *Normalizer) Normalize(ctx context.Context, msg *email.InboundMessage) (Normalized, error) {
	var out Normalized

	for i, att := range msg.Attachments {
		if !msg.Listed(att) {
			slog.Debug("ignoring attachment not declared in manifest",
				"filename", att.Filename,
				"field", att.Field,
			)
			continue
		}

		kind, ok := detectKind(att)
		if !ok {
			slog.Warn("dropping attachment with unsupported type",
				"filename", att.Filename,
				"content_type", att.ContentType,
			)
			out.Skipped = append(out.Skipped, Skipped{Filename: att.Filename, ContentType: att.ContentType})
			continue
		}

		out.Documents = append(out.Documents, email.Document{
			Filename: n.attachmentName(att.Filename, i, kind),
			Content:  att.Content,
			Kind:     kind,
		})
	}

	if len(out.Documents) > 0 {
		out.Source = SourceAttachments
		return out, nil
	}

	if !hasContent(msg.HTML) {
		return out, fault.New(fault.NoProcessableContent, "message has no supported attachment and no HTML body")
	}

	doc, err := n.render(ctx, msg.Subject, msg.HTML)
	if err != nil {
		return out, err
	}
	out.Source = SourceHTML
	out.Documents = []email.Document{doc}
	return out, nil
}

func (n *Normalizer) render(ctx context.Context, subject, html string) (email.Document, error) {
	if n.renderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.renderTimeout)
		defer cancel()
	}

	start := time.Now()
	pdf, err := n.renderer.Render(ctx, html)
	n.metrics.ObserveRender(time.Since(start))
	if err != nil {
		if fault.Is(err, fault.RenderFailure) {
			return email.Document{}, err
		}
		return email.Document{}, fault.Wrap(fault.RenderFailure, err, "could not render HTML body")
	}

	return email.Document{
		Filename: n.subjectName(subject) + ".pdf",
		Content:  pdf,
		Kind:     email.KindPDF,
	}, nil
}

// subjectName makes a filename stem out of a subject line.
func (n *Normalizer) subjectName(subject string) string {
	if name := sanitizeName(subject); name != "" {
		return name
	}
	return n.defaultName
}

// attachmentName keeps the sender's filename, minus any directories, and
// invents one when it is missing.
func (n *Normalizer) attachmentName(filename string, index int, kind email.Kind) string {
	name := sanitizeName(path.Base(strings.ReplaceAll(filename, `\`, "/")))
	if name == "" || name == "." || name == ".." {
		return fmt.Sprintf("%s-%d.%s", n.defaultName, index+1, kind)
	}
	return name
}

// detectKind classifies an attachment by its declared type, sniffing the
// payload when the sender did not declare anything useful.
func detectKind(att email.Attachment) (email.Kind, bool) {
	mediaType, _, err := mime.ParseMediaType(att.ContentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(att.ContentType))
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		return email.KindOf(mimetype.Detect(att.Content).String())
	}
	return email.KindOf(mediaType)
}

// hasContent reports whether an HTML body would render to something visible.
func hasContent(html string) bool {
	if strings.TrimSpace(html) == "" {
		return false
	}
	if strings.Contains(strings.ToLower(html), "<img") {
		return true
	}
	text, err := html2text.FromString(html, html2text.Options{OmitLinks: true})
	if err != nil {
		return true
	}
	return strings.TrimSpace(text) != ""
}

// sanitizeName strips path separators and control characters, collapses
// whitespace and caps the length.
func sanitizeName(s string) string {
	var b strings.Builder
	space := false
	runes := 0
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case r == '/' || r == '\\' || unicode.IsControl(r):
			continue
		}
		need := 1
		if space && b.Len() > 0 {
			need = 2
		}
		if runes+need > maxNameRunes {
			break
		}
		if need == 2 {
			b.WriteByte(' ')
			runes++
		}
		space = false
		b.WriteRune(r)
		runes++
	}
	return strings.TrimSpace(b.String())
}
