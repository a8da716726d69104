package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/shineum/inkpost/internal/delivery"
	"github.com/shineum/inkpost/internal/email"
	"github.com/shineum/inkpost/internal/parser"
)

// attachmentInfo is one entry of the inbound-parse attachment manifest.
type attachmentInfo struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
}

type jsonAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type jsonWebhook struct {
	From           string                    `json:"from"`
	To             string                    `json:"to"`
	Subject        string                    `json:"subject"`
	HTML           string                    `json:"html"`
	Text           string                    `json:"text"`
	Attachments    []jsonAttachment          `json:"attachments"`
	AttachmentInfo map[string]attachmentInfo `json:"attachmentInfo"`
}

type webhookResponse struct {
	Message string           `json:"message"`
	Report  *delivery.Report `json:"report"`
}

func (s *Server) handleWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)

	var (
		msg *email.InboundMessage
		err error
	)
	switch c.ContentType() {
	case gin.MIMEMultipartPOSTForm:
		msg, err = readMultipartWebhook(c)
	case gin.MIMEJSON:
		msg, err = readJSONWebhook(c.Request.Body)
	default:
		c.JSON(http.StatusUnsupportedMediaType, errorBody{
			Error:   "unsupported_media_type",
			Message: "expected multipart/form-data or application/json",
		})
		return
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorBody{Error: "too_large", Message: "request body too large"})
			return
		}
		badRequest(c, err.Error())
		return
	}

	report, err := s.pipeline.Deliver(c.Request.Context(), msg)
	if err != nil {
		writeError(c, err)
		return
	}

	if report.Count(delivery.StatusFailed) > 0 {
		c.JSON(http.StatusMultiStatus, webhookResponse{Message: "Document partially processed", Report: report})
		return
	}
	c.JSON(http.StatusOK, webhookResponse{Message: "Document processed successfully", Report: report})
}

// readMultipartWebhook reads an inbound-parse form post. When the form
// carries the full MIME message in "email", it is parsed and the envelope
// fields take precedence over its headers.
func readMultipartWebhook(c *gin.Context) (*email.InboundMessage, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}

	charsets := map[string]string{}
	if raw := formValue(form, "charsets"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &charsets); err != nil {
			return nil, fmt.Errorf("invalid charsets: %w", err)
		}
	}
	field := func(name string) string {
		return decodeCharset(formValue(form, name), charsets[name])
	}

	if raw := formValue(form, "email"); raw != "" {
		msg, err := parser.Parse([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid raw email: %w", err)
		}
		if to := field("to"); to != "" {
			msg.To = to
		}
		if from := field("from"); from != "" {
			msg.From = from
		}
		return msg, nil
	}

	msg := &email.InboundMessage{
		From:    field("from"),
		To:      field("to"),
		Subject: field("subject"),
		HTML:    field("html"),
		Text:    field("text"),
	}

	var info map[string]attachmentInfo
	if raw := formValue(form, "attachment-info"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			return nil, fmt.Errorf("invalid attachment-info: %w", err)
		}
		msg.Manifest = manifest(info)
	}

	for _, name := range fileFields(form) {
		for _, fh := range form.File[name] {
			att, err := readFormFile(name, fh, info[name])
			if err != nil {
				return nil, err
			}
			msg.Attachments = append(msg.Attachments, att)
		}
	}
	return msg, nil
}

func readJSONWebhook(body io.Reader) (*email.InboundMessage, error) {
	var req jsonWebhook
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	msg := &email.InboundMessage{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		HTML:    req.HTML,
		Text:    req.Text,
	}
	if req.AttachmentInfo != nil {
		msg.Manifest = manifest(req.AttachmentInfo)
	}

	for i, a := range req.Attachments {
		content, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			return nil, fmt.Errorf("attachment %d: invalid base64 content: %w", i+1, err)
		}
		msg.Attachments = append(msg.Attachments, email.Attachment{
			Field:       "attachment" + strconv.Itoa(i+1),
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     content,
		})
	}
	return msg, nil
}

func readFormFile(field string, fh *multipart.FileHeader, info attachmentInfo) (email.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return email.Attachment{}, fmt.Errorf("could not open %s: %w", field, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return email.Attachment{}, fmt.Errorf("could not read %s: %w", field, err)
	}

	filename := fh.Filename
	if filename == "" {
		filename = info.Filename
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if info.Type != "" {
			contentType = info.Type
		}
	}
	return email.Attachment{
		Field:       field,
		Filename:    filename,
		ContentType: contentType,
		Content:     content,
	}, nil
}

func manifest(info map[string]attachmentInfo) map[string]string {
	m := make(map[string]string, len(info))
	for field, entry := range info {
		m[field] = entry.Filename
	}
	return m
}

// fileFields returns the file field names with attachmentN fields first in
// numeric order, then any others alphabetically.
func fileFields(form *multipart.Form) []string {
	names := make([]string, 0, len(form.File))
	for name := range form.File {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ni, iok := attachmentIndex(names[i])
		nj, jok := attachmentIndex(names[j])
		switch {
		case iok && jok:
			return ni < nj
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})
	return names
}

func attachmentIndex(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "attachment")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	return n, err == nil
}

func formValue(form *multipart.Form, name string) string {
	if v := form.Value[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// decodeCharset converts a form value posted in the named charset to UTF-8.
// Unknown labels leave the value unchanged.
func decodeCharset(value, label string) string {
	if value == "" || label == "" || strings.EqualFold(label, "utf-8") {
		return value
	}
	r, err := htmlcharset.NewReaderLabel(label, strings.NewReader(value))
	if err != nil {
		return value
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return value
	}
	return string(decoded)
}
