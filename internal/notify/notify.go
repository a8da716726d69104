// Package notify defines how senders are told what happened to their mail.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/jaytaylor/html2text"
)

// Notifier is the interface that receipt backends must implement.
type Notifier interface {
	// Notify sends r to r.To. Failures are reported but never affect the
	// delivery they describe.
	Notify(ctx context.Context, r Receipt) error

	// Name returns the human-readable name of this notifier.
	Name() string
}

// Failure is a document that could not be delivered.
type Failure struct {
	Filename string
	Reason   string
}

// Receipt summarises the delivery of one inbound message.
type Receipt struct {
	To            string
	DeviceAddress string
	Subject       string
	Delivered     []string
	Skipped       []string
	Failed        []Failure
	// Problem is set when the message failed before any document was
	// attempted.
	Problem string
}

// OK reports whether every attempted document was delivered.
func (r Receipt) OK() bool {
	return r.Problem == "" && len(r.Failed) == 0 && len(r.Delivered) > 0
}

// Title is the subject line of the receipt.
func (r Receipt) Title() string {
	subject := r.Subject
	if subject == "" {
		subject = "your message"
	}
	switch {
	case r.OK():
		return fmt.Sprintf("Delivered: %s", subject)
	case len(r.Delivered) > 0:
		return fmt.Sprintf("Partially delivered: %s", subject)
	default:
		return fmt.Sprintf("Not delivered: %s", subject)
	}
}

var receiptTemplate = template.Must(template.New("receipt").Parse(`<html><body>
<p>Your message to <b>{{.DeviceAddress}}</b> was processed.</p>
{{if .Problem}}<p>It could not be delivered: {{.Problem}}</p>{{end}}
{{if .Delivered}}<p>Sent to your device:</p>
<ul>{{range .Delivered}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .Failed}}<p>Failed:</p>
<ul>{{range .Failed}}<li>{{.Filename}}: {{.Reason}}</li>{{end}}</ul>{{end}}
{{if .Skipped}}<p>Ignored (unsupported type):</p>
<ul>{{range .Skipped}}<li>{{.}}</li>{{end}}</ul>{{end}}
</body></html>`))

// HTML renders the receipt body.
func (r Receipt) HTML() (string, error) {
	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, r); err != nil {
		return "", fmt.Errorf("failed to render receipt: %w", err)
	}
	return buf.String(), nil
}

// Text renders the plain-text alternative of HTML.
func (r Receipt) Text() (string, error) {
	body, err := r.HTML()
	if err != nil {
		return "", err
	}
	text, err := html2text.FromString(body, html2text.Options{OmitLinks: true})
	if err != nil {
		return "", fmt.Errorf("failed to convert receipt to text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Nop discards receipts.
type Nop struct{}

func (Nop) Notify(context.Context, Receipt) error { return nil }

func (Nop) Name() string { return "none" }
