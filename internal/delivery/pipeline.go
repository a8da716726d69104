// Package delivery turns inbound mail into documents on a tablet: it
// resolves and authorizes the addresses, normalizes the payload and
// uploads every resulting document.
package delivery

import (
	"context"
	"log/slog"
	"time"

	"github.com/shineum/inkpost/internal/address"
	"github.com/shineum/inkpost/internal/device"
	"github.com/shineum/inkpost/internal/email"
	"github.com/shineum/inkpost/internal/fault"
	"github.com/shineum/inkpost/internal/metrics"
	"github.com/shineum/inkpost/internal/notify"
	"github.com/shineum/inkpost/internal/render"
	"github.com/shineum/inkpost/internal/store"
)

const (
	DefaultName             = "Email"
	DefaultAuthorizeTimeout = 5 * time.Second
	DefaultRenderTimeout    = 60 * time.Second
	DefaultUploadTimeout    = 60 * time.Second

	notifyTimeout = 30 * time.Second
)

// Config bounds each stage of a delivery.
type Config struct {
	// DefaultName names rendered documents when the subject is empty.
	DefaultName      string
	AuthorizeTimeout time.Duration
	RenderTimeout    time.Duration
	UploadTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultName == "" {
		c.DefaultName = DefaultName
	}
	if c.AuthorizeTimeout <= 0 {
		c.AuthorizeTimeout = DefaultAuthorizeTimeout
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = DefaultRenderTimeout
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
	return c
}

// Status is the fate of one document.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Result describes one document of a message.
type Result struct {
	Filename string     `json:"filename"`
	Kind     email.Kind `json:"kind,omitempty"`
	Status   Status     `json:"status"`
	Code     fault.Code `json:"code,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Report describes the delivery of one message.
type Report struct {
	DeviceID int64    `json:"deviceId"`
	Source   Source   `json:"source"`
	Results  []Result `json:"results"`
}

// Count returns how many results have status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Pipeline runs the delivery stages for one message at a time. It holds no
// per-message state and is safe for concurrent use.
type Pipeline struct {
	cfg        Config
	authorizer *Authorizer
	normalizer *Normalizer
	dispatcher *Dispatcher
	notifier   notify.Notifier
	metrics    *metrics.Metrics
}

// New assembles a Pipeline. A nil notifier disables receipts and a nil
// metrics set records nothing.
func New(dir Directory, r render.Renderer, api device.API, n notify.Notifier, m *metrics.Metrics, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	if n == nil {
		n = notify.Nop{}
	}
	return &Pipeline{
		cfg:        cfg,
		authorizer: NewAuthorizer(dir),
		normalizer: NewNormalizer(r, cfg, m),
		dispatcher: NewDispatcher(api, cfg, m),
		notifier:   n,
		metrics:    m,
	}
}

// Deliver runs msg through every stage. Documents are uploaded
// independently and reported one by one; an error is returned only when a
// stage before the upload failed or no document was delivered.
func (p *Pipeline) Deliver(ctx context.Context, msg *email.InboundMessage) (*Report, error) {
	pair, err := address.Resolve(msg.From, msg.To)
	if err != nil {
		p.metrics.Message(string(fault.CodeOf(err)))
		return nil, err
	}

	dev, err := p.authorize(ctx, pair)
	if err != nil {
		p.metrics.Message(string(fault.CodeOf(err)))
		slog.Info("delivery refused",
			"from", pair.From.String(),
			"to", pair.To.String(),
			"code", fault.CodeOf(err),
		)
		return nil, err
	}

	receipt := notify.Receipt{
		To:            pair.From.String(),
		DeviceAddress: pair.To.String(),
		Subject:       msg.Subject,
	}

	normalized, err := p.normalizer.Normalize(ctx, msg)
	if err != nil {
		p.metrics.Message(string(fault.CodeOf(err)))
		receipt.Problem = fault.MessageOf(err)
		p.sendReceipt(ctx, receipt)
		return nil, err
	}

	report := &Report{DeviceID: dev.ID, Source: normalized.Source}

	for _, s := range normalized.Skipped {
		report.Results = append(report.Results, Result{
			Filename: s.Filename,
			Status:   StatusSkipped,
			Code:     fault.UnsupportedDocumentKind,
			Error:    "unsupported content type " + s.ContentType,
		})
		receipt.Skipped = append(receipt.Skipped, s.Filename)
		p.metrics.Document("", string(StatusSkipped))
	}

	var firstErr error
	for _, doc := range normalized.Documents {
		err := p.dispatcher.Dispatch(ctx, dev.Token, doc)
		if err != nil {
			slog.Warn("document upload failed",
				"device_id", dev.ID,
				"filename", doc.Filename,
				"kind", doc.Kind,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			report.Results = append(report.Results, Result{
				Filename: doc.Filename,
				Kind:     doc.Kind,
				Status:   StatusFailed,
				Code:     fault.CodeOf(err),
				Error:    fault.MessageOf(err),
			})
			receipt.Failed = append(receipt.Failed, notify.Failure{Filename: doc.Filename, Reason: fault.MessageOf(err)})
			p.metrics.Document(string(doc.Kind), string(StatusFailed))
			continue
		}

		report.Results = append(report.Results, Result{
			Filename: doc.Filename,
			Kind:     doc.Kind,
			Status:   StatusDelivered,
		})
		receipt.Delivered = append(receipt.Delivered, doc.Filename)
		p.metrics.Document(string(doc.Kind), string(StatusDelivered))
	}

	delivered := report.Count(StatusDelivered)
	failed := report.Count(StatusFailed)

	switch {
	case delivered == 0:
		p.metrics.Message(string(fault.CodeOf(firstErr)))
	case failed > 0:
		p.metrics.Message(metrics.OutcomePartial)
	default:
		p.metrics.Message(metrics.OutcomeDelivered)
	}

	slog.Info("message processed",
		"device_id", dev.ID,
		"source", report.Source,
		"delivered", delivered,
		"failed", failed,
		"skipped", report.Count(StatusSkipped),
	)

	p.sendReceipt(ctx, receipt)

	if delivered == 0 {
		return report, firstErr
	}
	return report, nil
}

func (p *Pipeline) authorize(ctx context.Context, pair address.Pair) (*store.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.AuthorizeTimeout)
	defer cancel()
	return p.authorizer.Authorize(ctx, pair)
}

// sendReceipt notifies the sender. It outlives a cancelled request so a
// client hanging up does not swallow the receipt.
func (p *Pipeline) sendReceipt(ctx context.Context, r notify.Receipt) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := p.notifier.Notify(ctx, r); err != nil {
		slog.Warn("failed to send receipt",
			"notifier", p.notifier.Name(),
			"to", r.To,
			"error", err,
		)
	}
}
