package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/shineum/inkpost/internal/address"
	"github.com/shineum/inkpost/internal/delivery"
	"github.com/shineum/inkpost/internal/email"
	"github.com/shineum/inkpost/internal/fault"
	"github.com/shineum/inkpost/internal/parser"
)

// Deliverer runs one inbound message through the delivery pipeline.
// *delivery.Pipeline satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, msg *email.InboundMessage) (*delivery.Report, error)
}

var (
	errTooManyRecipients = &smtp.SMTPError{
		Code:         452,
		EnhancedCode: smtp.EnhancedCode{4, 5, 3},
		Message:      "Only one recipient per message",
	}
	errUnparseable = &smtp.SMTPError{
		Code:         550,
		EnhancedCode: smtp.EnhancedCode{5, 6, 0},
		Message:      "Failed to process message",
	}
)

// Backend creates a session per SMTP connection.
type Backend struct {
	ctx      context.Context
	pipeline Deliverer
	domain   string
	auth     *Authenticator
}

// NewBackend returns a backend accepting mail for domain. ctx bounds every
// delivery started by its sessions.
func NewBackend(ctx context.Context, pipeline Deliverer, domain string, auth *Authenticator) *Backend {
	return &Backend{
		ctx:      ctx,
		pipeline: pipeline,
		domain:   strings.ToLower(domain),
		auth:     auth,
	}
}

func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	slog.Debug("smtp connection opened", "remote", c.Conn().RemoteAddr().String())
	return &Session{backend: b}, nil
}

// Session holds one mail transaction at a time.
type Session struct {
	backend       *Backend
	authenticated bool

	mailFrom string
	rcptTo   string
}

var _ smtp.AuthSession = (*Session)(nil)

// AuthMechanisms advertises PLAIN only when credentials are configured.
func (s *Session) AuthMechanisms() []string {
	if !s.backend.auth.Enabled() {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *Session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.auth.Enabled() || mech != sasl.Plain {
		return nil, smtp.ErrAuthUnsupported
	}
	return s.backend.auth.plainServer(func() { s.authenticated = true }), nil
}

func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	if s.backend.auth.Enabled() && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	slog.Debug("> MAIL", "from", from)

	s.mailFrom = from
	s.rcptTo = ""
	return nil
}

func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	slog.Debug("> RCPT", "to", to)

	if s.rcptTo != "" {
		return errTooManyRecipients
	}

	mbox, err := address.Parse(to)
	if err != nil {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 3},
			Message:      "Bad recipient address syntax",
		}
	}
	if mbox.Domain != s.backend.domain {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 2},
			Message:      "Relay not permitted for " + mbox.Domain,
		}
	}

	s.rcptTo = mbox.String()
	return nil
}

func (s *Session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		slog.Warn("failed to parse message", "from", s.mailFrom, "error", err)
		return errUnparseable
	}

	// The envelope recipient is authoritative: the To header may list
	// other people or be missing when the message was Bcc'd.
	msg.To = s.rcptTo
	if strings.TrimSpace(msg.From) == "" {
		msg.From = s.mailFrom
	}

	report, err := s.backend.pipeline.Deliver(s.backend.ctx, msg)
	if err != nil {
		slog.Info("smtp delivery rejected",
			"from", s.mailFrom,
			"to", s.rcptTo,
			"code", fault.CodeOf(err),
			"error", err,
		)
		return replyFor(err)
	}

	slog.Info("smtp message delivered",
		"from", s.mailFrom,
		"to", s.rcptTo,
		"delivered", report.Count(delivery.StatusDelivered),
		"failed", report.Count(delivery.StatusFailed),
	)
	return nil
}

func (s *Session) Reset() {
	s.mailFrom = ""
	s.rcptTo = ""
}

func (s *Session) Logout() error {
	return nil
}

// replyFor maps a pipeline failure to an SMTP reply. Failures that may
// succeed on retry become 451 so the sending MTA queues the message.
func replyFor(err error) *smtp.SMTPError {
	if errors.Is(err, context.Canceled) {
		return &smtp.SMTPError{
			Code:         421,
			EnhancedCode: smtp.EnhancedCode{4, 3, 2},
			Message:      "Service shutting down",
		}
	}

	code := fault.CodeOf(err)
	if fault.Temporary(code) {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary failure, please try again later",
		}
	}

	enhanced := smtp.EnhancedCode{5, 6, 0}
	switch code {
	case fault.MalformedAddress:
		enhanced = smtp.EnhancedCode{5, 1, 7}
	case fault.UnknownOrUnverifiedSender:
		enhanced = smtp.EnhancedCode{5, 7, 1}
	case fault.UnregisteredOrForeignDevice:
		enhanced = smtp.EnhancedCode{5, 1, 1}
	}
	return &smtp.SMTPError{
		Code:         550,
		EnhancedCode: enhanced,
		Message:      fault.MessageOf(err),
	}
}
