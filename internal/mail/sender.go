package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"portalbridge/internal/config"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/mail")

// Sender delivers a single message.
//
// note: fault injection point
type Sender interface {
	Send(ctx context.Context, m Message) error
}

type SMTPSender struct {
	config config.SMTP
	from   string
}

// NewSMTPSender creates a sender, from is used for messages without a From.
func NewSMTPSender(cfg config.SMTP, from string) SMTPSender {
	return SMTPSender{config: cfg, from: from}
}

func (s SMTPSender) addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

func (s SMTPSender) auth() smtp.Auth {
	if s.config.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
}

func (s SMTPSender) deliver(e *email.Email, auth smtp.Auth) error {
	tlsConfig := &tls.Config{ServerName: s.config.Host}
	switch s.config.Security {
	case "tls":
		return e.SendWithTLS(s.addr(), auth, tlsConfig)
	case "starttls":
		return e.SendWithStartTLS(s.addr(), auth, tlsConfig)
	default:
		return e.Send(s.addr(), auth)
	}
}

func (s SMTPSender) compose(ctx context.Context, m Message) (*email.Email, error) {
	e := email.NewEmail()
	e.From = m.From
	if e.From == "" {
		e.From = s.from
	}
	e.To = m.To
	if m.ReplyTo != "" {
		e.ReplyTo = []string{m.ReplyTo}
	}
	e.Subject = m.Subject
	if m.Text != "" {
		e.Text = []byte(m.Text)
	}
	if m.HTML != "" {
		e.HTML = []byte(m.HTML)
	}
	if m.MessageID != "" {
		e.Headers.Set("Message-Id", m.MessageID)
	}
	if m.InReplyTo != "" {
		e.Headers.Set("In-Reply-To", m.InReplyTo)
	}
	if len(m.References) > 0 {
		e.Headers.Set("References", strings.Join(m.References, " "))
	}

	for _, a := range m.Attachments {
		data, err := a.Content(ctx)
		if err != nil {
			return nil, err
		}
		_, err = e.Attach(bytes.NewReader(data), a.Name, a.ContentType)
		if err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Name, err)
		}
	}
	return e, nil
}

func (s SMTPSender) Send(ctx context.Context, m Message) error {
	ctx, span := tracer.Start(ctx, "Send")
	defer span.End()

	err := m.Validate()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed message")
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e, err := s.compose(ctx, m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to compose email")
		return err
	}

	err = s.deliver(e, s.auth())
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = s.deliver(e, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}
