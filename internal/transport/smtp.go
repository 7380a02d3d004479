package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"github.com/stiffinWanjohi/bulkmail/internal/config"
	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

// SMTP sends through an SMTP server, authenticating as the campaign's
// sender with their app password.
type SMTP struct {
	host    string
	port    int
	ssl     bool
	tls     bool
	timeout time.Duration
}

// NewSMTP creates an SMTP transport.
func NewSMTP(cfg config.SMTPConfig) *SMTP {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	return &SMTP{host: cfg.Host, port: port, ssl: cfg.SSL, tls: cfg.TLS, timeout: 30 * time.Second}
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) Send(ctx context.Context, msg domain.Message) domain.SendResult {
	start := time.Now()

	m, err := s.buildMessage(msg)
	if err != nil {
		return domain.NewFailureResult(0, err.Error(), elapsedMs(start))
	}

	client, err := mail.NewClient(s.host, s.clientOptions(msg.Sender)...)
	if err != nil {
		log.Error("failed to create mail client", "host", s.host, "port", s.port, "error", err)
		return domain.NewFailureResult(0, fmt.Sprintf("failed to create mail client: %v", err), elapsedMs(start))
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		log.Warn("smtp send failed", "host", s.host, "error", err)
		return domain.NewFailureResult(0, err.Error(), elapsedMs(start))
	}

	return domain.NewSuccessResult("smtp-"+uuid.NewString(), 250, elapsedMs(start))
}

func (s *SMTP) buildMessage(msg domain.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if msg.Sender.Name != "" {
		if err := m.FromFormat(msg.Sender.Name, msg.Sender.Email); err != nil {
			return nil, fmt.Errorf("invalid sender address: %w", err)
		}
	} else if err := m.From(msg.Sender.Email); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}

func (s *SMTP) clientOptions(sender domain.SenderIdentity) []mail.Option {
	opts := []mail.Option{
		mail.WithTimeout(s.timeout),
		mail.WithPort(s.port),
	}

	switch {
	case s.ssl:
		// implicit TLS, usually port 465
		opts = append(opts, mail.WithSSLPort(true))
	case s.tls:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if sender.Email != "" && sender.AppPassword != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(sender.Email),
			mail.WithPassword(sender.AppPassword),
		)
	}
	return opts
}
