// Package transport delivers one rendered message to one recipient.
//
// Transports never return errors: every outcome, including a network
// failure or a rejected credential, is reported through domain.SendResult.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/stiffinWanjohi/bulkmail/internal/config"
	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
	"github.com/stiffinWanjohi/bulkmail/internal/observability"
)

var log = logging.Component("transport")

// Transport sends a single message.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg domain.Message) domain.SendResult
}

// Connection test message.
const (
	TestSubject = "Test Email Connection"
	TestBody    = "<h1>Connection Test Successful</h1><p>Your email configuration is working correctly!</p>"
)

// TestConnection sends the fixed test message from the sender to itself.
func TestConnection(ctx context.Context, t Transport, sender domain.SenderIdentity) domain.ConnectionState {
	if !sender.Complete() {
		return domain.ConnectionFailed{Detail: "sender email and app password are required"}
	}

	log.Info("testing connection", "transport", t.Name(), "sender", logging.RedactEmail(sender.Email))

	res := t.Send(ctx, domain.Message{
		Sender:    sender,
		To:        sender.Email,
		Subject:   TestSubject,
		HTML:      TestBody,
		Variables: map[string]string{},
	})
	if !res.Success {
		log.Warn("connection test failed", "transport", t.Name(), "error", res.Error)
		return domain.ConnectionFailed{Detail: res.Error}
	}
	return domain.ConnectionOK{}
}

// New builds the transport selected by cfg.Provider, wrapped with the
// configured per-send timeout. The HTTP transport forwards trace context
// through tracer, which may be nil.
func New(ctx context.Context, cfg config.TransportConfig, tracer *observability.Tracer) (Transport, error) {
	var (
		t   Transport
		err error
	)
	switch cfg.Provider {
	case config.ProviderHTTP, "":
		t = NewHTTPAPI(cfg.HTTP.URL).WithTracer(tracer)
	case config.ProviderSMTP:
		t = NewSMTP(cfg.SMTP)
	case config.ProviderSES:
		t, err = NewSES(ctx, cfg.SES)
	case config.ProviderResend:
		t = NewResend(cfg.Resend.APIKey)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTransport, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(t, cfg.Timeout), nil
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
