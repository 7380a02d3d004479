package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/resend/resend-go/v3"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

type resendAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Resend sends through the Resend API. Like SES, the sender's address must
// belong to a verified domain.
type Resend struct {
	emails resendAPI
}

// NewResend creates a Resend transport.
func NewResend(apiKey string) *Resend {
	return &Resend{emails: resend.NewClient(apiKey).Emails}
}

func (r *Resend) Name() string { return "resend" }

func (r *Resend) Send(ctx context.Context, msg domain.Message) domain.SendResult {
	start := time.Now()

	from := msg.Sender.Email
	if msg.Sender.Name != "" {
		from = fmt.Sprintf("%s <%s>", msg.Sender.Name, msg.Sender.Email)
	}

	resp, err := r.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		log.Warn("resend send failed", "error", err)
		return domain.NewFailureResult(0, fmt.Sprintf("resend: %v", err), elapsedMs(start))
	}

	id := ""
	if resp != nil {
		id = resp.Id
	}
	return domain.NewSuccessResult(id, http.StatusOK, elapsedMs(start))
}
