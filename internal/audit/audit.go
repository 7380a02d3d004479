// Package audit persists campaigns and per-recipient delivery results.
package audit

import (
	"context"

	"github.com/google/uuid"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
)

var log = logging.Component("audit")

// Entry is the result of one send within a campaign.
type Entry struct {
	CampaignID uuid.UUID
	Position   int
	Outcome    domain.SendOutcome
}

// Recorder writes campaign history.
type Recorder interface {
	// Begin stores a new campaign and its pending recipients.
	Begin(ctx context.Context, c domain.Campaign, recipients []domain.RecipientEntry) error
	// Record stores the outcome of one send.
	Record(ctx context.Context, e Entry) error
	// Finish stores final counts and the terminal status.
	Finish(ctx context.Context, c domain.Campaign) error
}

// Reader reads campaign history.
type Reader interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Campaign, error)
	ListFailures(ctx context.Context, id uuid.UUID) ([]domain.FailedRecipient, error)
	ListLogs(ctx context.Context, id uuid.UUID) ([]domain.LogEntry, error)
}

// logMessage is the log line stored for an outcome.
func logMessage(o domain.SendOutcome) string {
	if o.Success {
		return "email sent"
	}
	return o.Error
}
