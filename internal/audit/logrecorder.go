package audit

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
)

// LogRecorder writes campaign history to the log and keeps it in memory.
// It serves local runs that have no database.
type LogRecorder struct {
	mu         sync.RWMutex
	campaigns  map[uuid.UUID]domain.Campaign
	recipients map[uuid.UUID][]domain.RecipientEntry
	logs       map[uuid.UUID][]domain.LogEntry
}

// NewLogRecorder creates an empty recorder.
func NewLogRecorder() *LogRecorder {
	return &LogRecorder{
		campaigns:  make(map[uuid.UUID]domain.Campaign),
		recipients: make(map[uuid.UUID][]domain.RecipientEntry),
		logs:       make(map[uuid.UUID][]domain.LogEntry),
	}
}

func (r *LogRecorder) Begin(ctx context.Context, c domain.Campaign, recipients []domain.RecipientEntry) error {
	rows := make([]domain.RecipientEntry, len(recipients))
	for i, rec := range recipients {
		rec.CampaignID = c.ID
		if rec.Status == "" {
			rec.Status = domain.RecipientStatusPending
		}
		rows[i] = rec
	}

	c.Sender = c.Sender.Redacted()
	r.mu.Lock()
	r.campaigns[c.ID] = c
	r.recipients[c.ID] = rows
	r.mu.Unlock()

	log.Info("campaign started",
		"campaign_id", c.ID,
		"sender", logging.RedactEmail(c.Sender.Email),
		"recipients", len(recipients),
	)
	return nil
}

func (r *LogRecorder) Record(ctx context.Context, e Entry) error {
	status := e.Outcome.RecipientStatus()

	r.mu.Lock()
	if _, ok := r.campaigns[e.CampaignID]; !ok {
		r.mu.Unlock()
		return domain.ErrCampaignNotFound
	}
	rows := r.recipients[e.CampaignID]
	if e.Position >= 0 && e.Position < len(rows) {
		rows[e.Position].Status = status
		rows[e.Position].Error = e.Outcome.Error
		if e.Outcome.Success {
			t := e.Outcome.StartedAt.Add(e.Outcome.Duration).UTC()
			rows[e.Position].SentAt = &t
		}
	}
	r.logs[e.CampaignID] = append(r.logs[e.CampaignID], domain.LogEntry{
		Email:     e.Outcome.Identity,
		Status:    string(status),
		Message:   logMessage(e.Outcome),
		CreatedAt: time.Now().UTC(),
	})
	r.mu.Unlock()

	if e.Outcome.Success {
		log.Debug("outcome recorded", "campaign_id", e.CampaignID, "position", e.Position, "status", status)
	} else {
		log.Info("outcome recorded",
			"campaign_id", e.CampaignID,
			"position", e.Position,
			"status", status,
			"error", e.Outcome.Error,
		)
	}
	return nil
}

func (r *LogRecorder) Finish(ctx context.Context, c domain.Campaign) error {
	r.mu.Lock()
	stored, ok := r.campaigns[c.ID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrCampaignNotFound
	}
	stored.SentCount = c.SentCount
	stored.FailedCount = c.FailedCount
	stored.Status = c.Status
	stored.UpdatedAt = c.UpdatedAt
	stored.CompletedAt = c.CompletedAt
	r.campaigns[c.ID] = stored
	r.mu.Unlock()

	log.Info("campaign finished",
		"campaign_id", c.ID,
		"status", c.Status,
		"sent", c.SentCount,
		"failed", c.FailedCount,
	)
	return nil
}

func (r *LogRecorder) Get(ctx context.Context, id uuid.UUID) (domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	if !ok {
		return domain.Campaign{}, domain.ErrCampaignNotFound
	}
	return c, nil
}

func (r *LogRecorder) ListFailures(ctx context.Context, id uuid.UUID) ([]domain.FailedRecipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.campaigns[id]; !ok {
		return nil, domain.ErrCampaignNotFound
	}
	failures := []domain.FailedRecipient{}
	for _, row := range r.recipients[id] {
		if row.Status == domain.RecipientStatusFailed {
			failures = append(failures, domain.FailedRecipient{Email: row.Email, Error: row.Error})
		}
	}
	return failures, nil
}

func (r *LogRecorder) ListLogs(ctx context.Context, id uuid.UUID) ([]domain.LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.campaigns[id]; !ok {
		return nil, domain.ErrCampaignNotFound
	}
	return slices.Clone(r.logs[id]), nil
}
