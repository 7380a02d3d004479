// Package draft stores campaign wizard state between requests.
package draft

import (
	"time"

	"github.com/google/uuid"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/recipient"
)

// Draft is a campaign being configured.
type Draft struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Sender      domain.SenderIdentity `json:"sender"`
	Subject     string                `json:"subject"`
	Template    string                `json:"template"`
	Recipients  *recipient.Set        `json:"recipients,omitempty"`
	EmailColumn string                `json:"email_column"`
	Mode        domain.RunMode        `json:"mode,omitempty"`
	Run         domain.RunConfig      `json:"run"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// New creates an empty draft.
func New(name string) Draft {
	now := time.Now().UTC()
	return Draft{
		ID:        uuid.NewString(),
		Name:      name,
		Mode:      domain.RunModeConcurrent,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Redacted returns a copy safe to return to clients.
func (d Draft) Redacted() Draft {
	d.Sender = d.Sender.Redacted()
	return d
}

// RecipientCount returns the number of recipient rows.
func (d Draft) RecipientCount() int {
	if d.Recipients == nil {
		return 0
	}
	return d.Recipients.Len()
}

// WithRecipients returns a copy with a new recipient set. The email column
// is kept when the new set still declares it, otherwise it is detected.
func (d Draft) WithRecipients(set *recipient.Set) Draft {
	d.Recipients = set
	if set == nil {
		d.EmailColumn = ""
		return d
	}
	if d.EmailColumn == "" || !set.HasColumn(d.EmailColumn) {
		d.EmailColumn = recipient.DetectEmailColumn(set.Columns())
	}
	return d
}
