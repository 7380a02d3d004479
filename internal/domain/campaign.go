package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// IsTerminal returns true if no further sends will happen for the campaign.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed
}

// RecipientStatus represents the delivery state of one recipient.
type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
)

// SenderIdentity holds the sender's address, display name and credentials.
type SenderIdentity struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	AppPassword string `json:"app_password,omitempty"`
}

// Complete returns true when the sender has both an address and credentials.
func (s SenderIdentity) Complete() bool {
	return strings.TrimSpace(s.Email) != "" && s.AppPassword != ""
}

// Redacted returns a copy of the sender without credentials.
func (s SenderIdentity) Redacted() SenderIdentity {
	return SenderIdentity{Email: s.Email, Name: s.Name}
}

// Campaign is one dispatch of a template to a recipient list.
type Campaign struct {
	ID              uuid.UUID
	DraftID         string
	Sender          SenderIdentity
	Subject         string
	Template        string
	TotalRecipients int
	SentCount       int
	FailedCount     int
	Status          CampaignStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// NewCampaign creates a campaign in the sending state.
func NewCampaign(draftID string, sender SenderIdentity, subject, template string, total int) Campaign {
	now := time.Now().UTC()
	return Campaign{
		ID:              uuid.New(),
		DraftID:         draftID,
		Sender:          sender,
		Subject:         subject,
		Template:        template,
		TotalRecipients: total,
		Status:          CampaignStatusSending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Finish returns a copy of the campaign with final counts and terminal status.
// Any failure marks the campaign failed; a partial failure is still terminal.
func (c Campaign) Finish(sent, failed int) Campaign {
	now := time.Now().UTC()
	c.SentCount = sent
	c.FailedCount = failed
	c.Status = CampaignStatusCompleted
	if failed > 0 {
		c.Status = CampaignStatusFailed
	}
	c.UpdatedAt = now
	c.CompletedAt = &now
	return c
}

// RecipientEntry is the persisted view of one recipient in a campaign.
type RecipientEntry struct {
	CampaignID uuid.UUID
	Position   int
	Email      string
	Variables  map[string]string
	Status     RecipientStatus
	Error      string
	SentAt     *time.Time
}

// FailedRecipient pairs an identity with the reason it failed.
type FailedRecipient struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// LogEntry is one row of a campaign's delivery log.
type LogEntry struct {
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
