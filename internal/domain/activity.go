package domain

import "time"

// ActivityKind distinguishes activity log lines from progress updates.
type ActivityKind string

const (
	ActivityLog      ActivityKind = "log"
	ActivityProgress ActivityKind = "progress"
)

// Activity levels.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Activity is one entry of the user-visible activity stream.
type Activity struct {
	Timestamp  time.Time         `json:"timestamp"`
	Kind       ActivityKind      `json:"kind"`
	Level      string            `json:"level"`
	CampaignID string            `json:"campaign_id,omitempty"`
	Identity   string            `json:"identity,omitempty"`
	Status     string            `json:"status,omitempty"`
	Message    string            `json:"message"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	Progress   *ProgressSnapshot `json:"progress,omitempty"`
}

// NewLogActivity creates a log activity stamped with the current time.
func NewLogActivity(level, message string) Activity {
	return Activity{
		Timestamp: time.Now().UTC(),
		Kind:      ActivityLog,
		Level:     level,
		Message:   message,
	}
}

// NewProgressActivity creates a progress activity for a snapshot.
func NewProgressActivity(campaignID string, p ProgressSnapshot) Activity {
	return Activity{
		Timestamp:  time.Now().UTC(),
		Kind:       ActivityProgress,
		Level:      LevelDebug,
		CampaignID: campaignID,
		Message:    p.Current,
		Progress:   &p,
	}
}

// OutcomeActivity creates a log activity describing a settled send.
func OutcomeActivity(campaignID string, o SendOutcome) Activity {
	a := Activity{
		Timestamp:  time.Now().UTC(),
		Kind:       ActivityLog,
		CampaignID: campaignID,
		Identity:   o.Identity,
		DurationMs: o.DurationMs(),
	}
	if o.Success {
		a.Level = LevelInfo
		a.Status = string(RecipientStatusSent)
		a.Message = "email sent"
	} else {
		a.Level = LevelError
		a.Status = string(RecipientStatusFailed)
		a.Message = "email failed"
		a.Error = o.Error
	}
	return a
}
