package domain

import "time"

// Message is the rendered payload for one recipient.
type Message struct {
	Sender    SenderIdentity
	To        string
	Subject   string
	HTML      string
	Variables map[string]string
}

// SendResult represents what a transport reports for one send.
type SendResult struct {
	Success    bool
	MessageID  string
	StatusCode int
	Error      string
	DurationMs int64
}

// NewSuccessResult creates a successful send result.
func NewSuccessResult(messageID string, statusCode int, durationMs int64) SendResult {
	return SendResult{
		Success:    true,
		MessageID:  messageID,
		StatusCode: statusCode,
		DurationMs: durationMs,
	}
}

// NewFailureResult creates a failed send result.
func NewFailureResult(statusCode int, errMsg string, durationMs int64) SendResult {
	if errMsg == "" {
		errMsg = "failed to send email"
	}
	return SendResult{
		Success:    false,
		StatusCode: statusCode,
		Error:      errMsg,
		DurationMs: durationMs,
	}
}

// SendOutcome is the terminal result for one work item. Exactly one is
// produced per item and it is never mutated after creation.
type SendOutcome struct {
	Identity  string        `json:"identity"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// DurationMs returns the outcome duration in milliseconds.
func (o SendOutcome) DurationMs() int64 {
	return o.Duration.Milliseconds()
}

// RecipientStatus maps the outcome to the persisted recipient status.
func (o SendOutcome) RecipientStatus() RecipientStatus {
	if o.Success {
		return RecipientStatusSent
	}
	return RecipientStatusFailed
}
