package domain

import "errors"

// Domain errors for bulkmail.
var (
	// ErrCampaignNotFound is returned when a campaign cannot be found.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrDraftNotFound is returned when a draft cannot be found.
	ErrDraftNotFound = errors.New("draft not found")

	// ErrRowOutOfRange is returned when a recipient row index does not exist.
	ErrRowOutOfRange = errors.New("recipient row index out of range")

	// ErrRunInProgress is returned when a draft already has an active run.
	ErrRunInProgress = errors.New("a send run is already in progress for this draft")

	// ErrRunNotFound is returned when cancelling a run that is not active.
	ErrRunNotFound = errors.New("no active run for campaign")

	// ErrRunCancelled is the failure detail for items that never started because the run was cancelled.
	ErrRunCancelled = errors.New("run cancelled")

	// ErrSendTimeout is returned when a single send exceeds its timeout.
	ErrSendTimeout = errors.New("send timed out")

	// ErrUnknownTransport is returned for an unsupported transport provider name.
	ErrUnknownTransport = errors.New("unknown transport provider")

	// ErrUnknownTemplateEngine is returned for an unsupported template engine name.
	ErrUnknownTemplateEngine = errors.New("unknown template engine")
)

// ValidationError represents a validation error with field details.
// Validation errors are detected before any network activity starts.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) ValidationError {
	return ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
