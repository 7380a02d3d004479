package domain

import (
	"slices"
	"sync"
	"time"
)

// Labels used for batch-boundary progress updates.
const (
	ProgressNextBatch = "processing next batch"
	ProgressCompleted = "completed"
)

// ProgressSnapshot is a point-in-time view of a run.
type ProgressSnapshot struct {
	Total   int    `json:"total"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Current string `json:"current"`
}

// Done returns the number of settled items.
func (p ProgressSnapshot) Done() int {
	return p.Sent + p.Failed
}

// Finished returns true when every item has settled.
func (p ProgressSnapshot) Finished() bool {
	return p.Done() >= p.Total
}

// Percent returns completion as an integer percentage.
func (p ProgressSnapshot) Percent() int {
	if p.Total == 0 {
		return 100
	}
	return p.Done() * 100 / p.Total
}

// RunMode selects the scheduling strategy for a run.
type RunMode string

const (
	RunModeSequential RunMode = "sequential"
	RunModeConcurrent RunMode = "concurrent"
)

// Valid returns true for a known run mode.
func (m RunMode) Valid() bool {
	return m == RunModeSequential || m == RunModeConcurrent
}

// RunConfig holds the pacing settings for one run. It is fixed for the
// lifetime of the run.
type RunConfig struct {
	Concurrency int           `json:"concurrency"`
	Delay       time.Duration `json:"delay"`
}

// Validate checks the run configuration bounds.
func (c RunConfig) Validate() error {
	if c.Concurrency < 1 {
		return NewValidationError("concurrency", "must be at least 1")
	}
	if c.Delay < 0 {
		return NewValidationError("delay", "must not be negative")
	}
	return nil
}

// Summary is the final tally of a run.
type Summary struct {
	Total  int            `json:"total"`
	Sent   int            `json:"sent"`
	Failed int            `json:"failed"`
	Status CampaignStatus `json:"status"`
}

// NewSummary computes a summary from outcomes.
func NewSummary(outcomes []SendOutcome) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		if o.Success {
			s.Sent++
		} else {
			s.Failed++
		}
	}
	s.Status = CampaignStatusCompleted
	if s.Failed > 0 {
		s.Status = CampaignStatusFailed
	}
	return s
}

// RunState holds the latest progress of a run and the failures seen so far.
// It is safe for concurrent use.
type RunState struct {
	mu       sync.RWMutex
	latest   ProgressSnapshot
	failures []FailedRecipient
}

// NewRunState creates a run state for total items.
func NewRunState(total int) *RunState {
	return &RunState{latest: ProgressSnapshot{Total: total}}
}

// Update replaces the latest snapshot.
func (s *RunState) Update(p ProgressSnapshot) {
	s.mu.Lock()
	s.latest = p
	s.mu.Unlock()
}

// AddFailure appends a failed identity.
func (s *RunState) AddFailure(identity, reason string) {
	s.mu.Lock()
	s.failures = append(s.failures, FailedRecipient{Email: identity, Error: reason})
	s.mu.Unlock()
}

// Latest returns the latest snapshot.
func (s *RunState) Latest() ProgressSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Failures returns a copy of the failures list.
func (s *RunState) Failures() []FailedRecipient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.failures)
}
