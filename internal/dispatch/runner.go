package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stiffinWanjohi/bulkmail/internal/distlock"
	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/draft"
	"github.com/stiffinWanjohi/bulkmail/internal/observability"
)

// RunnerConfig holds runner settings.
type RunnerConfig struct {
	// Locker keeps a draft from running twice at once. Nil disables locking.
	Locker *distlock.Locker
	// LockTTL is how long a run lock survives without renewal.
	LockTTL time.Duration
	// Clamp bounds a requested run configuration.
	Clamp   func(domain.RunConfig) domain.RunConfig
	Metrics *observability.Metrics
}

// RunInfo describes an active run.
type RunInfo struct {
	CampaignID uuid.UUID               `json:"campaign_id"`
	DraftID    string                  `json:"draft_id"`
	Mode       domain.RunMode          `json:"mode"`
	StartedAt  time.Time               `json:"started_at"`
	Progress   domain.ProgressSnapshot `json:"progress"`
}

type activeRun struct {
	info   RunInfo
	state  *domain.RunState
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner starts campaigns in the background and tracks them until they
// finish.
type Runner struct {
	orch    *Orchestrator
	locker  *distlock.Locker
	lockTTL time.Duration
	clamp   func(domain.RunConfig) domain.RunConfig
	metrics *observability.Metrics

	baseCtx context.Context
	stop    context.CancelFunc

	mu   sync.Mutex
	runs map[uuid.UUID]*activeRun
	wg   sync.WaitGroup
}

// NewRunner creates a runner. Runs are detached from the caller's context
// but cancelled by Shutdown.
func NewRunner(orch *Orchestrator, cfg RunnerConfig) *Runner {
	baseCtx, stop := context.WithCancel(context.Background())
	r := &Runner{
		orch:    orch,
		locker:  cfg.Locker,
		lockTTL: cfg.LockTTL,
		clamp:   cfg.Clamp,
		metrics: cfg.Metrics,
		baseCtx: baseCtx,
		stop:    stop,
		runs:    make(map[uuid.UUID]*activeRun),
	}
	if r.metrics == nil {
		r.metrics = orch.metrics
	}
	return r
}

// Start validates and records a campaign for the draft, then sends it in the
// background. Validation, lock and audit errors are returned before any
// message is sent.
func (r *Runner) Start(ctx context.Context, d draft.Draft, mode domain.RunMode, cfg domain.RunConfig) (uuid.UUID, error) {
	if mode == "" {
		mode = domain.RunModeConcurrent
	}
	if !mode.Valid() {
		return uuid.Nil, domain.NewValidationError("mode", fmt.Sprintf("unknown run mode %q", mode))
	}
	if r.clamp != nil {
		cfg = r.clamp(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return uuid.Nil, err
	}

	items, err := r.orch.PrepareWorkItems(RequestFromDraft(d), d.Recipients)
	if err != nil {
		r.metrics.CampaignRejected(ctx, "validation")
		return uuid.Nil, err
	}

	c := domain.NewCampaign(d.ID, d.Sender, d.Subject, d.Template, len(items))

	var lock *distlock.Lock
	if r.locker != nil {
		lock, err = r.locker.Acquire(ctx, d.ID, c.ID.String())
		if err != nil {
			if errors.Is(err, domain.ErrRunInProgress) {
				r.metrics.CampaignRejected(ctx, "run_in_progress")
			}
			return uuid.Nil, err
		}
	}

	if err := r.orch.Begin(ctx, c, items); err != nil {
		r.metrics.CampaignRejected(ctx, "audit")
		r.release(lock)
		return uuid.Nil, err
	}

	runCtx, cancel := context.WithCancel(r.baseCtx)
	run := &activeRun{
		info: RunInfo{
			CampaignID: c.ID,
			DraftID:    d.ID,
			Mode:       mode,
			StartedAt:  c.CreatedAt,
		},
		state:  domain.NewRunState(len(items)),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.runs[c.ID] = run
	active := len(r.runs)
	r.mu.Unlock()
	r.metrics.RunsActive(ctx, active)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(run.done)
		defer cancel()

		stopRenew := r.renew(runCtx, lock)
		r.orch.Execute(runCtx, Run{
			Campaign: c,
			Items:    items,
			Mode:     mode,
			Config:   cfg,
			State:    run.state,
		}, nil)
		stopRenew()
		r.release(lock)

		r.mu.Lock()
		delete(r.runs, c.ID)
		active := len(r.runs)
		r.mu.Unlock()
		r.metrics.RunsActive(context.Background(), active)
	}()

	return c.ID, nil
}

// Preview renders one row of the draft with the runner's renderer.
func (r *Runner) Preview(d draft.Draft, row int) (Preview, error) {
	return r.orch.Preview(RequestFromDraft(d), d.Recipients, row)
}

// renew keeps the lock alive while a run outlasts its TTL. The returned
// function stops renewal.
func (r *Runner) renew(ctx context.Context, lock *distlock.Lock) func() {
	if lock == nil || r.lockTTL <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lock.Extend(ctx); err != nil && ctx.Err() == nil {
					log.Warn("failed to extend run lock", "owner", lock.Owner(), "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (r *Runner) release(lock *distlock.Lock) {
	if lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		log.Warn("failed to release run lock", "owner", lock.Owner(), "error", err)
	}
}

// Cancel stops an active run. Items that have not started are reported as
// failed with "run cancelled".
func (r *Runner) Cancel(id uuid.UUID) error {
	r.mu.Lock()
	run, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return domain.ErrRunNotFound
	}
	log.Info("cancelling campaign", "campaign_id", id)
	run.cancel()
	return nil
}

// Progress returns the latest snapshot of an active run.
func (r *Runner) Progress(id uuid.UUID) (domain.ProgressSnapshot, bool) {
	r.mu.Lock()
	run, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return domain.ProgressSnapshot{}, false
	}
	return run.state.Latest(), true
}

// Failures returns the recipients of an active run that have failed so
// far, in the order they settled.
func (r *Runner) Failures(id uuid.UUID) ([]domain.FailedRecipient, bool) {
	r.mu.Lock()
	run, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return run.state.Failures(), true
}

// Done returns a channel closed when the run finishes, or nil when the run
// is not active.
func (r *Runner) Done(id uuid.UUID) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		return run.done
	}
	return nil
}

// Active lists active runs, oldest first.
func (r *Runner) Active() []RunInfo {
	r.mu.Lock()
	out := make([]RunInfo, 0, len(r.runs))
	for _, run := range r.runs {
		info := run.info
		info.Progress = run.state.Latest()
		out = append(out, info)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b RunInfo) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}

// Wait blocks until every run has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every active run and waits for them to record their
// results.
func (r *Runner) Shutdown(timeout time.Duration) error {
	r.stop()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		return errors.New("runner shutdown timed out")
	}
	return nil
}
