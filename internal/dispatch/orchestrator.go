// Package dispatch turns a configured campaign into rendered work items and
// runs them through the batch scheduler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stiffinWanjohi/bulkmail/internal/audit"
	"github.com/stiffinWanjohi/bulkmail/internal/batch"
	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/draft"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
	"github.com/stiffinWanjohi/bulkmail/internal/observability"
	"github.com/stiffinWanjohi/bulkmail/internal/recipient"
	"github.com/stiffinWanjohi/bulkmail/internal/template"
	"github.com/stiffinWanjohi/bulkmail/internal/transport"
)

var log = logging.Component("dispatch")

// DefaultSequentialDelay is the pause between items in sequential mode.
const DefaultSequentialDelay = time.Second

// WorkItem is one rendered message keyed by its destination address.
type WorkItem = batch.Item[domain.Message]

// Request describes what to send, independent of where the recipients
// came from.
type Request struct {
	DraftID     string
	Sender      domain.SenderIdentity
	Subject     string
	Template    string
	EmailColumn string
}

// RequestFromDraft builds a request from a saved draft.
func RequestFromDraft(d draft.Draft) Request {
	return Request{
		DraftID:     d.ID,
		Sender:      d.Sender,
		Subject:     d.Subject,
		Template:    d.Template,
		EmailColumn: d.EmailColumn,
	}
}

// ProgressSink stores the latest snapshot of a campaign.
type ProgressSink interface {
	Save(ctx context.Context, id uuid.UUID, p domain.ProgressSnapshot) error
}

// Config holds the orchestrator's collaborators. Only Renderer and
// Transport are required.
type Config struct {
	Renderer        template.Renderer
	Transport       transport.Transport
	Audit           audit.Recorder
	Observer        batch.Observer
	Progress        ProgressSink
	ProgressTimeout time.Duration
	Metrics         *observability.Metrics
	Tracer          *observability.Tracer
	SequentialDelay time.Duration
}

// Orchestrator prepares and executes campaigns.
type Orchestrator struct {
	renderer        template.Renderer
	transport       transport.Transport
	audit           audit.Recorder
	observer        batch.Observer
	progress        ProgressSink
	progressTimeout time.Duration
	metrics         *observability.Metrics
	tracer          *observability.Tracer
	sequentialDelay time.Duration
}

// NewOrchestrator creates an orchestrator. Missing optional collaborators
// are replaced with no-op versions.
func NewOrchestrator(cfg Config) *Orchestrator {
	o := &Orchestrator{
		renderer:        cfg.Renderer,
		transport:       cfg.Transport,
		audit:           cfg.Audit,
		observer:        cfg.Observer,
		progress:        cfg.Progress,
		progressTimeout: cfg.ProgressTimeout,
		metrics:         cfg.Metrics,
		tracer:          cfg.Tracer,
		sequentialDelay: cfg.SequentialDelay,
	}
	if o.renderer == nil {
		o.renderer = template.Placeholder{}
	}
	if o.audit == nil {
		o.audit = audit.NewLogRecorder()
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics(nil)
	}
	if o.tracer == nil {
		o.tracer = observability.NewTracer(nil)
	}
	if o.sequentialDelay <= 0 {
		o.sequentialDelay = DefaultSequentialDelay
	}
	if o.progressTimeout <= 0 {
		o.progressTimeout = DefaultProgressTimeout
	}
	return o
}

// PrepareWorkItems renders the template once per recipient. It performs no
// network activity and returns a validation error when the request cannot
// be sent. Identical inputs always produce identical items.
func (o *Orchestrator) PrepareWorkItems(req Request, recipients *recipient.Set) ([]WorkItem, error) {
	if recipients == nil || recipients.Len() == 0 {
		return nil, domain.NewValidationError("recipients", "at least one recipient is required")
	}
	if req.EmailColumn == "" {
		return nil, domain.NewValidationError("email_column", "an email column must be selected")
	}
	if !recipients.HasColumn(req.EmailColumn) {
		return nil, domain.NewValidationError("email_column",
			fmt.Sprintf("column %q is not declared by the recipient list", req.EmailColumn))
	}
	if !req.Sender.Complete() {
		return nil, domain.NewValidationError("sender", "sender email and app password are required")
	}

	records := recipients.Records()
	items := make([]WorkItem, len(records))
	for i, rec := range records {
		html, err := o.renderer.Render(req.Template, rec)
		if err != nil {
			return nil, domain.NewValidationError("template", fmt.Sprintf("row %d: %v", i, err))
		}
		to := rec.Value(req.EmailColumn)
		items[i] = WorkItem{
			Key: to,
			Payload: domain.Message{
				Sender:    req.Sender,
				To:        to,
				Subject:   req.Subject,
				HTML:      html,
				Variables: rec.Vars(),
			},
		}
	}
	return items, nil
}

// Preview is a rendered message for one recipient row plus any placeholders
// the template uses that the recipient list does not declare.
type Preview struct {
	Row     int
	Message domain.Message
	Unknown []string
}

// Preview renders a single row without checking the sender, so a draft can
// be previewed before credentials are entered.
func (o *Orchestrator) Preview(req Request, recipients *recipient.Set, row int) (Preview, error) {
	if recipients == nil || recipients.Len() == 0 {
		return Preview{}, domain.NewValidationError("recipients", "at least one recipient is required")
	}
	rec, err := recipients.Row(row)
	if err != nil {
		return Preview{}, err
	}

	html, err := o.renderer.Render(req.Template, rec)
	if err != nil {
		return Preview{}, domain.NewValidationError("template", err.Error())
	}

	p := Preview{
		Row: row,
		Message: domain.Message{
			Sender:    req.Sender.Redacted(),
			Subject:   req.Subject,
			HTML:      html,
			Variables: rec.Vars(),
		},
	}
	if req.EmailColumn != "" {
		p.Message.To = rec.Value(req.EmailColumn)
	}
	if o.renderer.Name() == template.EnginePlaceholder {
		p.Unknown = template.Unknown(req.Template, recipients.Columns())
	}
	return p, nil
}

// Begin records a new campaign and its pending recipients. Nothing has been
// sent when it returns an error.
func (o *Orchestrator) Begin(ctx context.Context, c domain.Campaign, items []WorkItem) error {
	entries := make([]domain.RecipientEntry, len(items))
	for i, item := range items {
		entries[i] = domain.RecipientEntry{
			CampaignID: c.ID,
			Position:   i,
			Email:      item.Key,
			Variables:  item.Payload.Variables,
			Status:     domain.RecipientStatusPending,
		}
	}

	_, span := o.tracer.StartSpan(ctx, observability.SpanAuditBegin,
		observability.WithAttributes(map[string]any{
			observability.AttrCampaignID: c.ID.String(),
			observability.AttrRecipients: len(items),
		}))
	defer span.End()

	if err := o.audit.Begin(ctx, c, entries); err != nil {
		span.RecordError(err)
		span.SetStatus(observability.SpanStatusError, err.Error())
		return fmt.Errorf("record campaign: %w", err)
	}
	return nil
}

// Run is one campaign ready to execute.
type Run struct {
	Campaign domain.Campaign
	Items    []WorkItem
	Mode     domain.RunMode
	Config   domain.RunConfig
	State    *domain.RunState
}

// Execute sends every item and returns the finished campaign together with
// one outcome per item, in input order. Outcomes are handed to the audit
// recorder as they settle; Execute waits for those writes before recording
// the final counts.
func (o *Orchestrator) Execute(ctx context.Context, run Run, onProgress func(domain.ProgressSnapshot)) (domain.Campaign, []domain.SendOutcome) {
	c := run.Campaign
	state := run.State
	if state == nil {
		state = domain.NewRunState(len(run.Items))
	}
	mode := run.Mode
	if !mode.Valid() {
		mode = domain.RunModeConcurrent
	}

	ctx, span := o.tracer.StartSpan(ctx, observability.SpanCampaignRun,
		observability.WithAttributes(map[string]any{
			observability.AttrCampaignID:  c.ID.String(),
			observability.AttrDraftID:     c.DraftID,
			observability.AttrRecipients:  len(run.Items),
			observability.AttrRunMode:     string(mode),
			observability.AttrConcurrency: run.Config.Concurrency,
			observability.AttrDelayMs:     run.Config.Delay.Milliseconds(),
		}))
	defer span.End()

	start := time.Now()
	o.metrics.CampaignStarted(ctx, string(mode), len(run.Items))
	log.Info("campaign started",
		"campaign_id", c.ID,
		"recipients", len(run.Items),
		"mode", mode,
		"concurrency", run.Config.Concurrency,
		"delay", run.Config.Delay,
	)

	// audit and progress writes outlive a cancelled run
	writeCtx := context.WithoutCancel(ctx)
	campaignID := c.ID.String()

	var saver *progressWriter
	if o.progress != nil {
		saver = newProgressWriter(writeCtx, o.progress, c.ID, o.progressTimeout)
	}

	opts := []batch.Option{
		batch.WithCampaign(campaignID),
		batch.WithProgress(func(p domain.ProgressSnapshot) {
			state.Update(p)
			if onProgress != nil {
				onProgress(p)
			}
			if saver != nil {
				saver.push(p)
			}
			if o.observer != nil {
				o.observer.Record(writeCtx, domain.NewProgressActivity(campaignID, p))
			}
		}),
		batch.WithOutcome(func(i int, out domain.SendOutcome) {
			if !out.Success {
				state.AddFailure(out.Identity, out.Error)
			}
			o.record(writeCtx, audit.Entry{CampaignID: c.ID, Position: i, Outcome: out})
		}),
		batch.WithWindow(func(size int, elapsed time.Duration) {
			o.metrics.BatchSettled(ctx, size, elapsed)
		}),
	}
	if o.observer != nil {
		opts = append(opts, batch.WithObserver(o.observer))
	}

	var outcomes []domain.SendOutcome
	if mode == domain.RunModeSequential {
		outcomes = batch.RunSequential(ctx, run.Items, o.sequentialDelay, o.send, opts...)
	} else {
		outcomes = batch.Run(ctx, run.Items, run.Config, o.send, opts...)
	}
	if saver != nil {
		saver.close()
	}

	summary := domain.NewSummary(outcomes)
	c = c.Finish(summary.Sent, summary.Failed)
	if err := o.audit.Finish(writeCtx, c); err != nil {
		log.Error("failed to record campaign result", "campaign_id", c.ID, "error", err)
	}

	duration := time.Since(start)
	o.metrics.CampaignFinished(ctx, string(c.Status), duration)
	span.SetAttribute(observability.AttrSendStatus, string(c.Status))
	if c.Status == domain.CampaignStatusFailed {
		span.SetStatus(observability.SpanStatusError, fmt.Sprintf("%d of %d sends failed", summary.Failed, summary.Total))
	} else {
		span.SetStatus(observability.SpanStatusOK, "")
	}

	log.Info("campaign finished",
		"campaign_id", c.ID,
		"status", c.Status,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"duration", duration,
	)
	return c, outcomes
}

// send adapts a transport result to the scheduler's error contract.
func (o *Orchestrator) send(ctx context.Context, msg domain.Message) error {
	if msg.To == "" {
		return errors.New("recipient has no email address")
	}

	ctx, span := o.tracer.StartSpan(ctx, observability.SpanEmailSend,
		observability.WithSpanKind(observability.SpanKindClient),
		observability.WithAttributes(map[string]any{
			observability.AttrTransport: o.transport.Name(),
		}))
	defer span.End()

	res := o.transport.Send(ctx, msg)
	duration := time.Duration(res.DurationMs) * time.Millisecond
	if !res.Success {
		o.metrics.EmailFailed(ctx, o.transport.Name(), observability.FailureReason(res.Error), duration)
		span.SetAttribute(observability.AttrSendStatus, "failed")
		span.SetStatus(observability.SpanStatusError, res.Error)
		return errors.New(res.Error)
	}

	o.metrics.EmailSent(ctx, o.transport.Name(), duration)
	span.SetAttribute(observability.AttrSendStatus, "sent")
	span.SetStatus(observability.SpanStatusOK, "")
	return nil
}

type pendingCounter interface {
	Pending() int
}

// record hands an outcome to the audit recorder. Failures are logged and
// never affect the run.
func (o *Orchestrator) record(ctx context.Context, e audit.Entry) {
	if err := o.audit.Record(ctx, e); err != nil {
		o.metrics.AuditWriteFailed(ctx)
		log.Warn("failed to queue audit entry",
			"campaign_id", e.CampaignID,
			"position", e.Position,
			"error", err,
		)
	}
	if p, ok := o.audit.(pendingCounter); ok {
		o.metrics.AuditPending(ctx, p.Pending())
	}
}
