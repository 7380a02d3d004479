package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stiffinWanjohi/bulkmail/internal/app"
	"github.com/stiffinWanjohi/bulkmail/internal/audit"
	"github.com/stiffinWanjohi/bulkmail/internal/config"
	"github.com/stiffinWanjohi/bulkmail/internal/dispatch"
	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/logstream"
	"github.com/stiffinWanjohi/bulkmail/internal/recipient"
	"github.com/stiffinWanjohi/bulkmail/internal/template"
	"github.com/stiffinWanjohi/bulkmail/internal/transport"
)

// ErrPartialFailure is returned when a campaign finishes with failed sends.
var ErrPartialFailure = errors.New("some emails failed")

type sendOptions struct {
	csvPath      string
	templatePath string
	subject      string
	emailColumn  string
	mode         string
	concurrency  int
	delay        time.Duration
	dryRun       bool
	row          int
	activityLog  string
	sender       senderFlags
}

func newSendCmd() *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a campaign from a CSV file and an HTML template",
		Long: `Render the template once per CSV row and send each message through the
configured transport. Nothing is stored; every outcome is written to the log
and, with --activity-log, to a JSON lines file. Exits with status 1 when any
send fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd, &opts)
		},
	}

	cmd.Flags().StringVar(&opts.csvPath, "csv", "", "recipient CSV file with a header row (required)")
	cmd.Flags().StringVar(&opts.templatePath, "template", "", "HTML template file (required)")
	cmd.Flags().StringVar(&opts.subject, "subject", "", "email subject")
	cmd.Flags().StringVar(&opts.emailColumn, "email-column", "", "column holding addresses (default: detected)")
	cmd.Flags().StringVar(&opts.mode, "mode", string(domain.RunModeConcurrent), "run mode: concurrent or sequential")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "sends per batch window (0 = config default)")
	cmd.Flags().DurationVar(&opts.delay, "delay", config.DefaultDelay, "pause before each send in a window (default from config)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "render one row and exit without sending")
	cmd.Flags().IntVar(&opts.row, "row", 0, "row to render with --dry-run")
	cmd.Flags().StringVar(&opts.activityLog, "activity-log", "", "write the run's activity as JSON lines to this file")
	opts.sender.bind(cmd)
	_ = cmd.MarkFlagRequired("csv")
	_ = cmd.MarkFlagRequired("template")

	return cmd
}

func runSend(cmd *cobra.Command, opts *sendOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	mode := domain.RunMode(opts.mode)
	if !mode.Valid() {
		return domain.NewValidationError("mode", "must be concurrent or sequential")
	}

	out := newPrinter(cmd.OutOrStdout())

	set, emailColumn, err := readRecipients(out, opts.csvPath, opts.emailColumn)
	if err != nil {
		return err
	}
	body, err := os.ReadFile(opts.templatePath)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}

	renderer, err := template.New(cfg.Dispatch.TemplateEngine)
	if err != nil {
		return err
	}

	req := dispatch.Request{
		Sender:      opts.sender.identity(),
		Subject:     opts.subject,
		Template:    string(body),
		EmailColumn: emailColumn,
	}

	if opts.dryRun {
		orch := dispatch.NewOrchestrator(dispatch.Config{Renderer: renderer})
		preview, err := orch.Preview(req, set, opts.row)
		if err != nil {
			return err
		}
		printPreview(out, preview)
		return nil
	}

	ctx, stop := app.ShutdownContext(cmd.Context())
	defer stop()

	tr, err := transport.New(ctx, cfg.Transport, nil)
	if err != nil {
		return err
	}

	activity := logstream.NewActivity(nil, logstream.DefaultCapacity)
	orch := dispatch.NewOrchestrator(dispatch.Config{
		Renderer:        renderer,
		Transport:       tr,
		Audit:           audit.NewLogRecorder(),
		Observer:        activity,
		SequentialDelay: cfg.Dispatch.SequentialDelay,
	})

	items, err := orch.PrepareWorkItems(req, set)
	if err != nil {
		return err
	}

	campaign := domain.NewCampaign("", req.Sender.Redacted(), req.Subject, req.Template, len(items))
	if err := orch.Begin(ctx, campaign, items); err != nil {
		return err
	}

	if !cmd.Flags().Changed("delay") {
		opts.delay = cfg.Dispatch.Delay
	}
	runCfg := cfg.Dispatch.Clamp(domain.RunConfig{Concurrency: opts.concurrency, Delay: opts.delay})
	if mode == domain.RunModeSequential {
		runCfg.Concurrency = 1
	}

	out.printf("\n  %s %s\n", out.bold("Sending"), out.dim(fmt.Sprintf("%d recipients via %s (%s)", len(items), tr.Name(), mode)))

	line := newProgressLine(out)
	finished, outcomes := orch.Execute(ctx, dispatch.Run{
		Campaign: campaign,
		Items:    items,
		Mode:     mode,
		Config:   runCfg,
	}, line.update)
	line.finish()

	printSummary(out, finished, outcomes)

	if opts.activityLog != "" {
		if err := writeActivityLog(opts.activityLog, activity.Snapshot(nil, 0)); err != nil {
			return err
		}
		out.field("Activity", opts.activityLog)
	}

	if finished.FailedCount > 0 {
		return fmt.Errorf("%w: %d of %d", ErrPartialFailure, finished.FailedCount, finished.TotalRecipients)
	}
	return nil
}

func writeActivityLog(path string, entries []domain.Activity) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create activity log: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return fmt.Errorf("write activity log: %w", err)
		}
	}
	return f.Close()
}

func readRecipients(out *printer, path, emailColumn string) (*recipient.Set, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open recipients: %w", err)
	}
	defer func() { _ = f.Close() }()

	res, err := recipient.ParseCSV(f)
	if err != nil {
		return nil, "", err
	}
	for _, line := range res.Rejected {
		out.printf("  %s line %d skipped: wrong number of values\n", out.warn("!"), line)
	}

	if emailColumn == "" {
		emailColumn = res.EmailColumn
	}
	return res.Set, emailColumn, nil
}

func printPreview(out *printer, p dispatch.Preview) {
	out.printf("\n")
	out.field("Row", fmt.Sprint(p.Row))
	out.field("To", p.Message.To)
	out.field("From", p.Message.Sender.Email)
	out.field("Subject", p.Message.Subject)
	if len(p.Unknown) > 0 {
		out.field("Unknown", out.warn(fmt.Sprint(p.Unknown)))
	}
	out.printf("\n%s\n", p.Message.HTML)
}

func printSummary(out *printer, c domain.Campaign, outcomes []domain.SendOutcome) {
	out.printf("\n")
	out.field("Campaign", out.cyan(c.ID.String()))
	out.field("Sent", out.success(fmt.Sprint(c.SentCount)))
	if c.FailedCount == 0 {
		out.field("Failed", "0")
		return
	}
	out.field("Failed", out.fail(fmt.Sprint(c.FailedCount)))
	out.printf("\n")
	for _, o := range outcomes {
		if !o.Success {
			out.printf("  %s %s %s\n", out.fail("x"), o.Identity, out.dim(o.Error))
		}
	}
}
