package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

// Store persists campaigns in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// OpenStore creates a store sharing connections with a pgx pool.
func OpenStore(pool *pgxpool.Pool) *Store {
	return NewStore(stdlib.OpenDBFromPool(pool))
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin stores the campaign and one pending row per recipient in a single
// transaction. Sender credentials are never stored.
func (s *Store) Begin(ctx context.Context, c domain.Campaign, recipients []domain.RecipientEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, draft_id, sender_email, sender_name, subject, template, total_recipients, sent_count, failed_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		c.ID,
		c.DraftID,
		c.Sender.Email,
		c.Sender.Name,
		c.Subject,
		c.Template,
		c.TotalRecipients,
		c.SentCount,
		c.FailedCount,
		c.Status,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	for _, r := range recipients {
		vars, err := json.Marshal(r.Variables)
		if err != nil {
			return fmt.Errorf("encode variables: %w", err)
		}
		status := r.Status
		if status == "" {
			status = domain.RecipientStatusPending
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO campaign_recipients (campaign_id, position, email, variables, status)
			VALUES ($1, $2, $3, $4, $5)
		`, c.ID, r.Position, r.Email, vars, status)
		if err != nil {
			return fmt.Errorf("insert recipient %d: %w", r.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Record updates the recipient row and appends a delivery log line.
func (s *Store) Record(ctx context.Context, e Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status := e.Outcome.RecipientStatus()
	var sentAt *time.Time
	if e.Outcome.Success {
		t := e.Outcome.StartedAt.Add(e.Outcome.Duration).UTC()
		sentAt = &t
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET status = $3, error = $4, sent_at = $5
		WHERE campaign_id = $1 AND position = $2
	`, e.CampaignID, e.Position, status, e.Outcome.Error, sentAt)
	if err != nil {
		return fmt.Errorf("update recipient: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO email_logs (campaign_id, email, status, message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.CampaignID, e.Outcome.Identity, status, logMessage(e.Outcome), e.Outcome.DurationMs(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Finish stores final counts and status.
func (s *Store) Finish(ctx context.Context, c domain.Campaign) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET sent_count = $2, failed_count = $3, status = $4, updated_at = $5, completed_at = $6
		WHERE id = $1
	`, c.ID, c.SentCount, c.FailedCount, c.Status, c.UpdatedAt, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrCampaignNotFound
	}
	return nil
}

// Get retrieves a campaign by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (domain.Campaign, error) {
	var (
		c           domain.Campaign
		completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, draft_id, sender_email, sender_name, subject, template, total_recipients, sent_count, failed_count, status, created_at, updated_at, completed_at
		FROM campaigns
		WHERE id = $1
	`, id).Scan(
		&c.ID,
		&c.DraftID,
		&c.Sender.Email,
		&c.Sender.Name,
		&c.Subject,
		&c.Template,
		&c.TotalRecipients,
		&c.SentCount,
		&c.FailedCount,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Campaign{}, domain.ErrCampaignNotFound
	}
	if err != nil {
		return domain.Campaign{}, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	return c, nil
}

// ListFailures returns failed recipients in list order.
func (s *Store) ListFailures(ctx context.Context, id uuid.UUID) ([]domain.FailedRecipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, error
		FROM campaign_recipients
		WHERE campaign_id = $1 AND status = $2
		ORDER BY position ASC
	`, id, domain.RecipientStatusFailed)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	failures := []domain.FailedRecipient{}
	for rows.Next() {
		var f domain.FailedRecipient
		if err := rows.Scan(&f.Email, &f.Error); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// ListLogs returns the delivery log in write order.
func (s *Store) ListLogs(ctx context.Context, id uuid.UUID) ([]domain.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, status, message, created_at
		FROM email_logs
		WHERE campaign_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	logs := []domain.LogEntry{}
	for rows.Next() {
		var l domain.LogEntry
		if err := rows.Scan(&l.Email, &l.Status, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
