package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

func TestLogRecorder_Lifecycle(t *testing.T) {
	t.Parallel()

	r := NewLogRecorder()
	ctx := context.Background()
	c := testCampaign()

	require.NoError(t, r.Begin(ctx, c, []domain.RecipientEntry{
		{Position: 0, Email: "a@x.com"},
		{Position: 1, Email: "b@x.com"},
	}))

	require.NoError(t, r.Record(ctx, Entry{CampaignID: c.ID, Position: 0, Outcome: domain.SendOutcome{
		Identity: "a@x.com", Success: true, StartedAt: time.Now(), Duration: time.Millisecond,
	}}))
	require.NoError(t, r.Record(ctx, Entry{CampaignID: c.ID, Position: 1, Outcome: domain.SendOutcome{
		Identity: "b@x.com", Error: "HTTP 500: boom",
	}}))
	require.NoError(t, r.Finish(ctx, c.Finish(1, 1)))

	got, err := r.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusFailed, got.Status)
	assert.Equal(t, 1, got.SentCount)
	assert.Equal(t, 1, got.FailedCount)
	assert.Empty(t, got.Sender.AppPassword, "credentials are not kept")

	failures, err := r.ListFailures(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.FailedRecipient{{Email: "b@x.com", Error: "HTTP 500: boom"}}, failures)

	logs, err := r.ListLogs(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "sent", logs[0].Status)
	assert.Equal(t, "email sent", logs[0].Message)
	assert.Equal(t, "failed", logs[1].Status)
	assert.Equal(t, "HTTP 500: boom", logs[1].Message)
}

func TestLogRecorder_UnknownCampaign(t *testing.T) {
	t.Parallel()

	r := NewLogRecorder()
	ctx := context.Background()
	id := uuid.New()

	assert.ErrorIs(t, r.Record(ctx, Entry{CampaignID: id}), domain.ErrCampaignNotFound)
	assert.ErrorIs(t, r.Finish(ctx, domain.Campaign{ID: id}), domain.ErrCampaignNotFound)

	_, err := r.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrCampaignNotFound)
	_, err = r.ListFailures(ctx, id)
	assert.ErrorIs(t, err, domain.ErrCampaignNotFound)
	_, err = r.ListLogs(ctx, id)
	assert.ErrorIs(t, err, domain.ErrCampaignNotFound)
}
