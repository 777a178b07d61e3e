package batch_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"docflow/internal/batch"
	"docflow/internal/domain"
	"docflow/internal/store"
)

func setup(t *testing.T) (*batch.Aggregator, store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.EnsureSchema(db))
	st := store.NewSQLite(db)
	return batch.New(st, zerolog.Nop()), st
}

func seed(t *testing.T, st store.Store, tenant string) domain.Job {
	t.Helper()
	j, err := st.CreateJob(context.Background(), domain.Job{
		TenantID:  tenant,
		QueueName: "documents",
		Type:      "process_document",
		Payload:   []byte(`{}`),
		Priority:  5,
	})
	require.NoError(t, err)
	return j
}

func TestCreate_StampsAllJobs(t *testing.T) {
	agg, st := setup(t)
	ctx := context.Background()

	a := seed(t, st, "acme")
	b := seed(t, st, "acme")

	id, err := agg.Create(ctx, "acme", []string{a.ID, b.ID}, "march invoices")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	for _, jobID := range []string{a.ID, b.ID} {
		j, err := st.GetJob(ctx, jobID)
		require.NoError(t, err)
		require.NotNil(t, j.BatchID)
		assert.Equal(t, id, *j.BatchID)
	}
}

func TestCreate_CrossTenantRejected(t *testing.T) {
	agg, st := setup(t)
	ctx := context.Background()

	a := seed(t, st, "acme")
	b := seed(t, st, "globex")

	_, err := agg.Create(ctx, "acme", []string{a.ID, b.ID}, "mixed")
	assert.ErrorIs(t, err, domain.ErrCrossTenantBatch)

	// Nothing stamped on rejection.
	for _, jobID := range []string{a.ID, b.ID} {
		j, err := st.GetJob(ctx, jobID)
		require.NoError(t, err)
		assert.Nil(t, j.BatchID)
	}
}

func TestCreate_UnknownJobRejected(t *testing.T) {
	agg, st := setup(t)
	a := seed(t, st, "acme")

	_, err := agg.Create(context.Background(), "acme", []string{a.ID, "job_missing"}, "partial")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestCreate_EmptyRejected(t *testing.T) {
	agg, _ := setup(t)
	_, err := agg.Create(context.Background(), "acme", nil, "empty")
	assert.Error(t, err)
}

func TestStatus_ProgressAndOverall(t *testing.T) {
	agg, st := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := seed(t, st, "acme")
	b := seed(t, st, "acme")
	c := seed(t, st, "acme")
	id, err := agg.Create(ctx, "acme", []string{a.ID, b.ID, c.ID}, "exports")
	require.NoError(t, err)

	st1, err := agg.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, st1.Total)
	assert.Equal(t, 0, st1.Completed)
	assert.Equal(t, 0.0, st1.Progress)
	assert.Equal(t, "processing", st1.OverallStatus)

	require.NoError(t, st.ClaimJob(ctx, a.ID, 10, now))
	require.NoError(t, st.CompleteJob(ctx, a.ID, now))

	st2, err := agg.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, st2.Completed)
	assert.Equal(t, 33.33, st2.Progress)
	assert.Equal(t, "processing", st2.OverallStatus)

	// Re-querying never loses completed members.
	st3, err := agg.Status(ctx, id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st3.Completed, st2.Completed)

	// One failed member does not fail the batch aggregate.
	require.NoError(t, st.ClaimJob(ctx, b.ID, 10, now))
	require.NoError(t, st.FailJob(ctx, b.ID, "corrupt", now))
	require.NoError(t, st.ClaimJob(ctx, c.ID, 10, now))
	require.NoError(t, st.CompleteJob(ctx, c.ID, now))

	st4, err := agg.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, st4.Completed)
	assert.Equal(t, 1, st4.Failed)
	assert.Equal(t, 66.67, st4.Progress)
	assert.Equal(t, "processing", st4.OverallStatus)
}

func TestStatus_AllCompleted(t *testing.T) {
	agg, st := setup(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := seed(t, st, "acme")
	id, err := agg.Create(ctx, "acme", []string{a.ID}, "single")
	require.NoError(t, err)

	require.NoError(t, st.ClaimJob(ctx, a.ID, 10, now))
	require.NoError(t, st.CompleteJob(ctx, a.ID, now))

	got, err := agg.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Progress)
	assert.Equal(t, "completed", got.OverallStatus)
}

func TestStatus_NotFound(t *testing.T) {
	agg, _ := setup(t)
	_, err := agg.Status(context.Background(), "bat_missing")
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
}
