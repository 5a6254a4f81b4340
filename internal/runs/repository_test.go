package runs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genfill/genfill-agent/internal/db"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func newTestRun(id string, created time.Time) *Run {
	return &Run{
		ID:        id,
		Mode:      "inpaint",
		Status:    StatusRunning,
		Stage:     "validating",
		Progress:  10,
		Prompt:    "a boat",
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestRepository_CreateAndGetRun(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.CreateRun(ctx, newTestRun("r1", now)))

	got, err := repo.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "inpaint", got.Mode)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "a boat", got.Prompt)
	assert.Equal(t, 10, got.Progress)
	assert.Empty(t, got.FailedStage)
	assert.True(t, got.CreatedAt.Equal(now))
}

func TestRepository_GetRunMissing(t *testing.T) {
	repo := setupTestRepo(t)

	got, err := repo.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_UpdateRun(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	run := newTestRun("r1", now)
	require.NoError(t, repo.CreateRun(ctx, run))

	run.Status = StatusDone
	run.Stage = "done"
	run.Progress = 100
	run.RequestID = "req-1"
	run.ResultURL = "https://x/out.mp4"
	run.ResultPath = "/tmp/renders/fal_inpainted_result.mp4"
	run.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, repo.UpdateRun(ctx, run))

	got, err := repo.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "https://x/out.mp4", got.ResultURL)
	assert.True(t, got.UpdatedAt.Equal(now.Add(time.Minute)))
}

func TestRepository_ListRunsNewestFirst(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, repo.CreateRun(ctx, newTestRun(id, base.Add(time.Duration(i)*time.Minute))))
	}

	list, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "mid", list[1].ID)
}

func TestRepository_Events(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateRun(ctx, newTestRun("r1", now)))
	for _, msg := range []string{"Checking selection...", "Rendering videos..."} {
		e := &Event{RunID: "r1", Stage: "validating", Message: msg, CreatedAt: now}
		require.NoError(t, repo.AppendEvent(ctx, e))
		assert.NotZero(t, e.ID)
	}

	events, err := repo.ListEvents(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Checking selection...", events[0].Message)
	assert.Equal(t, "Rendering videos...", events[1].Message)
}

func TestRepository_Config(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	v, err := repo.GetConfig(ctx, ConfigKeyAuthToken)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, repo.SetConfig(ctx, ConfigKeyAuthToken, "one"))
	require.NoError(t, repo.SetConfig(ctx, ConfigKeyAuthToken, "two"))

	v, err = repo.GetConfig(ctx, ConfigKeyAuthToken)
	require.NoError(t, err)
	assert.Equal(t, "two", v)
}

func TestNewID_Unique(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
}
