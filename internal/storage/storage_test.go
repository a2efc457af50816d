package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugpilot/bugpilot/internal/events"
	"github.com/bugpilot/bugpilot/internal/git"
	"github.com/bugpilot/bugpilot/internal/patch"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "bugpilot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, "run-1", "Refund bug", "acme/shop", "claude-opus-4-5"))

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "running", run.Status)
	assert.Equal(t, "Refund bug", run.IssueTitle)
	assert.Nil(t, run.FinishedAt)

	result := &patch.Result{
		Status:    patch.StatusOK,
		Branch:    "bugpilot/fix-refund-20260823-120000",
		CommitSHA: "abc123",
		DraftPR:   git.PRResult{Status: git.PRCreated, URL: "https://example.com/pr/1"},
	}
	require.NoError(t, store.FinishRun(ctx, "run-1", result))

	run, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, patch.StatusOK, run.Status)
	assert.Equal(t, "abc123", run.CommitSHA)
	assert.NotNil(t, run.FinishedAt)
	assert.Contains(t, run.ResultJSON, `"created"`)
}

func TestGetRun_NotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, "run-a", "first", "", ""))
	require.NoError(t, store.CreateRun(ctx, "run-b", "second", "", ""))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	// Same-second timestamps fall back to id ordering.
	assert.Equal(t, "run-b", runs[0].ID)
	assert.Equal(t, "run-a", runs[1].ID)
}

func TestEventPersistence(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, "run-1", "bug", "", ""))

	first := events.New(events.AgentPatch, events.TypeProgress, "context", "building", nil)
	second := events.New(events.AgentPatch, events.TypeResult, "complete", "done",
		map[string]any{"changed_files": 2})
	require.NoError(t, store.AppendEvent(ctx, "run-1", first))
	require.NoError(t, store.AppendEvent(ctx, "run-1", second))

	list, err := store.ListEvents(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "context", list[0].Step)
	assert.Equal(t, events.TypeResult, list[1].Type)
	assert.EqualValues(t, 2, list[1].Data["changed_files"])
}

func TestPersistingEmitter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, "run-1", "bug", "", ""))

	var forwarded []*events.Event
	inner := events.NewCallbackEmitter(func(e *events.Event) {
		forwarded = append(forwarded, e)
	})

	emitter := NewPersistingEmitter(store, "run-1", inner)
	emitter.Emit(events.AgentPatch, events.TypeStatus, "starting", "go", nil)

	require.Len(t, forwarded, 1)
	list, err := store.ListEvents(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "starting", list[0].Step)
}

func TestCleanupEventsByAge(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, "run-1", "bug", "", ""))

	old := events.New(events.AgentPatch, events.TypeLog, "llm", "old event", nil)
	old.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.AppendEvent(ctx, "run-1", old))

	fresh := events.New(events.AgentPatch, events.TypeLog, "llm", "fresh event", nil)
	require.NoError(t, store.AppendEvent(ctx, "run-1", fresh))

	deleted, err := store.CleanupEventsByAge(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	list, err := store.ListEvents(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "fresh event", list[0].Message)
}
