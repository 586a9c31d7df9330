package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/clock/system"
	"github.com/jfaulkner/pinharvest/internal/id/uuid"
	"github.com/jfaulkner/pinharvest/internal/pin"
	"github.com/jfaulkner/pinharvest/internal/storage/sqlite"
)

func newManager(t *testing.T) (*Manager, pin.Repository) {
	t.Helper()
	store, err := sqlite.Open(t.TempDir(), "cats", system.New(), uuid.New(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, zap.NewNop()), store
}

func savePins(t *testing.T, repo pin.Repository, sessionID string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		saved, err := repo.SavePin(context.Background(), pin.Pin{ID: id}, "cats", sessionID)
		require.NoError(t, err)
		require.True(t, saved)
	}
}

func TestStartFresh(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	d, err := m.StartOrResume(context.Background(), "cats", 10, "/tmp/out", true)
	require.NoError(t, err)
	require.NotEmpty(t, d.SessionID)
	require.Equal(t, 10, d.Remaining)
	require.False(t, d.Resumed)
	require.False(t, d.Satisfied)
}

func TestSatisfiedFromCache(t *testing.T) {
	t.Parallel()

	m, repo := newManager(t)
	ctx := context.Background()

	d, err := m.StartOrResume(ctx, "cats", 2, "", true)
	require.NoError(t, err)
	savePins(t, repo, d.SessionID, "1", "2")
	require.NoError(t, m.Complete(ctx, d.SessionID, "cats"))

	d, err = m.StartOrResume(ctx, "cats", 2, "", true)
	require.NoError(t, err)
	require.True(t, d.Satisfied)
	require.Empty(t, d.SessionID)
	require.Zero(t, d.Remaining)
}

func TestResumeRequestsOnlyRemaining(t *testing.T) {
	t.Parallel()

	m, repo := newManager(t)
	ctx := context.Background()

	d, err := m.StartOrResume(ctx, "cats", 10, "", true)
	require.NoError(t, err)
	id := d.SessionID
	savePins(t, repo, id, "1", "2", "3", "4", "5", "6", "7")
	require.NoError(t, m.Interrupt(ctx, id, "cats"))

	d, err = m.StartOrResume(ctx, "cats", 10, "", true)
	require.NoError(t, err)
	require.True(t, d.Resumed)
	require.Equal(t, id, d.SessionID)
	require.Equal(t, 3, d.Remaining)
}

func TestMismatchedTargetStartsFresh(t *testing.T) {
	t.Parallel()

	m, repo := newManager(t)
	ctx := context.Background()

	d, err := m.StartOrResume(ctx, "cats", 10, "", true)
	require.NoError(t, err)
	old := d.SessionID
	require.NoError(t, m.Interrupt(ctx, old, "cats"))

	d, err = m.StartOrResume(ctx, "cats", 50, "", true)
	require.NoError(t, err)
	require.False(t, d.Resumed)
	require.NotEqual(t, old, d.SessionID)

	// The mismatched session ended up failed, not resumable.
	open, err := repo.GetIncompleteSessions(ctx, "cats")
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, d.SessionID, open[0].ID)
}

func TestInterruptRecordsDurableCount(t *testing.T) {
	t.Parallel()

	m, repo := newManager(t)
	ctx := context.Background()

	d, err := m.StartOrResume(ctx, "cats", 10, "", true)
	require.NoError(t, err)
	savePins(t, repo, d.SessionID, "1", "2")
	require.NoError(t, m.Interrupt(ctx, d.SessionID, "cats"))

	open, err := repo.GetIncompleteSessions(ctx, "cats")
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, pin.SessionStatusInterrupted, open[0].Status)
	require.Equal(t, 2, open[0].SavedCount)
}

func TestFailIsTerminal(t *testing.T) {
	t.Parallel()

	m, repo := newManager(t)
	ctx := context.Background()

	d, err := m.StartOrResume(ctx, "cats", 10, "", true)
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, d.SessionID, "cats"))

	open, err := repo.GetIncompleteSessions(ctx, "cats")
	require.NoError(t, err)
	require.Empty(t, open)
}
