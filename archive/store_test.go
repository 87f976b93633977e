package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-taskkit/core"
	"github.com/Swind/go-taskkit/errdefs"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func record(id core.TaskID, name, queue string, state core.TaskState, finishedAfter time.Duration) core.TaskExecutionRecord {
	finished := epoch.Add(finishedAfter)
	return core.TaskExecutionRecord{
		TaskID:     id,
		Name:       name,
		Queue:      queue,
		QoS:        core.QoSUtility,
		Priority:   3,
		State:      state,
		StartedAt:  finished.Add(-50 * time.Millisecond),
		FinishedAt: finished,
		Duration:   50 * time.Millisecond,
	}
}

// stores runs the same contract tests against every implementation.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	failed := record(2, "parse", "cpu", core.TaskFailed, 2*time.Second)
	failed.Err = "parse: bad input"
	failed.Panicked = true
	for _, rec := range []core.TaskExecutionRecord{
		record(1, "fetch", "io", core.TaskCompleted, time.Second),
		failed,
		record(3, "fetch", "io", core.TaskCancelled, 3*time.Second),
		record(4, "fetch", "io", core.TaskCompleted, 4*time.Second),
	} {
		require.NoError(t, s.Append(ctx, rec))
	}
}

func ids(recs []core.TaskExecutionRecord) []core.TaskID {
	out := make([]core.TaskID, len(recs))
	for i, r := range recs {
		out[i] = r.TaskID
	}
	return out
}

func TestStore_List(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s)
			ctx := context.Background()

			all, err := s.List(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, []core.TaskID{4, 3, 2, 1}, ids(all))

			io, err := s.List(ctx, Filter{Queue: "io", States: []core.TaskState{core.TaskCompleted}})
			require.NoError(t, err)
			assert.Equal(t, []core.TaskID{4, 1}, ids(io))

			page, err := s.List(ctx, Filter{Name: "fetch", Limit: 1, Offset: 1})
			require.NoError(t, err)
			assert.Equal(t, []core.TaskID{3}, ids(page))

			tail, err := s.List(ctx, Filter{Offset: 3})
			require.NoError(t, err)
			assert.Equal(t, []core.TaskID{1}, ids(tail))

			recent, err := s.List(ctx, Filter{Since: epoch.Add(3 * time.Second)})
			require.NoError(t, err)
			assert.Equal(t, []core.TaskID{4, 3}, ids(recent))
		})
	}
}

func TestStore_GetRoundTrips(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s)
			ctx := context.Background()

			got, err := s.Get(ctx, 2)
			require.NoError(t, err)
			want := record(2, "parse", "cpu", core.TaskFailed, 2*time.Second)
			assert.Equal(t, want.Name, got.Name)
			assert.Equal(t, want.QoS, got.QoS)
			assert.Equal(t, want.Priority, got.Priority)
			assert.Equal(t, core.TaskFailed, got.State)
			assert.True(t, want.FinishedAt.Equal(got.FinishedAt))
			assert.Equal(t, want.Duration, got.Duration)
			assert.Equal(t, "parse: bad input", got.Err)
			assert.True(t, got.Panicked)

			_, err = s.Get(ctx, 99)
			assert.ErrorIs(t, err, errdefs.ErrNotFound)
		})
	}
}

func TestStore_GetReturnsNewestForReusedID(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, record(1, "old", "q", core.TaskCompleted, 0)))
			require.NoError(t, s.Append(ctx, record(1, "new", "q", core.TaskCompleted, time.Second)))

			got, err := s.Get(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "new", got.Name)
		})
	}
}

func TestStore_Prune(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s)
			ctx := context.Background()

			n, err := s.Prune(ctx, epoch.Add(2500*time.Millisecond))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			rest, err := s.List(ctx, Filter{})
			require.NoError(t, err)
			assert.Equal(t, []core.TaskID{4, 3}, ids(rest))
		})
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

func TestOpenSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	ctx := context.Background()
	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, record(7, "keep", "q", core.TaskCompleted, 0)))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "keep", got.Name)
}
