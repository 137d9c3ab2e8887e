package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/craftvisor/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()

	ctx := context.Background()
	started := time.Now().Add(-time.Minute).UTC()
	rec := history.Record{Profile: "/srv/a", Name: "a", PID: 4242, State: "running", StartedAt: started}

	start := history.NewEvent(history.EventStart, rec)
	require.NoError(t, sink.Send(ctx, start))

	rec.State = "stopped"
	rec.StoppedAt = time.Now().UTC()
	rec.ExitErr = "exit status 1"
	exit := history.NewEvent(history.EventExit, rec)
	exit.OccurredAt = start.OccurredAt.Add(time.Second)
	require.NoError(t, sink.Send(ctx, exit))

	// another profile must not leak into the query
	require.NoError(t, sink.Send(ctx, history.NewEvent(history.EventStart, history.Record{Profile: "/srv/b", Name: "b"})))

	got, err := sink.Recent(ctx, "/srv/a", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, history.EventExit, got[0].Type)
	assert.Equal(t, "exit status 1", got[0].Record.ExitErr)
	assert.Equal(t, history.EventStart, got[1].Type)
	assert.Equal(t, 4242, got[1].Record.PID)
	assert.Empty(t, got[1].Record.ExitErr)
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	require.NoError(t, sink.Send(context.Background(), history.NewEvent(history.EventKill, history.Record{Profile: "p", Name: "p"})))
	got, err := sink.Recent(context.Background(), "p", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
