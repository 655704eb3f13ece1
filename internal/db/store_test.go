package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speechbridge/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx := context.Background()
	store, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestMigrateIsRepeatable(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestRecordAndListSessionEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	start := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, store.RecordSessionEvent(ctx, domain.SessionEvent{
		SessionID: id, Kind: domain.EventStarted, Provider: "mock", At: start,
	}))
	require.NoError(t, store.RecordSessionEvent(ctx, domain.SessionEvent{
		SessionID: id, Kind: domain.EventStopped, Provider: "mock", Chunks: 3, Bytes: 900, At: start.Add(time.Second),
	}))

	events, err := store.RecentSessionEvents(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventStopped, events[0].Kind)
	assert.Equal(t, int64(3), events[0].Chunks)
	assert.Equal(t, int64(900), events[0].Bytes)
	assert.Equal(t, domain.EventStarted, events[1].Kind)
	assert.Empty(t, events[1].Reason)

	var lastEvent string
	var endedAt *time.Time
	err = store.pool.QueryRow(ctx,
		`SELECT last_event, ended_at FROM speech_sessions WHERE session_id=$1`, id,
	).Scan(&lastEvent, &endedAt)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStopped, lastEvent)
	require.NotNil(t, endedAt)
}

func TestRecentSessionEventsUnknownSession(t *testing.T) {
	store := openTestStore(t)
	events, err := store.RecentSessionEvents(context.Background(), "missing-"+uuid.NewString(), 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
