package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/poll-broadcaster/backend/internal/db"
	"github.com/poll-broadcaster/backend/internal/model"
)

func newTestRepo(t *testing.T) *EventLogRepository {
	t.Helper()
	testDB, err := db.NewTestDB()
	require.NoError(t, err, "failed to create test database")
	t.Cleanup(func() { testDB.Close() })
	return NewEventLogRepository(testDB)
}

func TestEventLogRepository_InsertAndRecent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := repo.Insert(ctx, model.LogEvent{
			Kind:      model.LogKindInfo,
			Message:   fmt.Sprintf("event-%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	events, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	for i, want := range []string{"event-2", "event-1", "event-0"} {
		require.Equal(t, want, events[i].Message)
		require.Equal(t, model.LogKindInfo, events[i].Kind)
	}
}

func TestEventLogRepository_RecentLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev := model.NewLogEvent(model.LogKindInfo, fmt.Sprintf("event-%d", i))
		ev.Timestamp = ev.Timestamp.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Insert(ctx, ev))
	}

	events, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestEventLogRepository_InsertStampsZeroTimestamp(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, model.LogEvent{Kind: model.LogKindWarning, Message: "unstamped"}))

	events, err := repo.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.False(t, events[0].Timestamp.IsZero(), "zero timestamp must be stamped at insert time")
}

func TestEventLogRepository_DeleteOlderThan(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cutoff := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	for i := -2; i <= 2; i++ {
		err := repo.Insert(ctx, model.LogEvent{
			Kind:      model.LogKindInfo,
			Message:   fmt.Sprintf("event-%d", i),
			Timestamp: cutoff.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	removed, err := repo.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestEventLogRepository_CountProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("count matches number of inserts", prop.ForAll(
		func(messages []string) bool {
			testDB, err := db.NewTestDB()
			if err != nil {
				return false
			}
			defer testDB.Close()
			repo := NewEventLogRepository(testDB)

			ctx := context.Background()
			for _, msg := range messages {
				if err := repo.Insert(ctx, model.NewLogEvent(model.LogKindInfo, msg)); err != nil {
					return false
				}
			}

			count, err := repo.Count(ctx)
			return err == nil && count == len(messages)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
