package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/promobot/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "promobot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveProfileDefaults(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.DefaultProfile(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first, err := s.SaveProfile(ctx, storage.Profile{UserID: "u1", Name: "Main", Channel: "@main_channel", Tone: "casual"})
	require.NoError(t, err)
	assert.True(t, first.IsDefault)

	second, err := s.SaveProfile(ctx, storage.Profile{UserID: "u1", Name: "Side", Channel: "@side_channel", Tone: "professional", Topics: "markets"})
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	def, err := s.DefaultProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, def.ID)

	items, err := s.ListProfiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "markets", items[1].Topics)

	other, err := s.ListProfiles(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSaveJobUpserts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	job := storage.JobRecord{TaskID: "T1", UserID: "u1", Kind: "video", Status: "processing", SubmittedAt: time.Now()}
	require.NoError(t, s.SaveJob(ctx, job))
	job.Status = "completed"
	job.ResultURL = "https://cdn.example.com/v.mp4"
	require.NoError(t, s.SaveJob(ctx, job))

	var row jobRow
	require.NoError(t, s.db.First(&row, "task_id = ?", "T1").Error)
	assert.Equal(t, "completed", row.Status)
	assert.Equal(t, "https://cdn.example.com/v.mp4", row.ResultURL)
}

func TestAppendActivity(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.AppendActivity(ctx, storage.ActivityRecord{
		UserID:   "u1",
		Action:   "video",
		Metadata: map[string]any{"task_id": "T1"},
	}))
	items, err := s.Activities(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, storage.OutcomeSuccess, items[0].Outcome)
	assert.Equal(t, "T1", items[0].Metadata["task_id"])
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	_, err = s.SaveProfile(context.Background(), storage.Profile{UserID: "u", Name: "n", Channel: "@chan", Tone: "casual"})
	assert.NoError(t, err)
}

func TestUserStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	empty, err := s.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, storage.UserStats{}, empty)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, rec := range []storage.ActivityRecord{
		{UserID: "u1", Action: "viral"},
		{UserID: "u1", Action: "trends"},
		{UserID: "u1", Action: "publish"},
		{UserID: "u1", Action: "video", Outcome: storage.OutcomeError},
		{UserID: "u1", Action: "help"},
		{UserID: "u2", Action: "viral"},
	} {
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.AppendActivity(ctx, rec))
	}
	require.NoError(t, s.SaveJob(ctx, storage.JobRecord{TaskID: "T1", UserID: "u1", Outcome: storage.CompletedJob}))
	require.NoError(t, s.SaveJob(ctx, storage.JobRecord{TaskID: "T2", UserID: "u2", Outcome: storage.CompletedJob}))

	stats, err := s.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Interactions)
	assert.Equal(t, 2, stats.Generations)
	assert.Equal(t, 1, stats.Posts)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.Videos)
	assert.True(t, base.Add(4*time.Minute).Equal(stats.LastActive), "last active %s", stats.LastActive)
}
