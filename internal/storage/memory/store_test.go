package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/promobot/internal/storage"
)

func TestProfilesFirstIsDefault(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	_, err := s.DefaultProfile(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first, err := s.SaveProfile(ctx, storage.Profile{UserID: "u1", Name: "Main", Channel: "@main", Tone: "casual"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.True(t, first.IsDefault)

	second, err := s.SaveProfile(ctx, storage.Profile{UserID: "u1", Name: "Side", Channel: "@side", Tone: "casual"})
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	def, err := s.DefaultProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, def.ID)

	items, err := s.ListProfiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Main", items[0].Name)

	_, err = s.SaveProfile(ctx, storage.Profile{Name: "orphan"})
	assert.Error(t, err)
}

func TestJobsAndActivities(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	require.NoError(t, s.SaveJob(ctx, storage.JobRecord{TaskID: "T1", Status: "completed"}))
	assert.Error(t, s.SaveJob(ctx, storage.JobRecord{}))

	job, ok := s.Job("T1")
	require.True(t, ok)
	assert.Equal(t, "completed", job.Status)

	require.NoError(t, s.AppendActivity(ctx, storage.ActivityRecord{UserID: "u1", Action: "viral"}))
	acts := s.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, storage.OutcomeSuccess, acts[0].Outcome)
	assert.NotEmpty(t, acts[0].ID)
	assert.False(t, acts[0].CreatedAt.IsZero())
}

func TestUserStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	for _, rec := range []storage.ActivityRecord{
		{UserID: "u1", Action: "viral"},
		{UserID: "u1", Action: "growth"},
		{UserID: "u1", Action: "publish"},
		{UserID: "u1", Action: "ask", Outcome: storage.OutcomeError},
		{UserID: "u2", Action: "viral"},
	} {
		require.NoError(t, s.AppendActivity(ctx, rec))
	}
	require.NoError(t, s.SaveJob(ctx, storage.JobRecord{TaskID: "T1", UserID: "u1", Outcome: storage.CompletedJob}))
	require.NoError(t, s.SaveJob(ctx, storage.JobRecord{TaskID: "T2", UserID: "u1", Outcome: "timeout"}))

	stats, err := s.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Interactions)
	assert.Equal(t, 2, stats.Generations)
	assert.Equal(t, 1, stats.Posts)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.Videos)
	assert.False(t, stats.LastActive.IsZero())

	empty, err := s.UserStats(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, storage.UserStats{}, empty)
}
