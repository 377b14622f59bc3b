package storage

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PrepareProfile fills the ID and CreatedAt of a profile about to be inserted.
func PrepareProfile(p Profile, now time.Time) Profile {
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now.UTC()
	}
	return p
}

// PrepareActivity fills the ID, CreatedAt and Outcome of an activity record.
func PrepareActivity(rec ActivityRecord, now time.Time) ActivityRecord {
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now.UTC()
	}
	if rec.Outcome == "" {
		rec.Outcome = OutcomeSuccess
	}
	return rec
}

// PublishAction is the activity action of a manual channel post.
const PublishAction = "publish"

// CompletedJob is the outcome stored for a job that delivered a result.
const CompletedJob = "completed"

// GenerationActions are the activity actions that produce generated content.
var GenerationActions = []string{"ask", "viral", "video", "growth", "trends", "competitors"}

// IsGeneration reports whether action is one of GenerationActions.
func IsGeneration(action string) bool {
	return slices.Contains(GenerationActions, action)
}

// Count folds one activity record into the stats.
func (s *UserStats) Count(rec ActivityRecord) {
	s.Interactions++
	switch rec.Outcome {
	case OutcomeSuccess:
		if IsGeneration(rec.Action) {
			s.Generations++
		}
		if rec.Action == PublishAction {
			s.Posts++
		}
	case OutcomeError:
		s.Failures++
	}
	if rec.CreatedAt.After(s.LastActive) {
		s.LastActive = rec.CreatedAt
	}
}
