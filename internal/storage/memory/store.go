// Package memory is an in-process storage backend.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/memohai/promobot/internal/storage"
)

// Store keeps everything in maps guarded by one mutex. Writes are rare
// (wizard completion, job handoff, audit) so contention is not a concern.
type Store struct {
	mu         sync.RWMutex
	profiles   map[string][]storage.Profile
	jobs       map[string]storage.JobRecord
	activities []storage.ActivityRecord
	now        func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		profiles: map[string][]storage.Profile{},
		jobs:     map[string]storage.JobRecord{},
		now:      time.Now,
	}
}

func (s *Store) SaveProfile(_ context.Context, p storage.Profile) (storage.Profile, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return storage.Profile{}, fmt.Errorf("user id is required")
	}
	p = storage.PrepareProfile(p, s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	p.IsDefault = len(s.profiles[p.UserID]) == 0
	s.profiles[p.UserID] = append(s.profiles[p.UserID], p)
	return p, nil
}

func (s *Store) DefaultProfile(_ context.Context, userID string) (storage.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles[userID] {
		if p.IsDefault {
			return p, nil
		}
	}
	return storage.Profile{}, storage.ErrNotFound
}

func (s *Store) ListProfiles(_ context.Context, userID string) ([]storage.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]storage.Profile, len(s.profiles[userID]))
	copy(items, s.profiles[userID])
	return items, nil
}

func (s *Store) SaveJob(_ context.Context, job storage.JobRecord) error {
	if strings.TrimSpace(job.TaskID) == "" {
		return fmt.Errorf("task id is required")
	}
	s.mu.Lock()
	s.jobs[job.TaskID] = job
	s.mu.Unlock()
	return nil
}

func (s *Store) AppendActivity(_ context.Context, rec storage.ActivityRecord) error {
	rec = storage.PrepareActivity(rec, s.now())
	s.mu.Lock()
	s.activities = append(s.activities, rec)
	s.mu.Unlock()
	return nil
}

func (s *Store) UserStats(_ context.Context, userID string) (storage.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats storage.UserStats
	for _, rec := range s.activities {
		if rec.UserID == userID {
			stats.Count(rec)
		}
	}
	for _, job := range s.jobs {
		if job.UserID == userID && job.Outcome == storage.CompletedJob {
			stats.Videos++
		}
	}
	return stats, nil
}

// Job returns a saved job record.
func (s *Store) Job(taskID string) (storage.JobRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[taskID]
	return job, ok
}

// Activities returns a copy of the activity log.
func (s *Store) Activities() []storage.ActivityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]storage.ActivityRecord, len(s.activities))
	copy(items, s.activities)
	return items
}
