// Package postgres is the PostgreSQL storage backend (pgx).
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memohai/promobot/internal/db"
	"github.com/memohai/promobot/internal/storage"
)

const (
	insertProfileSQL = `
INSERT INTO profiles (id, user_id, name, channel, tone, topics, is_default, created_at)
VALUES ($1, $2, $3, $4, $5, $6,
        NOT EXISTS (SELECT 1 FROM profiles WHERE user_id = $2 AND is_default), $7)
RETURNING is_default`

	selectProfileColumns = `SELECT id, user_id, name, channel, tone, topics, is_default, created_at FROM profiles`

	upsertJobSQL = `
INSERT INTO generation_jobs (task_id, user_id, kind, status, outcome, result_url, error_reason, cost_estimate, submitted_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (task_id) DO UPDATE SET
    status = EXCLUDED.status,
    outcome = EXCLUDED.outcome,
    result_url = EXCLUDED.result_url,
    error_reason = EXCLUDED.error_reason,
    finished_at = EXCLUDED.finished_at`

	insertActivitySQL = `
INSERT INTO activity_logs (id, user_id, action, description, outcome, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	userStatsSQL = `
SELECT count(*),
       count(*) FILTER (WHERE outcome = $2 AND action = ANY($3)),
       count(*) FILTER (WHERE outcome = $2 AND action = $4),
       count(*) FILTER (WHERE outcome = $5),
       max(created_at),
       (SELECT count(*) FROM generation_jobs WHERE user_id = $1 AND outcome = $6)
FROM activity_logs
WHERE user_id = $1`
)

// Store implements storage.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

func (s *Store) SaveProfile(ctx context.Context, p storage.Profile) (storage.Profile, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return storage.Profile{}, fmt.Errorf("user id is required")
	}
	p = storage.PrepareProfile(p, s.now())
	id, err := db.ParseUUID(p.ID)
	if err != nil {
		return storage.Profile{}, err
	}
	insert := func() error {
		row := s.pool.QueryRow(ctx, insertProfileSQL,
			id, p.UserID, p.Name, p.Channel, p.Tone, db.StringToText(p.Topics), p.CreatedAt)
		return row.Scan(&p.IsDefault)
	}
	err = insert()
	// Two concurrent first profiles race for the default slot; the loser
	// is retried once and then sees the winner's default.
	if db.IsUniqueViolation(err) {
		err = insert()
	}
	if err != nil {
		return storage.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return p, nil
}

func (s *Store) DefaultProfile(ctx context.Context, userID string) (storage.Profile, error) {
	row := s.pool.QueryRow(ctx, selectProfileColumns+` WHERE user_id = $1 AND is_default LIMIT 1`, userID)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.Profile{}, storage.ErrNotFound
		}
		return storage.Profile{}, fmt.Errorf("get default profile: %w", err)
	}
	return p, nil
}

func (s *Store) ListProfiles(ctx context.Context, userID string) ([]storage.Profile, error) {
	rows, err := s.pool.Query(ctx, selectProfileColumns+` WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()
	items := make([]storage.Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *Store) SaveJob(ctx context.Context, job storage.JobRecord) error {
	if strings.TrimSpace(job.TaskID) == "" {
		return fmt.Errorf("task id is required")
	}
	_, err := s.pool.Exec(ctx, upsertJobSQL,
		job.TaskID, job.UserID, job.Kind, job.Status, job.Outcome,
		db.StringToText(job.ResultURL), db.StringToText(job.ErrorReason),
		job.CostEstimate, job.SubmittedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *Store) AppendActivity(ctx context.Context, rec storage.ActivityRecord) error {
	rec = storage.PrepareActivity(rec, s.now())
	id, err := db.ParseUUID(rec.ID)
	if err != nil {
		return err
	}
	var metadata []byte
	if len(rec.Metadata) > 0 {
		metadata, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}
	_, err = s.pool.Exec(ctx, insertActivitySQL,
		id, rec.UserID, rec.Action, db.StringToText(rec.Description), rec.Outcome, metadata, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

func (s *Store) UserStats(ctx context.Context, userID string) (storage.UserStats, error) {
	var (
		interactions, generations, posts, failures, videos int64
		lastActive                                         pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx, userStatsSQL,
		userID, storage.OutcomeSuccess, storage.GenerationActions, storage.PublishAction, storage.OutcomeError, storage.CompletedJob,
	).Scan(&interactions, &generations, &posts, &failures, &lastActive, &videos)
	if err != nil {
		return storage.UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	return storage.UserStats{
		Interactions: int(interactions),
		Generations:  int(generations),
		Posts:        int(posts),
		Videos:       int(videos),
		Failures:     int(failures),
		LastActive:   db.TimeFromPg(lastActive),
	}, nil
}

func scanProfile(row pgx.Row) (storage.Profile, error) {
	var (
		id        pgtype.UUID
		topics    pgtype.Text
		createdAt pgtype.Timestamptz
		p         storage.Profile
	)
	if err := row.Scan(&id, &p.UserID, &p.Name, &p.Channel, &p.Tone, &topics, &p.IsDefault, &createdAt); err != nil {
		return storage.Profile{}, err
	}
	p.ID = db.UUIDToString(id)
	p.Topics = db.TextToString(topics)
	p.CreatedAt = db.TimeFromPg(createdAt)
	return p, nil
}
