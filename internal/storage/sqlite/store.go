// Package sqlite is a single-file storage backend built on gorm with the
// pure-Go SQLite driver, for deployments without PostgreSQL.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqliteDriver "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/memohai/promobot/internal/storage"
)

type profileRow struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index:idx_profiles_user"`
	Name      string
	Channel   string
	Tone      string
	Topics    string
	IsDefault bool
	CreatedAt time.Time `gorm:"index:idx_profiles_user"`
}

func (profileRow) TableName() string { return "profiles" }

type jobRow struct {
	TaskID       string `gorm:"primaryKey"`
	UserID       string
	Kind         string
	Status       string
	Outcome      string
	ResultURL    string
	ErrorReason  string
	CostEstimate float64
	SubmittedAt  time.Time
	FinishedAt   time.Time
}

func (jobRow) TableName() string { return "generation_jobs" }

type activityRow struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"index"`
	Action      string `gorm:"size:100"`
	Description string
	Outcome     string `gorm:"size:20"`
	Metadata    string
	CreatedAt   time.Time
}

func (activityRow) TableName() string { return "activity_logs" }

// Store implements storage.Store on gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates the schema.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "promobot.db"
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite db dir: %w", err)
			}
		}
	}
	gdb, err := gorm.Open(sqliteDriver.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := gdb.AutoMigrate(&profileRow{}, &jobRow{}, &activityRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: gdb, now: time.Now}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) SaveProfile(ctx context.Context, p storage.Profile) (storage.Profile, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return storage.Profile{}, fmt.Errorf("user id is required")
	}
	p = storage.PrepareProfile(p, s.now())
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&profileRow{}).Where("user_id = ? AND is_default", p.UserID).Count(&existing).Error; err != nil {
			return err
		}
		p.IsDefault = existing == 0
		return tx.Create(&profileRow{
			ID:        p.ID,
			UserID:    p.UserID,
			Name:      p.Name,
			Channel:   p.Channel,
			Tone:      p.Tone,
			Topics:    p.Topics,
			IsDefault: p.IsDefault,
			CreatedAt: p.CreatedAt,
		}).Error
	})
	if err != nil {
		return storage.Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return p, nil
}

func (s *Store) DefaultProfile(ctx context.Context, userID string) (storage.Profile, error) {
	var row profileRow
	err := s.db.WithContext(ctx).Where("user_id = ? AND is_default", userID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storage.Profile{}, storage.ErrNotFound
		}
		return storage.Profile{}, fmt.Errorf("get default profile: %w", err)
	}
	return row.toProfile(), nil
}

func (s *Store) ListProfiles(ctx context.Context, userID string) ([]storage.Profile, error) {
	var rows []profileRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	items := make([]storage.Profile, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toProfile())
	}
	return items, nil
}

func (s *Store) SaveJob(ctx context.Context, job storage.JobRecord) error {
	if strings.TrimSpace(job.TaskID) == "" {
		return fmt.Errorf("task id is required")
	}
	row := jobRow{
		TaskID:       job.TaskID,
		UserID:       job.UserID,
		Kind:         job.Kind,
		Status:       job.Status,
		Outcome:      job.Outcome,
		ResultURL:    job.ResultURL,
		ErrorReason:  job.ErrorReason,
		CostEstimate: job.CostEstimate,
		SubmittedAt:  job.SubmittedAt,
		FinishedAt:   job.FinishedAt,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *Store) AppendActivity(ctx context.Context, rec storage.ActivityRecord) error {
	rec = storage.PrepareActivity(rec, s.now())
	metadata := ""
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(raw)
	}
	err := s.db.WithContext(ctx).Create(&activityRow{
		ID:          rec.ID,
		UserID:      rec.UserID,
		Action:      rec.Action,
		Description: rec.Description,
		Outcome:     rec.Outcome,
		Metadata:    metadata,
		CreatedAt:   rec.CreatedAt,
	}).Error
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

func (s *Store) UserStats(ctx context.Context, userID string) (storage.UserStats, error) {
	var agg struct {
		Interactions int64
		Generations  int64
		Posts        int64
		Failures     int64
	}
	err := s.db.WithContext(ctx).Model(&activityRow{}).
		Select(`COUNT(*) AS interactions,
COALESCE(SUM(CASE WHEN outcome = ? AND action IN ? THEN 1 ELSE 0 END), 0) AS generations,
COALESCE(SUM(CASE WHEN outcome = ? AND action = ? THEN 1 ELSE 0 END), 0) AS posts,
COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS failures`,
			storage.OutcomeSuccess, storage.GenerationActions,
			storage.OutcomeSuccess, storage.PublishAction,
			storage.OutcomeError).
		Where("user_id = ?", userID).
		Scan(&agg).Error
	if err != nil {
		return storage.UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	stats := storage.UserStats{
		Interactions: int(agg.Interactions),
		Generations:  int(agg.Generations),
		Posts:        int(agg.Posts),
		Failures:     int(agg.Failures),
	}

	var last activityRow
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Limit(1).Find(&last)
	if res.Error != nil {
		return storage.UserStats{}, fmt.Errorf("user stats: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		stats.LastActive = last.CreatedAt
	}

	var videos int64
	err = s.db.WithContext(ctx).Model(&jobRow{}).
		Where("user_id = ? AND outcome = ?", userID, storage.CompletedJob).
		Count(&videos).Error
	if err != nil {
		return storage.UserStats{}, fmt.Errorf("user stats: %w", err)
	}
	stats.Videos = int(videos)
	return stats, nil
}

// Activities returns a user's activity log, oldest first.
func (s *Store) Activities(ctx context.Context, userID string) ([]storage.ActivityRecord, error) {
	var rows []activityRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	items := make([]storage.ActivityRecord, 0, len(rows))
	for _, row := range rows {
		rec := storage.ActivityRecord{
			ID:          row.ID,
			UserID:      row.UserID,
			Action:      row.Action,
			Description: row.Description,
			Outcome:     row.Outcome,
			CreatedAt:   row.CreatedAt,
		}
		if row.Metadata != "" {
			_ = json.Unmarshal([]byte(row.Metadata), &rec.Metadata)
		}
		items = append(items, rec)
	}
	return items, nil
}

func (r profileRow) toProfile() storage.Profile {
	return storage.Profile{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		Channel:   r.Channel,
		Tone:      r.Tone,
		Topics:    r.Topics,
		IsDefault: r.IsDefault,
		CreatedAt: r.CreatedAt,
	}
}
