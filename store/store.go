// Package store keeps a record of finished analyses in a SQL database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	iface "FloorAuditServer/interface"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("session not found")

type Store struct {
	db *gorm.DB
}

// Open connects with driver "sqlite" or "postgres" and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dsn = "floor-audit.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return New(db)
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&SessionModel{}, &DetectedElementModel{}, &RequirementModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Session is the caller-facing view of SessionModel.
type Session struct {
	ID             string                `json:"id"`
	FileName       string                `json:"fileName"`
	Status         string                `json:"status"`
	BuildingType   string                `json:"buildingType"`
	ModelSet       string                `json:"modelSet"`
	Pages          int                   `json:"pages"`
	PixelsPerMeter float64               `json:"pixelsPerMeter"`
	Error          string                `json:"error,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	CompletedAt    *time.Time            `json:"completedAt,omitempty"`
	Result         *iface.AnalysisResult `json:"result,omitempty"`
}

func (m *SessionModel) toSession() (*Session, error) {
	s := &Session{
		ID:             m.ID,
		FileName:       m.FileName,
		Status:         m.Status,
		BuildingType:   m.BuildingType,
		ModelSet:       m.ModelSet,
		Pages:          m.Pages,
		PixelsPerMeter: m.PixelsPerMeter,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
		CompletedAt:    m.CompletedAt,
	}
	if m.Result != "" {
		var r iface.AnalysisResult
		if err := json.Unmarshal([]byte(m.Result), &r); err != nil {
			return nil, fmt.Errorf("session %s: decode result: %w", m.ID, err)
		}
		s.Result = &r
	}
	return s, nil
}

// Create records a new session in the processing state.
func (s *Store) Create(ctx context.Context, sess Session) error {
	m := SessionModel{
		ID:             sess.ID,
		FileName:       sess.FileName,
		Status:         StatusProcessing,
		BuildingType:   sess.BuildingType,
		ModelSet:       sess.ModelSet,
		Pages:          sess.Pages,
		PixelsPerMeter: sess.PixelsPerMeter,
		CreatedAt:      sess.CreatedAt,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// Complete stores the result with its elements and requirements in one
// transaction.
func (s *Store) Complete(ctx context.Context, id string, result iface.AnalysisResult, at time.Time) error {
	b, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&SessionModel{}).Where("id = ?", id).Updates(map[string]any{
			"status":       StatusCompleted,
			"result":       string(b),
			"completed_at": at,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if els := elementModels(id, result.Detections, at); len(els) > 0 {
			if err := tx.CreateInBatches(&els, 200).Error; err != nil {
				return err
			}
		}
		if reqs := requirementModels(id, result.Requirements, at); len(reqs) > 0 {
			if err := tx.Create(&reqs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Finish moves a session to a terminal non-success status.
func (s *Store) Finish(ctx context.Context, id, status, msg string, at time.Time) error {
	if status != StatusFailed && status != StatusCanceled {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	res := s.db.WithContext(ctx).Model(&SessionModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":       status,
		"error":        msg,
		"completed_at": at,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	var m SessionModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.toSession()
}

// List returns the newest sessions first, without their results.
func (s *Store) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	var ms []SessionModel
	if err := s.db.WithContext(ctx).Omit("result").Order("created_at desc").Limit(limit).Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(ms))
	for i := range ms {
		sess, err := ms[i].toSession()
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, nil
}

func (s *Store) Requirements(ctx context.Context, id string) ([]RequirementModel, error) {
	var reqs []RequirementModel
	err := s.db.WithContext(ctx).Where("session_id = ?", id).Order("position").Find(&reqs).Error
	return reqs, err
}

// ElementCounts returns the stored detection histogram of a session.
func (s *Store) ElementCounts(ctx context.Context, id string) (map[string]int, error) {
	var rows []struct {
		ElementType string
		N           int
	}
	err := s.db.WithContext(ctx).Model(&DetectedElementModel{}).
		Select("element_type, count(*) as n").
		Where("session_id = ?", id).
		Group("element_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.ElementType] = r.N
	}
	return counts, nil
}
