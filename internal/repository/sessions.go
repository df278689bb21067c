package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"cad-copilot/backend/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRepository persists sessions and their logs.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Migrate creates the tables.
func (r *SessionRepository) Migrate() error {
	return r.db.AutoMigrate(&models.Session{}, &models.MessageRecord{})
}

func (r *SessionRepository) CreateSession(ctx context.Context, s *models.Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *SessionRepository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns sessions, most recently updated first.
func (r *SessionRepository) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	var sessions []models.Session
	q := r.db.WithContext(ctx).Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateSettings stores the retry settings and model of a session.
func (r *SessionRepository) UpdateSettings(ctx context.Context, s *models.Session) error {
	res := r.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", s.ID).Updates(map[string]any{
		"model":           s.Model,
		"auto_retry":      s.AutoRetry,
		"max_retry_count": s.MaxRetryCount,
		"updated_at":      time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&models.MessageRecord{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Session{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
}

// SaveLog replaces the stored log of a session.
func (r *SessionRepository) SaveLog(ctx context.Context, sessionID string, log []models.Message) error {
	records := make([]models.MessageRecord, len(log))
	for i, m := range log {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message %s: %w", m.ID, err)
		}
		records[i] = models.MessageRecord{
			SessionID: sessionID,
			Position:  i,
			MessageID: m.ID,
			Payload:   payload,
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.MessageRecord{}).Error; err != nil {
			return err
		}
		if len(records) > 0 {
			if err := tx.CreateInBatches(records, 100).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.Session{}).Where("id = ?", sessionID).Update("updated_at", time.Now().UTC()).Error
	})
}

// LoadLog returns the stored log in order.
func (r *SessionRepository) LoadLog(ctx context.Context, sessionID string) ([]models.Message, error) {
	var records []models.MessageRecord
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("position ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	log := make([]models.Message, len(records))
	for i, rec := range records {
		if err := json.Unmarshal(rec.Payload, &log[i]); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", rec.MessageID, err)
		}
	}
	return log, nil
}
