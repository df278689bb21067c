package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cad-copilot/backend/internal/models"
)

func newRepo(t *testing.T) *SessionRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewSessionRepository(db)
	require.NoError(t, repo.Migrate())
	return repo
}

func TestSessionLifecycle(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	s := &models.Session{ID: "s1", Model: "claude-3.5", AutoRetry: true, MaxRetryCount: 4}
	require.NoError(t, repo.CreateSession(ctx, s))

	got, err := repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "claude-3.5", got.Model)
	assert.True(t, got.AutoRetry)

	got.AutoRetry = false
	got.MaxRetryCount = 2
	require.NoError(t, repo.UpdateSettings(ctx, got))
	got, err = repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, got.AutoRetry)
	assert.Equal(t, 2, got.MaxRetryCount)

	list, err := repo.ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.DeleteSession(ctx, "s1"))
	_, err = repo.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, repo.DeleteSession(ctx, "s1"), ErrSessionNotFound)
	assert.ErrorIs(t, repo.UpdateSettings(ctx, &models.Session{ID: "nope"}), ErrSessionNotFound)
}

func TestSaveLoadLogKeepsOrder(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateSession(ctx, &models.Session{ID: "s1", Model: "claude-3.5"}))

	desc := models.ErrorDescriptor{Kind: "TypeError", Message: "bad", Line: 1, Column: 4}
	log := []models.Message{
		models.NewText(models.RoleUser, models.LabelRequest, "a cube", "claude-3.5"),
		models.NewCode("return main()", "claude-3.5"),
		models.NewError(desc, "claude-3.5"),
	}
	for i := range log {
		log[i].Timestamp = time.Date(2024, 6, 1, 0, 0, i, 0, time.UTC)
	}
	require.NoError(t, repo.SaveLog(ctx, "s1", log))

	loaded, err := repo.LoadLog(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, log, loaded)

	// saving again replaces instead of appending
	require.NoError(t, repo.SaveLog(ctx, "s1", log[:1]))
	loaded, err = repo.LoadLog(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	require.NoError(t, repo.SaveLog(ctx, "s1", nil))
	loaded, err = repo.LoadLog(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
