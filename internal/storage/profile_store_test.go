package storage_test

import (
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestProfileRepository(t *testing.T) *storage.ProfileRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection to :memory: would otherwise get its own database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := storage.NewProfileRepository(db)
	require.NoError(t, repo.Migrate())
	return repo
}

func TestProfileRepository_SaveAndGet(t *testing.T) {
	repo := newTestProfileRepository(t)
	ctx := context.Background()

	got, err := repo.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got, "missing profile is not an error")

	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveProfile(ctx, &models.Profile{
		SessionID: 1, Nickname: "owl", AvatarEmoji: "🦉", Bio: "night reader", CreatedAt: created,
	}))

	require.NoError(t, repo.SaveProfile(ctx, &models.Profile{
		SessionID: 1, Nickname: "lark", AvatarEmoji: "🐦", Bio: "early riser", CreatedAt: created.Add(time.Hour),
	}))

	got, err = repo.GetProfile(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "lark", got.Nickname)
	assert.Equal(t, "🐦", got.AvatarEmoji)
	assert.Equal(t, "early riser", got.Bio)
	assert.True(t, got.CreatedAt.Equal(created), "upsert must keep the first created_at")
}

func TestProfileRepository_MoodHistoryIsCappedNewestFirst(t *testing.T) {
	repo := newTestProfileRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 35; i++ {
		require.NoError(t, repo.AppendMood(ctx, &models.MoodEntry{
			SessionID: 1,
			Mood:      "calm",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.AppendMood(ctx, &models.MoodEntry{SessionID: 2, Mood: "calm", CreatedAt: base}))

	moods, err := repo.GetMoods(ctx, 1)
	require.NoError(t, err)
	require.Len(t, moods, 30)
	assert.True(t, moods[0].CreatedAt.Equal(base.Add(34*time.Minute)))
	assert.True(t, moods[29].CreatedAt.Equal(base.Add(5*time.Minute)))
	for i := 1; i < len(moods); i++ {
		assert.True(t, moods[i-1].CreatedAt.After(moods[i].CreatedAt))
	}
}

func TestProfileRepository_AppendMoodPrunesOldEntries(t *testing.T) {
	repo := newTestProfileRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 35; i++ {
		require.NoError(t, repo.AppendMood(ctx, &models.MoodEntry{
			SessionID: 1,
			Mood:      "calm",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.AppendMood(ctx, &models.MoodEntry{SessionID: 2, Mood: "calm", CreatedAt: base}))

	var stored int64
	require.NoError(t, repo.DB.Model(&models.MoodEntry{}).Where("session_id = ?", 1).Count(&stored).Error)
	assert.Equal(t, int64(30), stored)

	var oldest models.MoodEntry
	require.NoError(t, repo.DB.Where("session_id = ?", 1).Order("created_at asc").First(&oldest).Error)
	assert.True(t, oldest.CreatedAt.Equal(base.Add(5*time.Minute)))

	require.NoError(t, repo.DB.Model(&models.MoodEntry{}).Where("session_id = ?", 2).Count(&stored).Error)
	assert.Equal(t, int64(1), stored, "other sessions are not pruned")

	stats, err := repo.GetMoodStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"calm": 36}, stats, "stats keep counting pruned entries")
}

func TestProfileRepository_MoodStats(t *testing.T) {
	repo := newTestProfileRepository(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.AppendMood(ctx, &models.MoodEntry{
			SessionID: 1, Mood: "happy", Note: "great day", CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.AppendMood(ctx, &models.MoodEntry{SessionID: 2, Mood: "sad"}))

	stats, err := repo.GetMoodStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"happy": 5, "sad": 1}, stats)

	moods, err := repo.GetMoods(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, moods, 5)
	assert.Equal(t, "great day", moods[0].Note)
}

func TestProfileRepository_Ping(t *testing.T) {
	repo := newTestProfileRepository(t)
	assert.NoError(t, repo.Ping(context.Background()))
}
