package storage

import (
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/models"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileStore is the durable profile and mood collaborator.
type ProfileStore interface {
	SaveProfile(ctx context.Context, profile *models.Profile) error
	GetProfile(ctx context.Context, sessionID int64) (*models.Profile, error)
	AppendMood(ctx context.Context, entry *models.MoodEntry) error
	GetMoods(ctx context.Context, sessionID int64) ([]models.MoodEntry, error)
	GetMoodStats(ctx context.Context) (map[string]int64, error)
	Ping(ctx context.Context) error
}

// ProfileRepository implements ProfileStore on top of gorm.
type ProfileRepository struct {
	DB *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{DB: db}
}

// Migrate створює таблиці профілів та настроїв
func (r *ProfileRepository) Migrate() error {
	return r.DB.AutoMigrate(&models.Profile{}, &models.MoodEntry{}, &models.MoodStat{})
}

// SaveProfile upserts the profile keyed by session id. created_at of an
// existing row is kept.
func (r *ProfileRepository) SaveProfile(ctx context.Context, profile *models.Profile) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"nickname", "avatar_emoji", "bio", "updated_at"}),
	}).Create(profile).Error
}

// GetProfile returns nil without an error when the user has no profile yet.
func (r *ProfileRepository) GetProfile(ctx context.Context, sessionID int64) (*models.Profile, error) {
	var profile models.Profile
	err := r.DB.WithContext(ctx).Where("session_id = ?", sessionID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// AppendMood stores entry, bumps the running count of its mood and drops
// the session's entries beyond the newest MoodHistoryLimit.
func (r *ProfileRepository) AppendMood(ctx context.Context, entry *models.MoodEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		stat := models.MoodStat{Mood: entry.Mood, Count: 1}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mood"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("mood_stats.count + ?", 1)}),
		}).Create(&stat).Error
		if err != nil {
			return err
		}

		keep := tx.Model(&models.MoodEntry{}).
			Select("id").
			Where("session_id = ?", entry.SessionID).
			Order("created_at desc").
			Limit(config.MoodHistoryLimit)
		return tx.Where("session_id = ? AND id NOT IN (?)", entry.SessionID, keep).
			Delete(&models.MoodEntry{}).Error
	})
}

// GetMoods returns the user's most recent mood entries, newest first.
func (r *ProfileRepository) GetMoods(ctx context.Context, sessionID int64) ([]models.MoodEntry, error) {
	var entries []models.MoodEntry
	err := r.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at desc").
		Limit(config.MoodHistoryLimit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetMoodStats returns how often each mood was ever recorded.
func (r *ProfileRepository) GetMoodStats(ctx context.Context) (map[string]int64, error) {
	var rows []models.MoodStat
	if err := r.DB.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	stats := make(map[string]int64, len(rows))
	for _, row := range rows {
		stats[row.Mood] = row.Count
	}
	return stats, nil
}

func (r *ProfileRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
