package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Profile is the public card a user can show to whoever they are talking to.
type Profile struct {
	SessionID   int64     `gorm:"primaryKey;autoIncrement:false" json:"session_id"`
	Nickname    string    `gorm:"size:64;not null" json:"nickname"`
	AvatarEmoji string    `gorm:"size:16" json:"avatar_emoji"`
	Bio         string    `gorm:"type:text" json:"bio"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Ref is the value stored in Session.ProfileRef.
func (p *Profile) Ref() string {
	return strconv.FormatInt(p.SessionID, 10)
}

// MoodEntry is one mood record in a user's history.
type MoodEntry struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	SessionID int64     `gorm:"index:idx_mood_session_time;not null" json:"session_id"`
	Mood      string    `gorm:"size:32;index;not null" json:"mood"`
	Note      string    `gorm:"type:text" json:"note,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_mood_session_time" json:"created_at"`
}

// BeforeCreate generates the entry id when it is not set.
func (m *MoodEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// MoodStat is the running count of a mood across all users. It keeps
// counting after old entries are pruned from the history.
type MoodStat struct {
	Mood  string `gorm:"primaryKey;size:32" json:"mood"`
	Count int64  `gorm:"not null;default:0" json:"count"`
}

// MoodCount is one row of the mood statistics aggregate.
type MoodCount struct {
	Mood  string `json:"mood"`
	Count int64  `json:"count"`
}
