package config

import "time"

const (
	// Inactivity
	DefaultInactivityTimeout = 1800 * time.Second

	// Mood
	MoodHistoryLimit = 30
	MaxMoodLength    = 32
	MaxNoteLength    = 280

	// Profile
	MaxNicknameLength = 64
	MaxBioLength      = 500

	// Rooms
	MaxRoomNameLength = 64

	// Matchmaking
	MatchRounds        = 3
	MatchCandidatesCap = 20

	// Store
	StoreRetryBackoff = 10 * time.Millisecond
)
