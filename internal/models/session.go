package models

import (
	"errors"
	"fmt"
	"time"
)

// ContextState is the tag of a session's single active context.
type ContextState string

const (
	StateIdle      ContextState = "idle"
	StateSearching ContextState = "searching"
	StatePaired    ContextState = "paired"
	StateInRoom    ContextState = "in_room"
)

// SessionContext is a tagged union: exactly one of Idle, Searching,
// Paired(PartnerID) or InRoom(RoomID). Payload fields are only meaningful
// for the matching State.
type SessionContext struct {
	State     ContextState `json:"state"`
	PartnerID int64        `json:"partner_id,omitempty"`
	RoomID    string       `json:"room_id,omitempty"`
}

func IdleContext() SessionContext      { return SessionContext{State: StateIdle} }
func SearchingContext() SessionContext { return SessionContext{State: StateSearching} }

func PairedContext(partnerID int64) SessionContext {
	return SessionContext{State: StatePaired, PartnerID: partnerID}
}

func InRoomContext(roomID string) SessionContext {
	return SessionContext{State: StateInRoom, RoomID: roomID}
}

func (c SessionContext) IsIdle() bool      { return c.State == StateIdle || c.State == "" }
func (c SessionContext) IsSearching() bool { return c.State == StateSearching }

// IsPairedWith reports whether the context is Paired(partnerID).
func (c SessionContext) IsPairedWith(partnerID int64) bool {
	return c.State == StatePaired && c.PartnerID == partnerID
}

// IsInRoom reports whether the context is InRoom(roomID).
func (c SessionContext) IsInRoom(roomID string) bool {
	return c.State == StateInRoom && c.RoomID == roomID
}

// Busy is true for the contexts that block find, join and create.
func (c SessionContext) Busy() bool {
	return c.State == StatePaired || c.State == StateInRoom
}

var ErrInvalidContext = errors.New("invalid session context")

// Validate checks that the payload matches the tag.
func (c SessionContext) Validate() error {
	switch c.State {
	case StateIdle, StateSearching, "":
		if c.PartnerID != 0 || c.RoomID != "" {
			return fmt.Errorf("%w: %s carries a payload", ErrInvalidContext, c.State)
		}
	case StatePaired:
		if c.PartnerID == 0 || c.RoomID != "" {
			return fmt.Errorf("%w: paired needs exactly a partner", ErrInvalidContext)
		}
	case StateInRoom:
		if c.RoomID == "" || c.PartnerID != 0 {
			return fmt.Errorf("%w: in_room needs exactly a room", ErrInvalidContext)
		}
	default:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidContext, c.State)
	}
	return nil
}

func (c SessionContext) String() string {
	switch c.State {
	case StatePaired:
		return fmt.Sprintf("paired(%d)", c.PartnerID)
	case StateInRoom:
		return fmt.Sprintf("in_room(%s)", c.RoomID)
	case "":
		return string(StateIdle)
	default:
		return string(c.State)
	}
}

// Session is the per-user record kept in the session store.
type Session struct {
	ID             int64          `json:"id"`
	Context        SessionContext `json:"context"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	CreatedAt      time.Time      `json:"created_at"`
	ProfileRef     string         `json:"profile_ref,omitempty"`
	MoodRef        string         `json:"mood_ref,omitempty"`
	IsAdmin        bool           `json:"is_admin"`
}

// NewSession returns a fresh Idle session.
func NewSession(id int64, now time.Time) *Session {
	return &Session{
		ID:             id,
		Context:        IdleContext(),
		LastActivityAt: now,
		CreatedAt:      now,
	}
}

// Touch moves LastActivityAt forward; it never goes back.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
}

// IsInactive reports whether a non-idle session has been silent for longer
// than timeout.
func (s *Session) IsInactive(now time.Time, timeout time.Duration) bool {
	if s.Context.IsIdle() || s.LastActivityAt.IsZero() {
		return false
	}
	return now.Sub(s.LastActivityAt) > timeout
}

// Reset discards context and timestamps. Out-of-band attributes survive.
func (s *Session) Reset(now time.Time) {
	s.Context = IdleContext()
	s.LastActivityAt = now
	s.CreatedAt = now
}
