package models

import (
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MinRoomCapacity = 2
	MaxRoomCapacity = 50
)

var ErrInvalidCapacity = errors.New("capacity must be a number")

// Room is a named group chat with a bounded member set.
type Room struct {
	// ID is the generated room identifier (UUID).
	ID string `json:"id"`
	// Name is the display name given at creation.
	Name string `json:"name"`
	// Members holds the session ids currently in the room.
	Members []int64 `json:"members"`
	// Capacity is fixed at creation and always within [MinRoomCapacity, MaxRoomCapacity].
	Capacity int `json:"capacity"`
	// CreatedBy is the session that created the room.
	CreatedBy int64 `json:"created_by"`
	// CreatedAt is used to collect rooms nobody ever joined.
	CreatedAt time.Time `json:"created_at"`
}

// NewRoom builds an empty room with a fresh id and a clamped capacity.
func NewRoom(name string, capacity int, createdBy int64, now time.Time) *Room {
	return &Room{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(name),
		Members:   []int64{},
		Capacity:  ClampCapacity(capacity),
		CreatedBy: createdBy,
		CreatedAt: now,
	}
}

// ClampCapacity bounds n to [MinRoomCapacity, MaxRoomCapacity].
func ClampCapacity(n int) int {
	return min(max(n, MinRoomCapacity), MaxRoomCapacity)
}

// ParseCapacity parses user input and clamps it. Non-numeric input is an error.
func ParseCapacity(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, ErrInvalidCapacity
	}
	return ClampCapacity(n), nil
}

func (r *Room) HasMember(id int64) bool {
	return slices.Contains(r.Members, id)
}

func (r *Room) IsFull() bool {
	return len(r.Members) >= r.Capacity
}

func (r *Room) IsEmpty() bool {
	return len(r.Members) == 0
}

// AddMember adds id if absent. It reports false when the room is full.
func (r *Room) AddMember(id int64) bool {
	if r.HasMember(id) {
		return true
	}
	if r.IsFull() {
		return false
	}
	r.Members = append(r.Members, id)
	return true
}

// RemoveMember removes id and reports whether it was present.
func (r *Room) RemoveMember(id int64) bool {
	i := slices.Index(r.Members, id)
	if i < 0 {
		return false
	}
	r.Members = slices.Delete(r.Members, i, i+1)
	return true
}

// OtherMembers returns every member except id.
func (r *Room) OtherMembers(id int64) []int64 {
	out := make([]int64, 0, len(r.Members))
	for _, m := range r.Members {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}
