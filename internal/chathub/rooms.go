package chathub

import (
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RoomService creates, lists, joins, leaves and collects group rooms.
type RoomService struct {
	Hub *ManagerService
}

func NewRoomService(hub *ManagerService) *RoomService {
	return &RoomService{Hub: hub}
}

// Create persists an empty room. The creator joins only when
// RoomCreatorAutoJoin is set.
func (r *RoomService) Create(ctx context.Context, creator int64, name, capacity string) (*models.Room, error) {
	h := r.Hub
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > config.MaxRoomNameLength {
		return nil, &UsageError{Usage: usageOf(CmdCreateRoom)}
	}
	n, err := models.ParseCapacity(capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	sess, err := h.session(ctx, creator)
	if err != nil {
		return nil, storeErr(err)
	}
	if sess.Context.Busy() {
		return nil, ErrAlreadyBusy
	}

	room := models.NewRoom(name, n, creator, h.now())
	if err := h.Storage.CreateRoom(ctx, room); err != nil {
		return nil, storeErr(err)
	}
	metrics.RoomsCreated.Inc()
	log.Info().Str("module", "chathub.rooms").Str("room_id", room.ID).Int("capacity", room.Capacity).Int64("session_id", creator).Msg("room created")

	if h.Options.RoomCreatorAutoJoin {
		joined, err := r.Join(ctx, room.ID, creator)
		if err != nil {
			return room, err
		}
		return joined, nil
	}
	return room, nil
}

// List returns the rooms that currently have members.
func (r *RoomService) List(ctx context.Context) ([]*models.Room, error) {
	rooms, err := r.Hub.Storage.ListRooms(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	visible := make([]*models.Room, 0, len(rooms))
	for _, room := range rooms {
		if !room.IsEmpty() {
			visible = append(visible, room)
		}
	}
	return visible, nil
}

// Join admits id into roomID.
//
// The session moves to InRoom first so it cannot be matched or join
// elsewhere meanwhile. The member is then added with a conditional write
// that re-checks capacity at commit time. If that fails the session goes
// back to its previous context.
func (r *RoomService) Join(ctx context.Context, roomID string, id int64) (*models.Room, error) {
	h := r.Hub
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, &UsageError{Usage: usageOf(CmdJoinRoom)}
	}

	var prior models.SessionContext
	_, err := h.Storage.UpdateSession(ctx, id, func(s *models.Session) error {
		if s.Context.Busy() {
			return ErrAlreadyBusy
		}
		prior = s.Context
		s.Context = models.InRoomContext(roomID)
		s.Touch(h.now())
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}

	room, err := h.Storage.UpdateRoom(ctx, roomID, func(room *models.Room) error {
		if !room.AddMember(id) {
			return ErrRoomFull
		}
		return nil
	})
	if err != nil {
		if rbErr := h.transition(ctx, id, models.InRoomContext(roomID), prior); rbErr != nil && !errors.Is(rbErr, errContextChanged) {
			log.Error().Str("module", "chathub.rooms").Str("room_id", roomID).Int64("session_id", id).Err(rbErr).Msg("join rollback failed")
		}
		return nil, storeErr(err)
	}

	for _, member := range room.OtherMembers(id) {
		h.notify(ctx, models.Notice(member, "room_member_joined"))
	}
	log.Info().Str("module", "chathub.rooms").Str("room_id", roomID).Int64("session_id", id).Int("members", len(room.Members)).Msg("joined room")
	return room, nil
}

// Leave returns the session to Idle and removes it from roomID, deleting
// the room when it becomes empty. Remaining members are notified. The
// returned room is nil when it no longer existed.
func (r *RoomService) Leave(ctx context.Context, roomID string, id int64) (*models.Room, error) {
	return r.leave(ctx, roomID, id)
}

func (r *RoomService) leave(ctx context.Context, roomID string, id int64, guards ...sessionGuard) (*models.Room, error) {
	h := r.Hub
	err := h.transition(ctx, id, models.InRoomContext(roomID), models.IdleContext(), guards...)
	switch {
	case err == nil:
	case errors.Is(err, errContextChanged):
		// a stale membership is still removed below
	case errors.Is(err, errStillActive):
		return nil, err
	default:
		return nil, storeErr(err)
	}

	room, err := h.Storage.UpdateRoom(ctx, roomID, func(room *models.Room) error {
		room.RemoveMember(id)
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrRoomNotFound) {
		return nil, storeErr(err)
	}

	if room != nil {
		for _, member := range room.Members {
			h.notify(ctx, models.Notice(member, "room_member_left"))
		}
		if room.IsEmpty() {
			log.Info().Str("module", "chathub.rooms").Str("room_id", roomID).Msg("room emptied and deleted")
		}
	}
	return room, nil
}

// Broadcast fans text out to every member except the sender. Individual
// delivery failures do not stop the fan-out; the number of successful
// deliveries is returned.
func (r *RoomService) Broadcast(ctx context.Context, roomID string, sender int64, text string) (int, error) {
	room, err := r.Hub.Storage.GetRoom(ctx, roomID)
	if err != nil {
		return 0, storeErr(err)
	}
	if !room.HasMember(sender) {
		return 0, ErrNotConnected
	}
	delivered := 0
	for _, member := range room.OtherMembers(sender) {
		if err := r.Hub.notify(ctx, models.Notice(member, "room_message", text)); err == nil {
			delivered++
		}
	}
	return delivered, nil
}

// CollectExpired deletes rooms that nobody joined within ttl of creation.
func (r *RoomService) CollectExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	rooms, err := r.Hub.Storage.ListRooms(ctx)
	if err != nil {
		return 0, storeErr(err)
	}
	expired := func(room *models.Room) bool {
		return room.IsEmpty() && now.Sub(room.CreatedAt) > ttl
	}
	collected := 0
	for _, room := range rooms {
		if !expired(room) {
			continue
		}
		deleted, err := r.Hub.Storage.DeleteRoomIf(ctx, room.ID, expired)
		if err != nil {
			return collected, storeErr(err)
		}
		if deleted {
			collected++
			metrics.RoomsDeleted.WithLabelValues("expired").Inc()
			log.Info().Str("module", "chathub.rooms").Str("room_id", room.ID).Msg("collected unused room")
		}
	}
	return collected, nil
}
