package storage

import (
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

const (
	sessionKeyPrefix = "session:"
	roomKeyPrefix    = "room:"
	sessionsSetKey   = "sessions"
	searchingSetKey  = "searching"
	roomsSetKey      = "rooms"

	// DeliverChannel carries outbound messages between server instances.
	DeliverChannel = "chat:deliver"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomExists       = errors.New("room already exists")
	ErrStoreConflict    = errors.New("record changed concurrently")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// SessionMutator applies a precondition check and a change to the latest
// copy of a session. Returning an error aborts the write.
type SessionMutator func(s *models.Session) error

// RoomMutator is SessionMutator for rooms.
type RoomMutator func(r *models.Room) error

// Storage is the session/room store. Every write is a single-key
// conditional write; nothing here spans two records.
type Storage interface {
	GetSession(ctx context.Context, id int64) (*models.Session, error)
	UpdateSession(ctx context.Context, id int64, fn SessionMutator) (*models.Session, error)
	SessionIDs(ctx context.Context) ([]int64, error)
	SearchingSessionIDs(ctx context.Context) ([]int64, error)

	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	UpdateRoom(ctx context.Context, id string, fn RoomMutator) (*models.Room, error)
	DeleteRoomIf(ctx context.Context, id string, pred func(r *models.Room) bool) (bool, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	Ping(ctx context.Context) error
}

type Service struct {
	Redis      *redis.Client
	MaxRetries uint64
	Now        func() time.Time
}

// NewStorageService Constructor
func NewStorageService(rdb *redis.Client, maxRetries uint64) *Service {
	if maxRetries == 0 {
		maxRetries = 1
	}
	return &Service{
		Redis:      rdb,
		MaxRetries: maxRetries,
		Now:        time.Now,
	}
}

func sessionKey(id int64) string { return sessionKeyPrefix + strconv.FormatInt(id, 10) }
func roomKey(id string) string   { return roomKeyPrefix + id }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// GetSession returns the stored session. A record that cannot be decoded is
// reported as missing so the caller starts over with a fresh session.
func (s *Service) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	data, err := s.Redis.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	sess, ok := decodeSession(id, data)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func decodeSession(id int64, data []byte) (*models.Session, bool) {
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		log.Warn().Str("module", "storage.redis").Int64("session_id", id).Err(err).Msg("corrupt session record, resetting")
		return nil, false
	}
	if err := sess.Context.Validate(); err != nil || sess.ID != id {
		log.Warn().Str("module", "storage.redis").Int64("session_id", id).Err(err).Msg("invalid session record, resetting")
		return nil, false
	}
	return &sess, true
}

// UpdateSession runs an optimistic read-modify-write on one session.
//
// The key is WATCHed, the latest record (or a fresh Idle session) is passed
// to fn, and the result is committed with MULTI/EXEC together with the
// sessions/searching index entries. If another writer touched the key in
// between, the whole read/fn/commit cycle is repeated up to MaxRetries
// times before ErrStoreConflict is returned. An error from fn is returned
// as is and nothing is written.
func (s *Service) UpdateSession(ctx context.Context, id int64, fn SessionMutator) (*models.Session, error) {
	key := sessionKey(id)
	var committed *models.Session
	var fnErr error

	txf := func(tx *redis.Tx) error {
		committed, fnErr = nil, nil

		current := models.NewSession(id, s.Now())
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if sess, ok := decodeSession(id, data); ok {
				current = sess
			}
		}

		next := *current
		if err := fn(&next); err != nil {
			fnErr = err
			return err
		}
		if err := next.Context.Validate(); err != nil {
			fnErr = err
			return err
		}
		payload, err := json.Marshal(&next)
		if err != nil {
			fnErr = err
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, sessionsSetKey, id)
			if next.Context.IsSearching() {
				pipe.SAdd(ctx, searchingSetKey, id)
			} else {
				pipe.SRem(ctx, searchingSetKey, id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		committed = &next
		return nil
	}

	if err := s.watch(ctx, "session", txf, key); err != nil {
		if fnErr != nil {
			return nil, fnErr
		}
		return nil, err
	}
	return committed, nil
}

// watch runs txf under WATCH and retries lost races with a short jittered
// constant backoff.
func (s *Service) watch(ctx context.Context, record string, txf func(tx *redis.Tx) error, keys ...string) error {
	b := retry.WithMaxRetries(s.MaxRetries, retry.WithJitterPercent(50, retry.NewConstant(config.StoreRetryBackoff)))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := s.Redis.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			metrics.StoreConflicts.WithLabelValues(record).Inc()
			log.Debug().Str("module", "storage.redis").Strs("keys", keys).Msg("conditional write lost a race, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrStoreConflict
	default:
		return unavailable(err)
	}
}

func (s *Service) SessionIDs(ctx context.Context) ([]int64, error) {
	return s.idSet(ctx, sessionsSetKey)
}

// SearchingSessionIDs returns the explicit index of sessions in Searching.
func (s *Service) SearchingSessionIDs(ctx context.Context) ([]int64, error) {
	return s.idSet(ctx, searchingSetKey)
}

func (s *Service) idSet(ctx context.Context, key string) ([]int64, error) {
	members, err := s.Redis.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CreateRoom persists a new room and indexes it.
func (s *Service) CreateRoom(ctx context.Context, room *models.Room) error {
	payload, err := json.Marshal(room)
	if err != nil {
		return err
	}
	var created *redis.BoolCmd
	_, err = s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, roomKey(room.ID), payload, 0)
		pipe.SAdd(ctx, roomsSetKey, room.ID)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	if !created.Val() {
		return ErrRoomExists
	}
	return nil
}

func (s *Service) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	data, err := s.Redis.Get(ctx, roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	var room models.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	return &room, nil
}

// UpdateRoom is UpdateSession for rooms. A room whose last member was removed
// by fn is deleted in the same commit; the returned room then has no members.
// ErrRoomNotFound is returned when the room does not exist.
func (s *Service) UpdateRoom(ctx context.Context, id string, fn RoomMutator) (*models.Room, error) {
	key := roomKey(id)
	var committed *models.Room
	var fnErr error

	txf := func(tx *redis.Tx) error {
		committed, fnErr = nil, nil

		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			fnErr = ErrRoomNotFound
			return fnErr
		}
		if err != nil {
			return err
		}
		var current models.Room
		if err := json.Unmarshal(data, &current); err != nil {
			fnErr = fmt.Errorf("decode room %s: %w", id, err)
			return fnErr
		}

		next := current
		next.Members = slices.Clone(current.Members)
		if err := fn(&next); err != nil {
			fnErr = err
			return err
		}
		if len(next.Members) > next.Capacity {
			fnErr = fmt.Errorf("room %s over capacity: %d > %d", id, len(next.Members), next.Capacity)
			return fnErr
		}

		remove := next.IsEmpty() && !current.IsEmpty()
		payload, err := json.Marshal(&next)
		if err != nil {
			fnErr = err
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if remove {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, roomsSetKey, id)
			} else {
				pipe.Set(ctx, key, payload, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if remove {
			metrics.RoomsDeleted.WithLabelValues("emptied").Inc()
		}
		committed = &next
		return nil
	}

	if err := s.watch(ctx, "room", txf, key); err != nil {
		if fnErr != nil {
			return nil, fnErr
		}
		return nil, err
	}
	return committed, nil
}

// DeleteRoomIf deletes the room when pred holds for its latest version.
func (s *Service) DeleteRoomIf(ctx context.Context, id string, pred func(r *models.Room) bool) (bool, error) {
	key := roomKey(id)
	deleted := false

	txf := func(tx *redis.Tx) error {
		deleted = false
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var room models.Room
		if err := json.Unmarshal(data, &room); err == nil && !pred(&room) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, roomsSetKey, id)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = true
		return nil
	}

	if err := s.watch(ctx, "room", txf, key); err != nil {
		return false, err
	}
	return deleted, nil
}

// ListRooms returns every stored room ordered by creation time. Index
// entries whose record is gone are dropped from the index.
func (s *Service) ListRooms(ctx context.Context) ([]*models.Room, error) {
	ids, err := s.Redis.SMembers(ctx, roomsSetKey).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return []*models.Room{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKey(id)
	}
	values, err := s.Redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	rooms := make([]*models.Room, 0, len(values))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var room models.Room
		if err := json.Unmarshal([]byte(raw), &room); err != nil {
			log.Warn().Str("module", "storage.redis").Str("room_id", ids[i]).Err(err).Msg("skipping corrupt room record")
			continue
		}
		rooms = append(rooms, &room)
	}
	if len(stale) > 0 {
		if err := s.Redis.SRem(ctx, roomsSetKey, stale...).Err(); err != nil {
			log.Warn().Str("module", "storage.redis").Err(err).Msg("failed to prune room index")
		}
	}

	slices.SortFunc(rooms, func(a, b *models.Room) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return rooms, nil
}

// Publish публікує повідомлення в Redis Pub/Sub
func (s *Service) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.Redis.Publish(ctx, channel, payload).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Service) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return s.Redis.Subscribe(ctx, channels...)
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
