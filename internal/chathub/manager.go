package chathub

import (
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Moderator is the content gate applied to relayed text and captions.
type Moderator interface {
	Classify(text string) bool
	Redact(text string) string
}

// Options are the tunable parts of the engine.
type Options struct {
	InactivityTimeout    time.Duration
	EmptyRoomTTL         time.Duration
	StartReleasesContext bool
	RoomCreatorAutoJoin  bool
}

func DefaultOptions() Options {
	return Options{
		InactivityTimeout: config.DefaultInactivityTimeout,
		EmptyRoomTTL:      time.Hour,
	}
}

// ManagerService is the session state machine. It owns the matcher, the
// room manager and the reaper, and is the single entry point for inbound
// events (HandleUpdate).
type ManagerService struct {
	Storage   storage.Storage
	Profiles  storage.ProfileStore
	Transport Transport
	Moderator Moderator
	Options   Options

	Matcher *MatcherService
	Rooms   *RoomService
	Reaper  *Reaper

	Now func() time.Time
}

func NewManagerService(s storage.Storage, profiles storage.ProfileStore, t Transport, mod Moderator, opts Options) *ManagerService {
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = config.DefaultInactivityTimeout
	}
	m := &ManagerService{
		Storage:   s,
		Profiles:  profiles,
		Transport: t,
		Moderator: mod,
		Options:   opts,
		Now:       time.Now,
	}
	m.Matcher = NewMatcherService(m)
	m.Rooms = NewRoomService(m)
	m.Reaper = NewReaper(m)
	return m
}

func (m *ManagerService) now() time.Time { return m.Now() }

// session returns the stored session, or a fresh unsaved Idle one.
func (m *ManagerService) session(ctx context.Context, id int64) (*models.Session, error) {
	sess, err := m.Storage.GetSession(ctx, id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return models.NewSession(id, m.now()), nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// touch records activity without changing the context.
func (m *ManagerService) touch(ctx context.Context, id int64) (*models.Session, error) {
	sess, err := m.Storage.UpdateSession(ctx, id, func(s *models.Session) error {
		s.Touch(m.now())
		return nil
	})
	return sess, storeErr(err)
}

// sessionGuard is an extra precondition checked inside a conditional write.
// A non-nil error aborts the write and is returned unchanged.
type sessionGuard func(s *models.Session) error

// transition commits next on id only if the current context is exactly from
// and every guard passes. Activity is not recorded: the session being moved
// is often not the one that sent the event.
func (m *ManagerService) transition(ctx context.Context, id int64, from, next models.SessionContext, guards ...sessionGuard) error {
	_, err := m.Storage.UpdateSession(ctx, id, func(s *models.Session) error {
		if s.Context != from && !(from.IsIdle() && s.Context.IsIdle()) {
			return errContextChanged
		}
		for _, guard := range guards {
			if err := guard(s); err != nil {
				return err
			}
		}
		s.Context = next
		return nil
	})
	return err
}

// notify hands out to the transport. Failures are logged and counted only.
func (m *ManagerService) notify(ctx context.Context, out models.Outbound) error {
	if m.Transport == nil {
		return ErrNoRoute
	}
	if err := m.Transport.Deliver(ctx, out); err != nil {
		metrics.DeliveriesFailed.Inc()
		log.Warn().Str("module", "chathub").Int64("recipient", out.Recipient).Str("key", out.Key).Err(err).Msg("delivery failed")
		return err
	}
	return nil
}

// Start resets the session to a fresh Idle one. isAdmin and the profile
// and mood references survive. With StartReleasesContext an active pairing,
// room or search is released first so nobody is left pointing at us.
func (m *ManagerService) Start(ctx context.Context, id int64) error {
	if m.Options.StartReleasesContext {
		if _, err := m.release(ctx, id, "partner_left"); err != nil && !errors.Is(err, ErrNotConnected) {
			return err
		}
	}
	_, err := m.Storage.UpdateSession(ctx, id, func(s *models.Session) error {
		s.Reset(m.now())
		return nil
	})
	if err != nil {
		return storeErr(err)
	}
	log.Info().Str("module", "chathub").Int64("session_id", id).Msg("session started")
	return nil
}

// DepartureKind tells what a leave actually ended.
type DepartureKind int

const (
	LeftChat DepartureKind = iota + 1
	LeftRoom
	CancelledSearch
)

type Departure struct {
	Kind    DepartureKind
	Partner int64
	RoomID  string
	// Room is the room after removal; nil when it was already gone.
	Room *models.Room
}

// Leave ends whatever the session is doing. Leaving while Idle returns
// ErrNotConnected and changes nothing.
func (m *ManagerService) Leave(ctx context.Context, id int64) (Departure, error) {
	return m.release(ctx, id, "partner_left")
}

// release is the teardown shared by leave, the reaper and start.
// partnerKey is the notice sent to a former partner. guards run inside the
// write that moves id itself, before anything else is torn down.
func (m *ManagerService) release(ctx context.Context, id int64, partnerKey string, guards ...sessionGuard) (Departure, error) {
	for attempt := 0; attempt < config.MatchRounds; attempt++ {
		sess, err := m.session(ctx, id)
		if err != nil {
			return Departure{}, storeErr(err)
		}

		switch sess.Context.State {
		case models.StatePaired:
			partner := sess.Context.PartnerID
			err := m.leavePair(ctx, id, partner, partnerKey, guards...)
			if errors.Is(err, errContextChanged) {
				continue
			}
			if err != nil {
				return Departure{}, err
			}
			return Departure{Kind: LeftChat, Partner: partner}, nil

		case models.StateInRoom:
			roomID := sess.Context.RoomID
			room, err := m.Rooms.leave(ctx, roomID, id, guards...)
			if err != nil {
				return Departure{}, err
			}
			return Departure{Kind: LeftRoom, RoomID: roomID, Room: room}, nil

		case models.StateSearching:
			err := m.transition(ctx, id, models.SearchingContext(), models.IdleContext(), guards...)
			if errors.Is(err, errContextChanged) {
				// matched or reset in the meantime
				continue
			}
			if errors.Is(err, errStillActive) {
				return Departure{}, err
			}
			if err != nil {
				return Departure{}, storeErr(err)
			}
			return Departure{Kind: CancelledSearch}, nil

		default:
			return Departure{}, ErrNotConnected
		}
	}
	return Departure{}, ErrStoreUnavailable
}

// leavePair clears self first, then the partner. The partner is notified
// only when its record actually pointed back at us. Once self is cleared
// the pair is closed; a partner left pointing at us heals on its next
// message.
func (m *ManagerService) leavePair(ctx context.Context, self, partner int64, partnerKey string, guards ...sessionGuard) error {
	err := m.transition(ctx, self, models.PairedContext(partner), models.IdleContext(), guards...)
	switch {
	case err == nil:
	case errors.Is(err, errContextChanged), errors.Is(err, errStillActive):
		return err
	default:
		return storeErr(err)
	}

	err = m.transition(ctx, partner, models.PairedContext(self), models.IdleContext())
	switch {
	case err == nil:
		m.notify(ctx, models.Notice(partner, partnerKey))
	case errors.Is(err, errContextChanged):
		// the partner already moved on
	default:
		log.Warn().Str("module", "chathub").Int64("session_id", self).Int64("partner_id", partner).Err(err).Msg("partner not released")
	}
	log.Info().Str("module", "chathub").Int64("session_id", self).Int64("partner_id", partner).Msg("pair closed")
	return nil
}
