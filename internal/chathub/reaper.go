package chathub

import (
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// errInactive aborts the activity touch of a session that already timed out.
var errInactive = errors.New("session inactive")

// Reaper tears down sessions that stayed silent past the inactivity timeout.
//
// Check is the fast path run on every inbound non-command event. Sweep is the
// periodic pass for sessions that never send anything again.
type Reaper struct {
	Hub *ManagerService
}

func NewReaper(hub *ManagerService) *Reaper {
	return &Reaper{Hub: hub}
}

// Check records activity for id, or, if the session has been inactive too
// long, releases it and returns ErrInactive. The stale activity timestamp is
// never overwritten before the check, so a late event cannot revive it.
func (r *Reaper) Check(ctx context.Context, id int64) (*models.Session, error) {
	h := r.Hub
	for attempt := 0; ; attempt++ {
		now := h.now()
		sess, err := h.Storage.UpdateSession(ctx, id, func(s *models.Session) error {
			if s.IsInactive(now, h.Options.InactivityTimeout) {
				return errInactive
			}
			s.Touch(now)
			return nil
		})
		if errors.Is(err, errInactive) {
			if r.reap(ctx, id, "event") || attempt > 0 {
				return nil, ErrInactive
			}
			// refreshed or released between the check and the teardown
			continue
		}
		if err != nil {
			return nil, storeErr(err)
		}
		return sess, nil
	}
}

// Sweep reaps every stale session in the sessions index and collects empty
// rooms older than EmptyRoomTTL. It returns how many sessions were reaped.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	h := r.Hub
	ids, err := h.Storage.SessionIDs(ctx)
	if err != nil {
		return 0, storeErr(err)
	}

	reaped := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return reaped, ctx.Err()
		}
		sess, err := h.Storage.GetSession(ctx, id)
		if errors.Is(err, storage.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return reaped, storeErr(err)
		}
		if !sess.IsInactive(h.now(), h.Options.InactivityTimeout) {
			continue
		}
		if r.reap(ctx, id, "sweep") {
			h.notify(ctx, models.Notice(id, "inactive_self"))
			reaped++
		}
	}

	collected, err := h.Rooms.CollectExpired(ctx, h.now(), h.Options.EmptyRoomTTL)
	if err != nil {
		return reaped, err
	}
	log.Info().Str("module", "chathub.reaper").Int("sessions", reaped).Int("rooms", collected).Msg("sweep finished")
	return reaped, nil
}

// reap releases id like a leave, but the former partner is told about the
// inactivity. Inactivity is checked again inside the write that releases id,
// so a session refreshed after it was judged stale survives. It reports
// whether anything was torn down.
func (r *Reaper) reap(ctx context.Context, id int64, trigger string) bool {
	dep, err := r.Hub.release(ctx, id, "partner_inactive", r.staleGuard())
	if errors.Is(err, ErrNotConnected) {
		return false
	}
	if errors.Is(err, errStillActive) {
		log.Debug().Str("module", "chathub.reaper").Int64("session_id", id).Str("trigger", trigger).Msg("session active again, not reaped")
		return false
	}
	if err != nil {
		log.Error().Str("module", "chathub.reaper").Int64("session_id", id).Str("trigger", trigger).Err(err).Msg("reap failed")
		return false
	}
	metrics.SessionsReaped.WithLabelValues(trigger).Inc()
	log.Info().Str("module", "chathub.reaper").Int64("session_id", id).Str("trigger", trigger).Int("departure", int(dep.Kind)).Msg("inactive session released")
	return true
}

func (r *Reaper) staleGuard() sessionGuard {
	h := r.Hub
	return func(s *models.Session) error {
		if !s.IsInactive(h.now(), h.Options.InactivityTimeout) {
			return errStillActive
		}
		return nil
	}
}
