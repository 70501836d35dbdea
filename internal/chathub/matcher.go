package chathub

import (
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"context"
	"errors"
	"math/rand/v2"

	"github.com/rs/zerolog/log"
)

// MatcherService відповідає за алгоритм пошуку співрозмовників.
type MatcherService struct {
	Hub *ManagerService
}

// NewMatcherService створює новий Matcher.
func NewMatcherService(hub *ManagerService) *MatcherService {
	return &MatcherService{Hub: hub}
}

// MatchResult describes how a find request ended.
type MatchResult struct {
	// Partner is set when the session is now paired.
	Partner int64
	// PairedByOther means a concurrent find of the partner claimed us first;
	// that side already sent the connected notices.
	PairedByOther bool
	// Searching means no partner yet; the session stays in the searching index.
	Searching bool
	// Cancelled means the search was ended concurrently (leave or start).
	Cancelled bool
}

// Find puts id into Searching and tries to pair it with a random other
// searching session. Candidates come from the searching index, are tried
// in random order, and the selection is repeated a few rounds when
// candidates are lost to concurrent finds.
func (m *MatcherService) Find(ctx context.Context, id int64) (MatchResult, error) {
	h := m.Hub
	_, err := h.Storage.UpdateSession(ctx, id, func(s *models.Session) error {
		if s.Context.Busy() {
			return ErrAlreadyBusy
		}
		s.Context = models.SearchingContext()
		s.Touch(h.now())
		return nil
	})
	if err != nil {
		return MatchResult{}, storeErr(err)
	}

	for round := 0; round < config.MatchRounds; round++ {
		candidates, err := m.candidates(ctx, id)
		if err != nil {
			return MatchResult{}, storeErr(err)
		}
		if len(candidates) == 0 {
			break
		}

		for _, candidate := range candidates {
			err := m.pair(ctx, id, candidate)
			switch {
			case err == nil:
				metrics.Matches.Inc()
				log.Info().Str("module", "chathub.matcher").Int64("session_id", id).Int64("partner_id", candidate).Msg("match found")
				h.notify(ctx, models.Notice(candidate, "match_found"))
				return MatchResult{Partner: candidate}, nil

			case errors.Is(err, errCandidateUnavailable):
				continue

			case errors.Is(err, errSelfUnavailable):
				return m.resolveSelf(ctx, id)

			default:
				return MatchResult{}, storeErr(err)
			}
		}
	}

	log.Debug().Str("module", "chathub.matcher").Int64("session_id", id).Msg("no partner yet, searching")
	return MatchResult{Searching: true}, nil
}

// candidates returns the other searching sessions in random order.
func (m *MatcherService) candidates(ctx context.Context, id int64) ([]int64, error) {
	ids, err := m.Hub.Storage.SearchingSessionIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(ids))
	for _, c := range ids {
		if c != id {
			out = append(out, c)
		}
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if len(out) > config.MatchCandidatesCap {
		out = out[:config.MatchCandidatesCap]
	}
	return out, nil
}

// resolveSelf explains why our own side could not be claimed.
func (m *MatcherService) resolveSelf(ctx context.Context, id int64) (MatchResult, error) {
	sess, err := m.Hub.session(ctx, id)
	if err != nil {
		return MatchResult{}, storeErr(err)
	}
	switch sess.Context.State {
	case models.StatePaired:
		return MatchResult{Partner: sess.Context.PartnerID, PairedByOther: true}, nil
	case models.StateSearching:
		return MatchResult{Searching: true}, nil
	case models.StateInRoom:
		return MatchResult{}, ErrAlreadyBusy
	default:
		return MatchResult{Cancelled: true}, nil
	}
}

// pair establishes Paired on both sides with two conditional writes.
//
// Writes always go to the lower id first so two finds racing for the same
// pair contend on the same key. If the second write fails the first is
// rolled back. After both commit, the first side is re-read: if it was
// changed in the window between the two writes (a leave or start), the
// second side is rolled back too, so an asymmetric pairing never survives.
func (m *MatcherService) pair(ctx context.Context, self, candidate int64) error {
	h := m.Hub
	first, second := min(self, candidate), max(self, candidate)
	side := func(id int64) error {
		if id == self {
			return errSelfUnavailable
		}
		return errCandidateUnavailable
	}

	err := h.transition(ctx, first, models.SearchingContext(), models.PairedContext(second))
	if errors.Is(err, errContextChanged) {
		return side(first)
	}
	if err != nil {
		return err
	}

	err = h.transition(ctx, second, models.SearchingContext(), models.PairedContext(first))
	if err != nil {
		m.rollback(ctx, first, second)
		if errors.Is(err, errContextChanged) {
			return side(second)
		}
		return err
	}

	sess, err := h.Storage.GetSession(ctx, first)
	if err != nil {
		m.rollback(ctx, second, first)
		m.rollback(ctx, first, second)
		return err
	}
	if !sess.Context.IsPairedWith(second) {
		m.rollback(ctx, second, first)
		return side(first)
	}
	return nil
}

// rollback returns id to Searching if it still points at partner.
func (m *MatcherService) rollback(ctx context.Context, id, partner int64) {
	err := m.Hub.transition(ctx, id, models.PairedContext(partner), models.SearchingContext())
	if err != nil && !errors.Is(err, errContextChanged) {
		log.Error().Str("module", "chathub.matcher").Int64("session_id", id).Int64("partner_id", partner).Err(err).Msg("pairing rollback failed")
	}
}
