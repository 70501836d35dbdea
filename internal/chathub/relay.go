package chathub

import (
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Relay forwards a non-command event from sess to its partner or room and
// returns the replies for the sender. sess is the record the reaper just
// touched.
func (m *ManagerService) Relay(ctx context.Context, sess *models.Session, in models.Inbound) ([]models.Outbound, error) {
	id := sess.ID
	switch sess.Context.State {
	case models.StateSearching:
		return []models.Outbound{models.Notice(id, "searching")}, nil
	case models.StatePaired, models.StateInRoom:
	default:
		return nil, ErrNotConnected
	}

	if in.Kind == models.KindOther || in.Kind == models.KindNotice {
		return nil, ErrUnsupportedMessage
	}

	in, err := m.moderate(in)
	if err != nil {
		metrics.MessagesRejected.Inc()
		log.Info().Str("module", "chathub.relay").Int64("session_id", id).Str("kind", string(in.Kind)).Msg("message rejected by moderation")
		return nil, err
	}

	if sess.Context.State == models.StateInRoom {
		return m.relayToRoom(ctx, sess, in)
	}
	return m.relayToPartner(ctx, sess, in)
}

// moderate applies the content gate to the text of a text message or the
// caption of a media message. Media payloads pass unmodified.
func (m *ManagerService) moderate(in models.Inbound) (models.Inbound, error) {
	if m.Moderator == nil {
		return in, nil
	}
	field := &in.Caption
	if in.Kind == models.KindText {
		field = &in.Text
	}
	if *field == "" {
		return in, nil
	}
	if m.Moderator.Classify(*field) {
		return in, ErrContentRejected
	}
	*field = m.Moderator.Redact(*field)
	return in, nil
}

func (m *ManagerService) relayToPartner(ctx context.Context, sess *models.Session, in models.Inbound) ([]models.Outbound, error) {
	id, partner := sess.ID, sess.Context.PartnerID

	p, err := m.Storage.GetSession(ctx, partner)
	if err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
		return nil, storeErr(err)
	}
	if p == nil || !p.Context.IsPairedWith(id) {
		// the partner was reset without releasing us
		if err := m.transition(ctx, id, models.PairedContext(partner), models.IdleContext()); err != nil && !errors.Is(err, errContextChanged) {
			return nil, storeErr(err)
		}
		log.Warn().Str("module", "chathub.relay").Int64("session_id", id).Int64("partner_id", partner).Msg("one-sided pairing cleared")
		return []models.Outbound{models.Notice(id, "partner_left")}, nil
	}

	if err := m.notify(ctx, models.Relay(partner, in)); err == nil {
		metrics.MessagesRelayed.WithLabelValues(string(in.Kind)).Inc()
	}
	return nil, nil
}

func (m *ManagerService) relayToRoom(ctx context.Context, sess *models.Session, in models.Inbound) ([]models.Outbound, error) {
	id, roomID := sess.ID, sess.Context.RoomID
	if in.Kind != models.KindText {
		return []models.Outbound{models.Notice(id, "room_text_only")}, nil
	}

	delivered, err := m.Rooms.Broadcast(ctx, roomID, id, in.Text)
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrNotConnected):
		if err := m.transition(ctx, id, models.InRoomContext(roomID), models.IdleContext()); err != nil && !errors.Is(err, errContextChanged) {
			return nil, storeErr(err)
		}
		log.Warn().Str("module", "chathub.relay").Int64("session_id", id).Str("room_id", roomID).Msg("stale room membership cleared")
		return []models.Outbound{models.Notice(id, "room_not_found")}, nil
	case err != nil:
		return nil, err
	}
	if delivered > 0 {
		metrics.MessagesRelayed.WithLabelValues("room").Inc()
	}
	return nil, nil
}
