package chathub

import (
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyBusy        = errors.New("already in a chat or room")
	ErrNotConnected       = errors.New("not in a chat or room")
	ErrRoomFull           = errors.New("room is full")
	ErrRoomNotFound       = storage.ErrRoomNotFound
	ErrInvalidInput       = errors.New("invalid input")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrStoreUnavailable   = storage.ErrStoreUnavailable
	ErrContentRejected    = errors.New("content rejected by moderation")
	ErrInactive           = errors.New("disconnected for inactivity")
	ErrUnsupportedMessage = errors.New("unsupported message type")
	ErrUnknownCommand     = errors.New("unknown command")
)

// errContextChanged aborts a conditional write whose expected prior context
// no longer holds.
var errContextChanged = errors.New("session context changed")

// errStillActive aborts a reap when the session saw activity after it was
// judged inactive.
var errStillActive = errors.New("session active again")

var (
	errSelfUnavailable      = errors.New("initiator is no longer searching")
	errCandidateUnavailable = errors.New("candidate is no longer searching")
)

// UsageError is an ErrInvalidInput carrying the usage line of a command.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string { return "invalid input, usage: " + e.Usage }
func (e *UsageError) Unwrap() error { return ErrInvalidInput }

// storeErr folds a conflict that survived the bounded retries into
// ErrStoreUnavailable.
func storeErr(err error) error {
	if errors.Is(err, storage.ErrStoreConflict) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// replyFor maps an engine error to the notice shown to the user.
func replyFor(id int64, err error) models.Outbound {
	var usage *UsageError
	switch {
	case errors.Is(err, models.ErrInvalidCapacity):
		return models.Notice(id, "invalid_capacity")
	case errors.As(err, &usage):
		return models.Notice(id, "invalid_input", usage.Usage)
	case errors.Is(err, ErrInvalidInput):
		return models.Notice(id, "invalid_input", "/help")
	case errors.Is(err, ErrAlreadyBusy):
		return models.Notice(id, "already_busy")
	case errors.Is(err, ErrNotConnected):
		return models.Notice(id, "not_connected")
	case errors.Is(err, ErrRoomFull):
		return models.Notice(id, "room_full")
	case errors.Is(err, ErrRoomNotFound):
		return models.Notice(id, "room_not_found")
	case errors.Is(err, ErrPermissionDenied):
		return models.Notice(id, "permission_denied")
	case errors.Is(err, ErrContentRejected):
		return models.Notice(id, "content_rejected")
	case errors.Is(err, ErrInactive):
		return models.Notice(id, "inactive_self")
	case errors.Is(err, ErrUnsupportedMessage):
		return models.Notice(id, "unsupported_message")
	case errors.Is(err, ErrUnknownCommand):
		return models.Notice(id, "unknown_command")
	default:
		log.Error().Str("module", "chathub").Int64("session_id", id).Err(err).Msg("request failed")
		return models.Notice(id, "store_unavailable")
	}
}
