package chathub

import (
	"anonchat/backend/internal/models"
	"context"
	"errors"
	"fmt"
)

// Transport is any outbound channel to users (e.g., Telegram, WebSocket).
// Deliver reports per-call success; the engine treats failures as non-fatal.
type Transport interface {
	Deliver(ctx context.Context, out models.Outbound) error
}

var ErrNoRoute = errors.New("no transport for recipient")

// RoutedTransport sends web sessions (negative ids) to Web and everything
// else to Telegram.
type RoutedTransport struct {
	Telegram Transport
	Web      Transport
}

func (t *RoutedTransport) Deliver(ctx context.Context, out models.Outbound) error {
	target := t.Telegram
	if IsWebSession(out.Recipient) {
		target = t.Web
	}
	if target == nil {
		return fmt.Errorf("%w %d", ErrNoRoute, out.Recipient)
	}
	return target.Deliver(ctx, out)
}

// IsWebSession reports whether id was issued to a WebSocket user.
func IsWebSession(id int64) bool {
	return id < 0
}
