package chathub

import (
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// UpdateHandler processes one inbound event and returns the sender's replies.
// *ManagerService implements it.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, id int64, in models.Inbound) []models.Outbound
}

// Renderer turns a notice into display text.
type Renderer interface {
	Render(lang string, out models.Outbound) string
}

// Broker fans deliveries out to the other server instances.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

var ErrClientBackpressure = errors.New("web client send buffer is full")

// envelope is what travels over the deliver channel.
type envelope struct {
	Origin    string          `json:"origin"`
	Recipient int64           `json:"recipient"`
	Frame     json.RawMessage `json:"frame"`
}

// WebHub keeps the WebSocket clients connected to this instance and
// implements Transport for web sessions. Recipients connected elsewhere are
// reached through the Broker.
type WebHub struct {
	Origin   string
	Broker   Broker
	Renderer Renderer
	Language string

	handler UpdateHandler
	ready   chan struct{}

	mu      sync.RWMutex
	clients map[int64]*WebSocketClient
}

func NewWebHub(broker Broker, renderer Renderer, lang string) *WebHub {
	return &WebHub{
		Origin:   uuid.NewString(),
		Broker:   broker,
		Renderer: renderer,
		Language: lang,
		ready:    make(chan struct{}),
		clients:  make(map[int64]*WebSocketClient),
	}
}

// SetHandler wires the engine in after both sides are constructed.
func (h *WebHub) SetHandler(handler UpdateHandler) {
	h.handler = handler
}

// Register makes c the connection of its session. An older connection of the
// same session is closed.
func (h *WebHub) Register(c *WebSocketClient) {
	h.mu.Lock()
	old := h.clients[c.ID]
	h.clients[c.ID] = c
	h.mu.Unlock()
	if old != nil && old != c {
		old.Close()
	}
	log.Info().Str("module", "chathub.web").Int64("session_id", c.ID).Msg("web client registered")
}

// Unregister forgets c unless it was already replaced.
func (h *WebHub) Unregister(c *WebSocketClient) {
	h.mu.Lock()
	cur, ok := h.clients[c.ID]
	if ok && cur == c {
		delete(h.clients, c.ID)
	}
	h.mu.Unlock()
	if ok && cur == c {
		c.Close()
		log.Info().Str("module", "chathub.web").Int64("session_id", c.ID).Msg("web client unregistered")
	}
}

func (h *WebHub) client(id int64) *WebSocketClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

// Connected reports whether id has a connection on this instance.
func (h *WebHub) Connected(id int64) bool {
	return h.client(id) != nil
}

// Deliver implements Transport.
func (h *WebHub) Deliver(ctx context.Context, out models.Outbound) error {
	frame, err := h.frame(out)
	if err != nil {
		return err
	}
	if c := h.client(out.Recipient); c != nil {
		return c.enqueue(frame)
	}
	if h.Broker == nil {
		return fmt.Errorf("%w %d", ErrNoRoute, out.Recipient)
	}
	payload, err := json.Marshal(envelope{Origin: h.Origin, Recipient: out.Recipient, Frame: frame})
	if err != nil {
		return err
	}
	return h.Broker.Publish(ctx, storage.DeliverChannel, payload)
}

// frame is the JSON written to the socket: the outbound with notices
// rendered into Text.
func (h *WebHub) frame(out models.Outbound) ([]byte, error) {
	if out.Key != "" && h.Renderer != nil {
		out.Text = h.Renderer.Render(h.Language, out)
	}
	return json.Marshal(out)
}

// Ready is closed once Run has subscribed to the deliver channel.
func (h *WebHub) Ready() <-chan struct{} {
	return h.ready
}

// Run consumes deliveries published by other instances until ctx ends.
func (h *WebHub) Run(ctx context.Context) error {
	if h.Broker == nil {
		close(h.ready)
		<-ctx.Done()
		return nil
	}
	pubsub := h.Broker.Subscribe(ctx, storage.DeliverChannel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", storage.DeliverChannel, err)
	}
	close(h.ready)
	log.Info().Str("module", "chathub.web").Str("origin", h.Origin).Msg("listening for remote deliveries")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn().Str("module", "chathub.web").Err(err).Msg("bad delivery envelope")
				continue
			}
			if env.Origin == h.Origin {
				continue
			}
			if c := h.client(env.Recipient); c != nil {
				if err := c.enqueue(env.Frame); err != nil {
					log.Warn().Str("module", "chathub.web").Int64("session_id", env.Recipient).Err(err).Msg("remote delivery dropped")
				}
			}
		}
	}
}

// handle runs one inbound frame of c through the engine and sends back the
// replies.
func (h *WebHub) handle(ctx context.Context, c *WebSocketClient, in models.Inbound) {
	if h.handler == nil {
		return
	}
	for _, out := range h.handler.HandleUpdate(ctx, c.ID, in) {
		if err := h.Deliver(ctx, out); err != nil {
			log.Warn().Str("module", "chathub.web").Int64("session_id", c.ID).Err(err).Msg("reply not delivered")
		}
	}
}
