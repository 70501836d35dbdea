// Package telegram handles the integration with the Telegram Bot API.
// It is responsible for receiving updates from Telegram, turning them into
// engine events, and sending the replies back.
package telegram

import (
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/models"
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// UpdateSource is the long-polling side of *tgbotapi.BotAPI.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// BotService is responsible for receiving Telegram updates and routing them to the hub.
type BotService struct {
	Updates UpdateSource
	Hub     chathub.UpdateHandler
	Client  *Client

	queue *chatQueue
}

// NewBotAPI authorizes the bot token.
func NewBotAPI(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram authorization: %w", err)
	}
	bot.Debug = false
	log.Info().Str("module", "telegram").Str("account", bot.Self.UserName).Msg("authorized on account")
	return bot, nil
}

// NewBotService creates a new BotService instance.
func NewBotService(updates UpdateSource, hub chathub.UpdateHandler, client *Client) *BotService {
	return &BotService{
		Updates: updates,
		Hub:     hub,
		Client:  client,
		queue:   newChatQueue(),
	}
}

// Run is the main loop for receiving Telegram updates. It returns after ctx
// is cancelled and every queued update has been handled.
func (s *BotService) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.Updates.GetUpdatesChan(u)

	defer s.queue.Wait()
	for {
		select {
		case <-ctx.Done():
			s.Updates.StopReceivingUpdates()
			log.Info().Str("module", "telegram").Msg("update loop stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			s.dispatch(ctx, update)
		}
	}
}

// dispatch queues a private-chat message for in-order handling.
func (s *BotService) dispatch(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	// group chat ids are negative and would collide with web sessions
	if msg.Chat.Type != "private" {
		log.Debug().Str("module", "telegram").Int64("chat_id", msg.Chat.ID).Str("chat_type", msg.Chat.Type).Msg("ignoring non-private chat")
		return
	}

	chatID := msg.Chat.ID
	if msg.From != nil {
		s.Client.SetLanguage(chatID, msg.From.LanguageCode)
	}
	in := toInbound(msg)
	// queued updates still finish during shutdown
	hctx := context.WithoutCancel(ctx)
	s.queue.Submit(chatID, func() { s.handle(hctx, chatID, in) })
}

func (s *BotService) handle(ctx context.Context, chatID int64, in models.Inbound) {
	for _, out := range s.Hub.HandleUpdate(ctx, chatID, in) {
		if err := s.Client.Deliver(ctx, out); err != nil {
			log.Warn().Str("module", "telegram").Int64("chat_id", chatID).Str("key", out.Key).Err(err).Msg("reply not delivered")
		}
	}
}

// toInbound extracts the relayable payload of a message. Photos use the
// largest size.
func toInbound(msg *tgbotapi.Message) models.Inbound {
	switch {
	case msg.Text != "":
		return models.Inbound{Kind: models.KindText, Text: msg.Text}
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		return models.Inbound{Kind: models.KindPhoto, FileID: largest.FileID, Caption: msg.Caption}
	case msg.Sticker != nil:
		return models.Inbound{Kind: models.KindSticker, FileID: msg.Sticker.FileID}
	case msg.Voice != nil:
		return models.Inbound{Kind: models.KindVoice, FileID: msg.Voice.FileID, Caption: msg.Caption}
	default:
		return models.Inbound{Kind: models.KindOther}
	}
}
