package telegram

import (
	"anonchat/backend/internal/localization"
	"anonchat/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of *tgbotapi.BotAPI the transport needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var ErrUnsupportedKind = errors.New("message kind cannot be sent to telegram")

// Client реалізує chathub.Transport для Telegram: рендерить системні
// повідомлення з каталогу та пересилає медіа за FileID.
type Client struct {
	Sender          Sender
	Localizer       *localization.Localizer
	DefaultLanguage string

	mu    sync.RWMutex
	langs map[int64]string
}

func NewClient(sender Sender, loc *localization.Localizer, defaultLang string) *Client {
	return &Client{
		Sender:          sender,
		Localizer:       loc,
		DefaultLanguage: defaultLang,
		langs:           make(map[int64]string),
	}
}

// SetLanguage remembers the interface language reported for a chat. Unknown
// languages are ignored.
func (c *Client) SetLanguage(chatID int64, lang string) {
	if lang == "" || c.Localizer == nil || !slices.Contains(c.Localizer.Languages(), lang) {
		return
	}
	c.mu.Lock()
	c.langs[chatID] = lang
	c.mu.Unlock()
}

func (c *Client) language(chatID int64) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if lang, ok := c.langs[chatID]; ok {
		return lang
	}
	return c.DefaultLanguage
}

// Deliver implements chathub.Transport.
func (c *Client) Deliver(_ context.Context, out models.Outbound) error {
	msg, err := c.chattable(out)
	if err != nil {
		return err
	}
	if _, err := c.Sender.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", out.Recipient, err)
	}
	return nil
}

func (c *Client) chattable(out models.Outbound) (tgbotapi.Chattable, error) {
	chatID := out.Recipient
	switch out.Kind {
	case models.KindNotice:
		text := out.Text
		if c.Localizer != nil {
			text = c.Localizer.Render(c.language(chatID), out)
		}
		return tgbotapi.NewMessage(chatID, text), nil

	case models.KindText:
		return tgbotapi.NewMessage(chatID, out.Text), nil

	case models.KindPhoto:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(out.FileID))
		photo.Caption = out.Caption
		return photo, nil

	case models.KindSticker:
		return tgbotapi.NewSticker(chatID, tgbotapi.FileID(out.FileID)), nil

	case models.KindVoice:
		voice := tgbotapi.NewVoice(chatID, tgbotapi.FileID(out.FileID))
		voice.Caption = out.Caption
		return voice, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, out.Kind)
	}
}
