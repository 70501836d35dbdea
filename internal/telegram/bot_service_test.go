package telegram

import (
	"anonchat/backend/internal/localization"
	"anonchat/backend/internal/models"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

type fakeUpdates struct {
	ch      chan tgbotapi.Update
	stopped chan struct{}
	once    sync.Once
}

func newFakeUpdates() *fakeUpdates {
	return &fakeUpdates{ch: make(chan tgbotapi.Update, 16), stopped: make(chan struct{})}
}

func (f *fakeUpdates) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.ch }
func (f *fakeUpdates) StopReceivingUpdates()                                        { f.once.Do(func() { close(f.stopped) }) }

// echoHandler records the events it got and answers every one with a notice.
type echoHandler struct {
	mu     sync.Mutex
	events map[int64][]string
}

func (h *echoHandler) HandleUpdate(_ context.Context, id int64, in models.Inbound) []models.Outbound {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[id] = append(h.events[id], in.Text)
	return []models.Outbound{models.Notice(id, "searching")}
}

func (h *echoHandler) got(id int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events[id]...)
}

func privateMessage(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text: text,
		From: &tgbotapi.User{ID: chatID, LanguageCode: "uk"},
		Chat: tgbotapi.Chat{ID: chatID, Type: "private"},
	}}
}

func newTestClient(t *testing.T, sender Sender) *Client {
	t.Helper()
	loc, err := localization.NewDefaultLocalizer()
	require.NoError(t, err)
	return NewClient(sender, loc, "en")
}

func TestToInbound(t *testing.T) {
	tests := []struct {
		name string
		msg  *tgbotapi.Message
		want models.Inbound
	}{
		{"text", &tgbotapi.Message{Text: "hi"}, models.Inbound{Kind: models.KindText, Text: "hi"}},
		{"largest photo", &tgbotapi.Message{
			Photo:   []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "big"}},
			Caption: "cat",
		}, models.Inbound{Kind: models.KindPhoto, FileID: "big", Caption: "cat"}},
		{"sticker", &tgbotapi.Message{Sticker: &tgbotapi.Sticker{FileID: "st"}}, models.Inbound{Kind: models.KindSticker, FileID: "st"}},
		{"voice", &tgbotapi.Message{Voice: &tgbotapi.Voice{FileID: "v"}, Caption: "listen"}, models.Inbound{Kind: models.KindVoice, FileID: "v", Caption: "listen"}},
		{"anything else", &tgbotapi.Message{Video: &tgbotapi.Video{FileID: "x"}}, models.Inbound{Kind: models.KindOther}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toInbound(tt.msg))
		})
	}
}

func TestClient_DeliverRendersNotices(t *testing.T) {
	sender := new(MockSender)
	c := newTestClient(t, sender)

	sender.On("Send", mock.MatchedBy(func(m tgbotapi.MessageConfig) bool {
		return m.Text == "❌ This room is full."
	})).Return(nil).Once()
	require.NoError(t, c.Deliver(context.Background(), models.Notice(7, "room_full")))

	sender.On("Send", mock.MatchedBy(func(m tgbotapi.PhotoConfig) bool {
		return m.Caption == "cat"
	})).Return(nil).Once()
	require.NoError(t, c.Deliver(context.Background(), models.Outbound{Recipient: 7, Kind: models.KindPhoto, FileID: "f", Caption: "cat"}))

	err := c.Deliver(context.Background(), models.Outbound{Recipient: 7, Kind: models.KindOther})
	assert.ErrorIs(t, err, ErrUnsupportedKind)

	sender.AssertExpectations(t)
}

func TestClient_DeliverUsesChatLanguage(t *testing.T) {
	sender := new(MockSender)
	c := newTestClient(t, sender)
	c.SetLanguage(7, "uk")
	c.SetLanguage(8, "xx")

	en, err := c.chattable(models.Notice(8, "room_full"))
	require.NoError(t, err)
	uk, err := c.chattable(models.Notice(7, "room_full"))
	require.NoError(t, err)
	assert.NotEqual(t, en.(tgbotapi.MessageConfig).Text, uk.(tgbotapi.MessageConfig).Text)
}

func TestClient_DeliverWrapsSendErrors(t *testing.T) {
	sender := new(MockSender)
	c := newTestClient(t, sender)
	boom := errors.New("blocked by user")
	sender.On("Send", mock.Anything).Return(boom)

	err := c.Deliver(context.Background(), models.Outbound{Recipient: 1, Kind: models.KindText, Text: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestChatQueue_OrderPerChat(t *testing.T) {
	q := newChatQueue()
	var mu sync.Mutex
	got := map[int64][]int{}

	for i := 0; i < 50; i++ {
		for _, chat := range []int64{1, 2, 3} {
			i, chat := i, chat
			q.Submit(chat, func() {
				mu.Lock()
				got[chat] = append(got[chat], i)
				mu.Unlock()
			})
		}
	}
	q.Wait()

	for _, chat := range []int64{1, 2, 3} {
		require.Len(t, got[chat], 50)
		for i, v := range got[chat] {
			assert.Equal(t, i, v)
		}
	}
}

func TestChatQueue_ChatsRunInParallel(t *testing.T) {
	q := newChatQueue()
	release := make(chan struct{})
	done := make(chan struct{})

	q.Submit(1, func() { <-release })
	q.Submit(2, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("a blocked chat must not hold up other chats")
	}
	close(release)
	q.Wait()
}

func TestBotService_RunHandlesPrivateMessages(t *testing.T) {
	sender := new(MockSender)
	sender.On("Send", mock.Anything).Return(nil)
	client := newTestClient(t, sender)
	handler := &echoHandler{events: map[int64][]string{}}
	updates := newFakeUpdates()
	svc := NewBotService(updates, handler, client)

	updates.ch <- privateMessage(10, "/find")
	updates.ch <- privateMessage(10, "hello")
	updates.ch <- tgbotapi.Update{Message: &tgbotapi.Message{Text: "group", Chat: tgbotapi.Chat{ID: -100, Type: "group"}}}
	updates.ch <- tgbotapi.Update{}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(finished)
	}()

	require.Eventually(t, func() bool { return len(handler.got(10)) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-finished
	<-updates.stopped

	assert.Equal(t, []string{"/find", "hello"}, handler.got(10))
	assert.Empty(t, handler.got(-100))
	assert.Equal(t, "uk", client.language(10))
	sender.AssertNumberOfCalls(t, "Send", 2)
}
