package chathub_test

import (
	"anonchat/backend/internal/models"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay_TextReachesPartner(t *testing.T) {
	f := newFixture(t)
	f.pair(t, 1, 2)
	f.tr.reset()

	replies := f.hub.HandleUpdate(context.Background(), 2, text("hi there"))
	assert.Empty(t, replies)

	got := f.tr.to(1)
	require.Len(t, got, 1)
	assert.Equal(t, models.KindText, got[0].Kind)
	assert.Equal(t, "hi there", got[0].Text)
}

func TestRelay_RejectedTextNeverReachesPartner(t *testing.T) {
	f := newFixture(t)
	f.pair(t, 1, 2)
	f.tr.reset()

	replies := f.hub.HandleUpdate(context.Background(), 1, text("hello you BASTARD"))
	assert.Equal(t, []string{"content_rejected"}, keysOf(replies))
	assert.Empty(t, f.tr.to(2))
	assert.True(t, f.context(t, 2).IsPairedWith(1))
	assert.True(t, f.context(t, 1).IsPairedWith(2))
}

func TestRelay_MediaCaptionIsGated(t *testing.T) {
	f := newFixture(t)
	f.pair(t, 1, 2)
	f.tr.reset()
	ctx := context.Background()

	photo := models.Inbound{Kind: models.KindPhoto, FileID: "file-1", Caption: "look"}
	assert.Empty(t, f.hub.HandleUpdate(ctx, 1, photo))

	bad := models.Inbound{Kind: models.KindVoice, FileID: "file-2", Caption: "shit"}
	assert.Equal(t, []string{"content_rejected"}, keysOf(f.hub.HandleUpdate(ctx, 1, bad)))

	sticker := models.Inbound{Kind: models.KindSticker, FileID: "file-3"}
	assert.Empty(t, f.hub.HandleUpdate(ctx, 1, sticker))

	got := f.tr.to(2)
	require.Len(t, got, 2)
	assert.Equal(t, "file-1", got[0].FileID)
	assert.Equal(t, "look", got[0].Caption)
	assert.Equal(t, models.KindSticker, got[1].Kind)
}

func TestRelay_ContextReplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, []string{"not_connected"}, keysOf(f.hub.HandleUpdate(ctx, 1, text("anyone?"))))

	_, err := f.hub.Matcher.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"searching"}, keysOf(f.hub.HandleUpdate(ctx, 1, text("anyone?"))))
	_, err = f.hub.Leave(ctx, 1)
	require.NoError(t, err)

	f.pair(t, 3, 4)
	other := models.Inbound{Kind: models.KindOther}
	assert.Equal(t, []string{"unsupported_message"}, keysOf(f.hub.HandleUpdate(ctx, 3, other)))
}

func TestRelay_RoomBroadcastsText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, err := f.hub.Rooms.Create(ctx, 1, "Room", "5")
	require.NoError(t, err)
	for _, id := range []int64{1, 2, 3} {
		_, err := f.hub.Rooms.Join(ctx, room.ID, id)
		require.NoError(t, err)
	}
	f.tr.reset()

	assert.Equal(t, []string{"content_rejected"}, keysOf(f.hub.HandleUpdate(ctx, 1, text("hey fuck all"))))
	assert.Empty(t, f.tr.to(2))

	assert.Empty(t, f.hub.HandleUpdate(ctx, 1, text("hey all")))
	for _, id := range []int64{2, 3} {
		got := f.tr.to(id)
		require.Len(t, got, 1)
		assert.Equal(t, "room_message", got[0].Key)
		assert.Equal(t, []string{"hey all"}, got[0].Args)
	}
	assert.Empty(t, f.tr.to(1))

	photo := models.Inbound{Kind: models.KindPhoto, FileID: "f"}
	assert.Equal(t, []string{"room_text_only"}, keysOf(f.hub.HandleUpdate(ctx, 1, photo)))
}

func TestRelay_VanishedRoomHeals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.UpdateSession(ctx, 1, func(s *models.Session) error {
		s.Context = models.InRoomContext("gone")
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"room_not_found"}, keysOf(f.hub.HandleUpdate(ctx, 1, text("hello"))))
	assert.True(t, f.context(t, 1).IsIdle())
}
