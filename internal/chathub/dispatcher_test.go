package chathub_test

import (
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestHandleUpdate_FindFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, []string{"searching"}, keysOf(f.hub.HandleUpdate(ctx, 1, text("/find"))))
	assert.Equal(t, []string{"match_found"}, keysOf(f.hub.HandleUpdate(ctx, 2, text("/find"))))
	assert.Equal(t, []string{"match_found"}, f.tr.keys(1))

	assert.Equal(t, []string{"already_busy"}, keysOf(f.hub.HandleUpdate(ctx, 1, text("/find"))))
	assert.Equal(t, []string{"chat_ended"}, keysOf(f.hub.HandleUpdate(ctx, 1, text("/leave"))))
	assert.Equal(t, []string{"partner_left"}, f.tr.keys(2))
}

func TestHandleUpdate_Rooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, []string{"rooms_empty"}, keysOf(f.hub.HandleUpdate(ctx, 1, text("/listrooms"))))

	replies := f.hub.HandleUpdate(ctx, 1, text("/createroom Chess club 2"))
	require.Equal(t, []string{"room_created"}, keysOf(replies))
	roomID := replies[0].Args[1]
	assert.Equal(t, []string{"Chess club", roomID, "2"}, replies[0].Args)

	replies = f.hub.HandleUpdate(ctx, 2, text("/joinroom "+roomID))
	require.Equal(t, []string{"room_joined"}, keysOf(replies))
	assert.Equal(t, []string{"Chess club", "1", "2"}, replies[0].Args)

	replies = f.hub.HandleUpdate(ctx, 3, text("/listrooms"))
	require.Len(t, replies, 1)
	assert.Equal(t, "rooms_header", replies[0].Key)
	assert.Equal(t, "rooms_item", replies[0].ItemKey)
	assert.Equal(t, [][]string{{"Chess club", roomID, "1", "2"}}, replies[0].Items)

	assert.Equal(t, []string{"invalid_capacity"}, keysOf(f.hub.HandleUpdate(ctx, 3, text("/createroom Chess lots"))))
	assert.Equal(t, []string{"invalid_input"}, keysOf(f.hub.HandleUpdate(ctx, 3, text("/createroom Chess"))))
	assert.Equal(t, []string{"room_not_found"}, keysOf(f.hub.HandleUpdate(ctx, 3, text("/joinroom nope"))))

	assert.Equal(t, []string{"room_left"}, keysOf(f.hub.HandleUpdate(ctx, 2, text("/leave"))))
	assert.Equal(t, []string{"rooms_empty"}, keysOf(f.hub.HandleUpdate(ctx, 3, text("/listrooms"))))
}

func TestHandleUpdate_UnknownCommand(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"unknown_command"}, keysOf(f.hub.HandleUpdate(context.Background(), 1, text("/dance"))))
}

func TestHandleUpdate_BroadcastRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []int64{2, 3, 4} {
		f.hub.HandleUpdate(ctx, id, text("/help"))
	}
	f.tr.fail[4] = true

	assert.Equal(t, []string{"permission_denied"}, keysOf(f.hub.HandleUpdate(ctx, 1, text("/broadcast hi all"))))
	assert.Empty(t, f.tr.to(2))

	_, err := f.store.UpdateSession(ctx, 1, func(s *models.Session) error {
		s.IsAdmin = true
		return nil
	})
	require.NoError(t, err)

	replies := f.hub.HandleUpdate(ctx, 1, text("/broadcast hi all"))
	require.Equal(t, []string{"broadcast_done"}, keysOf(replies))
	assert.Equal(t, []string{"2"}, replies[0].Args)
	assert.Equal(t, []string{"broadcast_message"}, f.tr.keys(2))
	assert.Equal(t, []string{"hi all"}, f.tr.to(3)[0].Args)
	assert.Empty(t, f.tr.to(1))
}

func TestHandleUpdate_ProfileWithMockStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.profiles.On("SaveProfile", mock.Anything, mock.MatchedBy(func(p *models.Profile) bool {
		return p.SessionID == 1 && p.Nickname == "neo" && p.Bio == "likes long walks"
	})).Return(nil).Once()

	replies := f.hub.HandleUpdate(ctx, 1, text("/setprofile neo 😎 likes long walks"))
	require.Equal(t, []string{"profile_saved"}, keysOf(replies))
	assert.Equal(t, []string{"neo", "😎", "likes long walks"}, replies[0].Args)

	sess, err := f.store.GetSession(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "1", sess.ProfileRef)

	f.profiles.On("GetProfile", mock.Anything, int64(2)).Return(nil, nil).Once()
	assert.Equal(t, []string{"profile_empty"}, keysOf(f.hub.HandleUpdate(ctx, 2, text("/viewprofile"))))

	f.profiles.On("GetProfile", mock.Anything, int64(3)).Return(nil, errors.New("connection refused")).Once()
	assert.Equal(t, []string{"store_unavailable"}, keysOf(f.hub.HandleUpdate(ctx, 3, text("/viewprofile"))))

	f.profiles.AssertExpectations(t)
}

func newSQLiteProfiles(t *testing.T) *storage.ProfileRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := storage.NewProfileRepository(db)
	require.NoError(t, repo.Migrate())
	return repo
}

func TestHandleUpdate_MoodScenario(t *testing.T) {
	f := newFixture(t)
	f.hub.Profiles = newSQLiteProfiles(t)
	ctx := context.Background()

	assert.Equal(t, []string{"mood_empty"}, keysOf(f.hub.HandleUpdate(ctx, 1, text("/viewmood"))))
	assert.Equal(t, []string{"mood_stats_empty"}, keysOf(f.hub.HandleUpdate(ctx, 1, text("/moodstats"))))

	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Second)
		replies := f.hub.HandleUpdate(ctx, 1, text("/setmood happy great day"))
		require.Equal(t, []string{"mood_saved"}, keysOf(replies))
	}

	replies := f.hub.HandleUpdate(ctx, 1, text("/viewmood"))
	require.Len(t, replies, 1)
	assert.Equal(t, "mood_history_header", replies[0].Key)
	require.Len(t, replies[0].Items, 5)
	assert.Equal(t, "1", replies[0].Items[0][0])
	assert.Equal(t, "happy", replies[0].Items[0][1])

	replies = f.hub.HandleUpdate(ctx, 2, text("/moodstats"))
	require.Len(t, replies, 1)
	assert.Equal(t, [][]string{{"happy", "5"}}, replies[0].Items)

	sess, err := f.store.GetSession(ctx, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.MoodRef)
}

func TestHandleUpdate_MoodHistoryIsCapped(t *testing.T) {
	f := newFixture(t)
	f.hub.Profiles = newSQLiteProfiles(t)
	ctx := context.Background()

	for i := 0; i < 35; i++ {
		f.clock.Advance(time.Second)
		f.hub.HandleUpdate(ctx, 1, text(fmt.Sprintf("/setmood m%d", i)))
	}
	replies := f.hub.HandleUpdate(ctx, 1, text("/viewmood"))
	require.Len(t, replies, 1)
	require.Len(t, replies[0].Items, 30)
	assert.Equal(t, "m34", replies[0].Items[0][1], "most recent first")
}

func TestSortMoodStats(t *testing.T) {
	got := chathub.SortMoodStats(map[string]int64{"sad": 1, "happy": 5, "calm": 1})
	assert.Equal(t, []models.MoodCount{{Mood: "happy", Count: 5}, {Mood: "calm", Count: 1}, {Mood: "sad", Count: 1}}, got)
}
