package chathub

import (
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/metrics"
	"anonchat/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const timeLayout = "2006-01-02 15:04"

// HandleUpdate is the entry point for every inbound event of session id.
// It returns the replies for the sender; notices to other sessions are
// delivered through the Transport along the way.
func (m *ManagerService) HandleUpdate(ctx context.Context, id int64, in models.Inbound) []models.Outbound {
	var (
		out []models.Outbound
		err error
	)
	if in.IsCommand() {
		out, err = m.handleCommand(ctx, id, in.Text)
	} else {
		out, err = m.handleMessage(ctx, id, in)
	}
	if err != nil {
		return []models.Outbound{replyFor(id, err)}
	}
	return out
}

func (m *ManagerService) handleMessage(ctx context.Context, id int64, in models.Inbound) ([]models.Outbound, error) {
	sess, err := m.Reaper.Check(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Relay(ctx, sess, in)
}

func (m *ManagerService) handleCommand(ctx context.Context, id int64, text string) ([]models.Outbound, error) {
	cmd, err := ParseCommand(text)
	if err != nil {
		metrics.Commands.WithLabelValues("invalid").Inc()
		return nil, err
	}
	metrics.Commands.WithLabelValues(string(cmd.Kind)).Inc()
	log.Debug().Str("module", "chathub").Int64("session_id", id).Str("command", string(cmd.Kind)).Msg("command received")

	// start resets the record and leave ends the activity, so neither touches
	if cmd.Kind != CmdStart && cmd.Kind != CmdLeave {
		if _, err := m.touch(ctx, id); err != nil {
			return nil, err
		}
	}

	switch cmd.Kind {
	case CmdStart:
		if err := m.Start(ctx, id); err != nil {
			return nil, err
		}
		return one(models.Notice(id, "welcome")), nil
	case CmdHelp:
		return one(models.Notice(id, "help")), nil
	case CmdFind:
		return m.handleFind(ctx, id)
	case CmdLeave:
		return m.handleLeave(ctx, id)
	case CmdCreateRoom:
		return m.handleCreateRoom(ctx, id, cmd)
	case CmdListRooms:
		return m.handleListRooms(ctx, id)
	case CmdJoinRoom:
		room, err := m.Rooms.Join(ctx, cmd.Arg(0), id)
		if err != nil {
			return nil, err
		}
		return one(roomJoined(id, room)), nil
	case CmdSetProfile:
		return m.handleSetProfile(ctx, id, cmd)
	case CmdViewProfile:
		return m.handleViewProfile(ctx, id)
	case CmdSetMood:
		return m.handleSetMood(ctx, id, cmd)
	case CmdViewMood:
		return m.handleViewMood(ctx, id)
	case CmdMoodStats:
		return m.handleMoodStats(ctx, id)
	case CmdBroadcast:
		return m.handleBroadcast(ctx, id, cmd.Arg(0))
	default:
		return nil, ErrUnknownCommand
	}
}

func one(out models.Outbound) []models.Outbound { return []models.Outbound{out} }

func (m *ManagerService) handleFind(ctx context.Context, id int64) ([]models.Outbound, error) {
	res, err := m.Matcher.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case res.Partner != 0 && !res.PairedByOther:
		return one(models.Notice(id, "match_found")), nil
	case res.Searching:
		return one(models.Notice(id, "searching")), nil
	default:
		// the concurrent find or leave that won already replied
		return nil, nil
	}
}

func (m *ManagerService) handleLeave(ctx context.Context, id int64) ([]models.Outbound, error) {
	dep, err := m.Leave(ctx, id)
	if err != nil {
		return nil, err
	}
	switch dep.Kind {
	case LeftRoom:
		name := dep.RoomID
		if dep.Room != nil {
			name = dep.Room.Name
		}
		return one(models.Notice(id, "room_left", name)), nil
	case CancelledSearch:
		return one(models.Notice(id, "search_cancelled")), nil
	default:
		return one(models.Notice(id, "chat_ended")), nil
	}
}

func (m *ManagerService) handleCreateRoom(ctx context.Context, id int64, cmd Command) ([]models.Outbound, error) {
	room, err := m.Rooms.Create(ctx, id, cmd.Arg(0), cmd.Arg(1))
	if room == nil {
		return nil, err
	}
	out := one(models.Notice(id, "room_created", room.Name, room.ID, strconv.Itoa(room.Capacity)))
	if err != nil {
		// created, but the auto-join failed
		return append(out, replyFor(id, err)), nil
	}
	if room.HasMember(id) {
		out = append(out, roomJoined(id, room))
	}
	return out, nil
}

func (m *ManagerService) handleListRooms(ctx context.Context, id int64) ([]models.Outbound, error) {
	rooms, err := m.Rooms.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return one(models.Notice(id, "rooms_empty")), nil
	}
	out := models.Notice(id, "rooms_header")
	out.ItemKey = "rooms_item"
	for _, r := range rooms {
		out.Items = append(out.Items, []string{r.Name, r.ID, strconv.Itoa(len(r.Members)), strconv.Itoa(r.Capacity)})
	}
	return one(out), nil
}

func roomJoined(id int64, room *models.Room) models.Outbound {
	return models.Notice(id, "room_joined", room.Name, strconv.Itoa(len(room.Members)), strconv.Itoa(room.Capacity))
}

func (m *ManagerService) handleSetProfile(ctx context.Context, id int64, cmd Command) ([]models.Outbound, error) {
	nickname, emoji, bio := cmd.Arg(0), cmd.Arg(1), cmd.Arg(2)
	if len([]rune(nickname)) > config.MaxNicknameLength || len([]rune(bio)) > config.MaxBioLength || len([]rune(emoji)) > 16 {
		return nil, &UsageError{Usage: usageOf(CmdSetProfile)}
	}
	if m.Profiles == nil {
		return nil, ErrStoreUnavailable
	}

	now := m.now()
	profile := &models.Profile{
		SessionID:   id,
		Nickname:    nickname,
		AvatarEmoji: emoji,
		Bio:         bio,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.Profiles.SaveProfile(ctx, profile); err != nil {
		return nil, profileErr(err)
	}
	if _, err := m.Storage.UpdateSession(ctx, id, func(s *models.Session) error {
		s.ProfileRef = profile.Ref()
		return nil
	}); err != nil {
		log.Warn().Str("module", "chathub").Int64("session_id", id).Err(err).Msg("profile ref not stored")
	}
	return one(models.Notice(id, "profile_saved", nickname, emoji, bio)), nil
}

func (m *ManagerService) handleViewProfile(ctx context.Context, id int64) ([]models.Outbound, error) {
	if m.Profiles == nil {
		return nil, ErrStoreUnavailable
	}
	profile, err := m.Profiles.GetProfile(ctx, id)
	if err != nil {
		return nil, profileErr(err)
	}
	if profile == nil {
		return one(models.Notice(id, "profile_empty")), nil
	}
	return one(models.Notice(id, "profile_view",
		profile.Nickname, profile.AvatarEmoji, profile.Bio,
		profile.CreatedAt.Format(timeLayout), profile.UpdatedAt.Format(timeLayout),
	)), nil
}

func (m *ManagerService) handleSetMood(ctx context.Context, id int64, cmd Command) ([]models.Outbound, error) {
	mood, note := cmd.Arg(0), cmd.Arg(1)
	if len([]rune(mood)) > config.MaxMoodLength || len([]rune(note)) > config.MaxNoteLength {
		return nil, &UsageError{Usage: usageOf(CmdSetMood)}
	}
	if m.Profiles == nil {
		return nil, ErrStoreUnavailable
	}

	entry := &models.MoodEntry{
		SessionID: id,
		Mood:      strings.ToLower(mood),
		Note:      note,
		CreatedAt: m.now(),
	}
	if err := m.Profiles.AppendMood(ctx, entry); err != nil {
		return nil, profileErr(err)
	}
	if _, err := m.Storage.UpdateSession(ctx, id, func(s *models.Session) error {
		s.MoodRef = entry.ID
		return nil
	}); err != nil {
		log.Warn().Str("module", "chathub").Int64("session_id", id).Err(err).Msg("mood ref not stored")
	}
	return one(models.Notice(id, "mood_saved", entry.Mood, note)), nil
}

func (m *ManagerService) handleViewMood(ctx context.Context, id int64) ([]models.Outbound, error) {
	if m.Profiles == nil {
		return nil, ErrStoreUnavailable
	}
	moods, err := m.Profiles.GetMoods(ctx, id)
	if err != nil {
		return nil, profileErr(err)
	}
	if len(moods) == 0 {
		return one(models.Notice(id, "mood_empty")), nil
	}
	out := models.Notice(id, "mood_history_header")
	out.ItemKey = "mood_item"
	for i, e := range moods {
		note := e.CreatedAt.Format(timeLayout)
		if e.Note != "" {
			note = e.Note + " (" + note + ")"
		}
		out.Items = append(out.Items, []string{strconv.Itoa(i + 1), e.Mood, note})
	}
	return one(out), nil
}

func (m *ManagerService) handleMoodStats(ctx context.Context, id int64) ([]models.Outbound, error) {
	if m.Profiles == nil {
		return nil, ErrStoreUnavailable
	}
	stats, err := m.Profiles.GetMoodStats(ctx)
	if err != nil {
		return nil, profileErr(err)
	}
	if len(stats) == 0 {
		return one(models.Notice(id, "mood_stats_empty")), nil
	}
	out := models.Notice(id, "mood_stats_header")
	out.ItemKey = "mood_stats_item"
	for _, c := range SortMoodStats(stats) {
		out.Items = append(out.Items, []string{c.Mood, strconv.FormatInt(c.Count, 10)})
	}
	return one(out), nil
}

// SortMoodStats orders the aggregate by count, most frequent first.
func SortMoodStats(stats map[string]int64) []models.MoodCount {
	counts := make([]models.MoodCount, 0, len(stats))
	for mood, n := range stats {
		counts = append(counts, models.MoodCount{Mood: mood, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Mood < counts[j].Mood
	})
	return counts
}

func (m *ManagerService) handleBroadcast(ctx context.Context, id int64, text string) ([]models.Outbound, error) {
	sess, err := m.session(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if !sess.IsAdmin {
		return nil, ErrPermissionDenied
	}
	n, err := m.Broadcast(ctx, id, text)
	if err != nil {
		return nil, err
	}
	return one(models.Notice(id, "broadcast_done", strconv.Itoa(n))), nil
}

// Broadcast sends an announcement to every known session except the sender
// and returns the number of successful deliveries.
func (m *ManagerService) Broadcast(ctx context.Context, sender int64, text string) (int, error) {
	ids, err := m.Storage.SessionIDs(ctx)
	if err != nil {
		return 0, storeErr(err)
	}
	start := time.Now()
	sent := 0
	for _, id := range ids {
		if id == sender {
			continue
		}
		if err := m.notify(ctx, models.Notice(id, "broadcast_message", text)); err == nil {
			sent++
		}
	}
	log.Info().Str("module", "chathub").Int64("session_id", sender).Int("sent", sent).Int("total", len(ids)).Dur("took", time.Since(start)).Msg("broadcast finished")
	return sent, nil
}

func profileErr(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
