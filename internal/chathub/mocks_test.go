package chathub_test

import (
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/moderation"
	"anonchat/backend/internal/storage"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeTransport records every delivery. Recipients in fail are refused.
type fakeTransport struct {
	mu   sync.Mutex
	sent []models.Outbound
	fail map[int64]bool
}

func (t *fakeTransport) Deliver(_ context.Context, out models.Outbound) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail[out.Recipient] {
		return errors.New("recipient unreachable")
	}
	t.sent = append(t.sent, out)
	return nil
}

// to returns what was delivered to id, in order.
func (t *fakeTransport) to(id int64) []models.Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.Outbound
	for _, o := range t.sent {
		if o.Recipient == id {
			out = append(out, o)
		}
	}
	return out
}

func (t *fakeTransport) keys(id int64) []string {
	var keys []string
	for _, o := range t.to(id) {
		keys = append(keys, o.Key)
	}
	return keys
}

func (t *fakeTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockProfileStore is a testify mock of storage.ProfileStore.
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) SaveProfile(ctx context.Context, profile *models.Profile) error {
	return m.Called(ctx, profile).Error(0)
}

func (m *MockProfileStore) GetProfile(ctx context.Context, sessionID int64) (*models.Profile, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}

func (m *MockProfileStore) AppendMood(ctx context.Context, entry *models.MoodEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockProfileStore) GetMoods(ctx context.Context, sessionID int64) ([]models.MoodEntry, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MoodEntry), args.Error(1)
}

func (m *MockProfileStore) GetMoodStats(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *MockProfileStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fixture struct {
	hub      *chathub.ManagerService
	store    *storage.Service
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	tr       *fakeTransport
	clock    *fakeClock
	profiles *MockProfileStore
}

// newFixture builds an engine over a real in-memory Redis.
func newFixture(t *testing.T, opts ...func(*chathub.Options)) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := storage.NewStorageService(rdb, 200)
	store.Now = clock.Now

	o := chathub.DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	tr := &fakeTransport{fail: map[int64]bool{}}
	profiles := new(MockProfileStore)
	hub := chathub.NewManagerService(store, profiles, tr, moderation.NewDefaultFilter(), o)
	hub.Now = clock.Now

	return &fixture{hub: hub, store: store, mr: mr, rdb: rdb, tr: tr, clock: clock, profiles: profiles}
}

func (f *fixture) context(t *testing.T, id int64) models.SessionContext {
	t.Helper()
	sess, err := f.store.GetSession(context.Background(), id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return models.IdleContext()
	}
	require.NoError(t, err)
	return sess.Context
}

// pair makes a and b partners through two finds.
func (f *fixture) pair(t *testing.T, a, b int64) {
	t.Helper()
	ctx := context.Background()
	res, err := f.hub.Matcher.Find(ctx, a)
	require.NoError(t, err)
	require.True(t, res.Searching)
	res, err = f.hub.Matcher.Find(ctx, b)
	require.NoError(t, err)
	require.Equal(t, a, res.Partner)
	require.True(t, f.context(t, a).IsPairedWith(b))
	require.True(t, f.context(t, b).IsPairedWith(a))
}

func text(s string) models.Inbound {
	return models.Inbound{Kind: models.KindText, Text: s}
}

func keysOf(outs []models.Outbound) []string {
	keys := make([]string, 0, len(outs))
	for _, o := range outs {
		keys = append(keys, o.Key)
	}
	return keys
}
