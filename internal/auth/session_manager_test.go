// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wardenauth/warden/internal/auth"
	"github.com/wardenauth/warden/internal/auth/memory"
	"github.com/wardenauth/warden/internal/auth/mocks"
	"github.com/wardenauth/warden/pkg/errutil"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
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

func testUser(t *testing.T) *auth.User {
	t.Helper()
	u, err := auth.NewUser("alice", "alice@example.com", "hash", "Alice", "Smith", "member")
	require.NoError(t, err)
	return u
}

func newManager(t *testing.T, cfg auth.SessionConfig) (*auth.SessionManager, *memory.SessionStore, *fakeClock) {
	t.Helper()
	store := memory.NewSessionStore()
	clock := newFakeClock()
	m, err := auth.NewSessionManager(store, cfg, auth.WithSessionClock(clock.Now))
	require.NoError(t, err)
	return m, store, clock
}

var testSessionConfig = auth.SessionConfig{
	IdleTimeout:      30 * time.Minute,
	RotationInterval: 15 * time.Minute,
	AbsoluteTimeout:  4 * time.Hour,
}

func TestNewSessionManager_Validation(t *testing.T) {
	_, err := auth.NewSessionManager(nil, testSessionConfig)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SESSION_CONFIG_INVALID")

	_, err = auth.NewSessionManager(memory.NewSessionStore(), auth.SessionConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle timeout")

	_, err = auth.NewSessionManager(memory.NewSessionStore(), auth.SessionConfig{IdleTimeout: time.Minute, RotationInterval: -1})
	require.Error(t, err)
}

func TestSessionManager_Create(t *testing.T) {
	ctx := context.Background()
	m, store, clock := newManager(t, testSessionConfig)
	user := testUser(t)

	s, err := m.Create(ctx, user, auth.ClientMeta{UserAgent: "curl/8.0", IPAddress: "10.0.0.1"}, "")
	require.NoError(t, err)
	assert.Len(t, s.ID, 64)
	assert.Equal(t, auth.HashToken(s.ID), s.TokenHash)
	assert.Equal(t, user.ID, s.UserID)
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, "member", s.Role)
	assert.Equal(t, "Alice Smith", s.FullName)
	assert.Equal(t, clock.Now(), s.CreatedAt)
	assert.Equal(t, clock.Now(), s.StartedAt)
	assert.Equal(t, clock.Now(), s.LastActivity)
	assert.Equal(t, 1, store.Len())
}

func TestSessionManager_CreateDestroysPriorSession(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newManager(t, testSessionConfig)
	user := testUser(t)

	first, err := m.Create(ctx, user, auth.ClientMeta{}, "")
	require.NoError(t, err)

	second, err := m.Create(ctx, user, auth.ClientMeta{}, first.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, store.Len())
	assert.False(t, m.IsActive(ctx, first.ID))
	assert.True(t, m.IsActive(ctx, second.ID))
}

func TestSessionManager_CreateWithPlantedUnknownID(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, testSessionConfig)

	planted := "attacker-chosen-id"
	s, err := m.Create(ctx, testUser(t), auth.ClientMeta{}, planted)
	require.NoError(t, err)
	assert.NotEqual(t, planted, s.ID)
	assert.False(t, m.IsActive(ctx, planted))
}

func TestSessionManager_TouchUpdatesActivity(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t, testSessionConfig)
	s, err := m.Create(ctx, testUser(t), auth.ClientMeta{}, "")
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	touched, err := m.Touch(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, touched.ID)
	assert.False(t, touched.Rotated)
	assert.Equal(t, clock.Now(), touched.LastActivity)

	peeked, err := m.Peek(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), peeked.LastActivity)
}

func TestSessionManager_IdleExpiry(t *testing.T) {
	ctx := context.Background()
	m, store, clock := newManager(t, testSessionConfig)
	s, err := m.Create(ctx, testUser(t), auth.ClientMeta{}, "")
	require.NoError(t, err)

	clock.Advance(30*time.Minute + time.Second)
	_, err = m.Touch(ctx, s.ID)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, auth.CodeSessionExpired)
	errutil.AssertErrorContext(t, err, "reason", auth.SessionExpiredIdle)
	assert.Zero(t, store.Len())

	// Gone for good, not merely expired.
	_, err = m.Touch(ctx, s.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestSessionManager_IdleBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t, auth.SessionConfig{IdleTimeout: 30 * time.Minute})
	s, err := m.Create(ctx, testUser(t), auth.ClientMeta{}, "")
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	_, err = m.Touch(ctx, s.ID)
	assert.NoError(t, err)
}

func TestSessionManager_Rotation(t *testing.T) {
	ctx := context.Background()
	m, store, clock := newManager(t, testSessionConfig)
	s, err := m.Create(ctx, testUser(t), auth.ClientMeta{}, "")
	require.NoError(t, err)

	clock.Advance(15 * time.Minute)
	rotated, err := m.Touch(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, rotated.Rotated)
	assert.NotEqual(t, s.ID, rotated.ID)
	assert.Equal(t, s.UserID, rotated.UserID)
	assert.Equal(t, s.Username, rotated.Username)
	assert.Equal(t, s.Role, rotated.Role)
	assert.Equal(t, s.StartedAt, rotated.StartedAt)
	assert.Equal(t, clock.Now(), rotated.CreatedAt)
	assert.Equal(t, 1, store.Len())

	_, err = m.Touch(ctx, s.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)

	again, err := m.Touch(ctx, rotated.ID)
	require.NoError(t, err)
	assert.False(t, again.Rotated)
}

func TestSessionManager_RotationDisabled(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t, auth.SessionConfig{IdleTimeout: time.Hour})
	s, err := m.Create(ctx, testUser(t), auth.ClientMeta{}, "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		clock.Advance(50 * time.Minute)
		touched, err := m.Touch(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, s.ID, touched.ID)
	}
}

func TestSessionManager_AbsoluteTimeoutSurvivesRotation(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t, testSessionConfig)
	s, err := m.Create(ctx, testUser(t), auth.ClientMeta{}, "")
	require.NoError(t, err)

	id := s.ID
	for elapsed := time.Duration(0); elapsed < 4*time.Hour; elapsed += 20 * time.Minute {
		clock.Advance(20 * time.Minute)
		touched, err := m.Touch(ctx, id)
		require.NoError(t, err)
		id = touched.ID
	}

	clock.Advance(20 * time.Minute)
	_, err = m.Touch(ctx, id)
	require.Error(t, err)
	assert.Equal(t, auth.CodeSessionExpired, auth.ErrorKind(err))
	errutil.AssertErrorContext(t, err, "reason", auth.SessionExpiredAbsolute)
}

func TestSessionManager_PeekHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	m, store, clock := newManager(t, testSessionConfig)
	s, err := m.Create(ctx, testUser(t), auth.ClientMeta{}, "")
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	peeked, err := m.Peek(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, peeked.ID)
	assert.Equal(t, s.LastActivity, peeked.LastActivity)

	clock.Advance(20 * time.Minute)
	_, err = m.Peek(ctx, s.ID)
	assert.Equal(t, auth.CodeSessionExpired, auth.ErrorKind(err))
	assert.Equal(t, 1, store.Len())
}

func TestSessionManager_DestroyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, testSessionConfig)
	s, err := m.Create(ctx, testUser(t), auth.ClientMeta{}, "")
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, s.ID))
	require.NoError(t, m.Destroy(ctx, s.ID))
	require.NoError(t, m.Destroy(ctx, ""))
	assert.False(t, m.IsActive(ctx, s.ID))
}

func TestSessionManager_DestroyUserAndSweep(t *testing.T) {
	ctx := context.Background()
	m, store, clock := newManager(t, testSessionConfig)
	alice := testUser(t)
	bob, err := auth.NewUser("bob", "bob@example.com", "hash", "Bob", "Jones", "member")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := m.Create(ctx, alice, auth.ClientMeta{}, "")
		require.NoError(t, err)
	}
	n, err := m.DestroyUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = m.Create(ctx, bob, auth.ClientMeta{}, "")
	require.NoError(t, err)
	clock.Advance(31 * time.Minute)
	fresh, err := m.Create(ctx, bob, auth.ClientMeta{}, "")
	require.NoError(t, err)

	n, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.Len())
	assert.True(t, m.IsActive(ctx, fresh.ID))
}

func TestSessionManager_ConcurrentTouchRotatesOnce(t *testing.T) {
	ctx := context.Background()
	m, store, clock := newManager(t, testSessionConfig)
	s, err := m.Create(ctx, testUser(t), auth.ClientMeta{}, "")
	require.NoError(t, err)
	clock.Advance(16 * time.Minute)

	const n = 20
	var wg sync.WaitGroup
	results := make(chan *auth.Session, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if touched, err := m.Touch(ctx, s.ID); err == nil {
				results <- touched
			}
		}()
	}
	wg.Wait()
	close(results)

	var winners int
	for r := range results {
		assert.True(t, r.Rotated)
		winners++
	}
	assert.Equal(t, 1, winners, "exactly one request wins the rotation")
	assert.Equal(t, 1, store.Len())
}

func TestSessionManager_StoreFailures(t *testing.T) {
	ctx := context.Background()
	storeErr := errors.New("connection reset")

	t.Run("lookup failure is store unavailable", func(t *testing.T) {
		repo := mocks.NewMockSessionRepository(t)
		m, err := auth.NewSessionManager(repo, testSessionConfig)
		require.NoError(t, err)

		repo.On("GetByTokenHash", ctx, auth.HashToken("tok")).Return(nil, storeErr)
		_, err = m.Touch(ctx, "tok")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeStoreUnavailable)
		assert.Equal(t, auth.MsgStoreUnavailable, auth.PublicMessage(err))
		assert.ErrorIs(t, err, storeErr)
	})

	t.Run("create failure is store unavailable", func(t *testing.T) {
		repo := mocks.NewMockSessionRepository(t)
		m, err := auth.NewSessionManager(repo, testSessionConfig)
		require.NoError(t, err)

		repo.On("Create", ctx, mock.AnythingOfType("*auth.Session")).Return(storeErr)
		_, err = m.Create(ctx, testUser(t), auth.ClientMeta{}, "")
		errutil.AssertErrorCode(t, err, auth.CodeStoreUnavailable)
	})

	t.Run("persisted session never carries the raw id", func(t *testing.T) {
		repo := mocks.NewMockSessionRepository(t)
		m, err := auth.NewSessionManager(repo, testSessionConfig)
		require.NoError(t, err)

		repo.On("Create", ctx, mock.MatchedBy(func(s *auth.Session) bool {
			return s.ID == "" && len(s.TokenHash) == 64
		})).Return(nil)
		_, err = m.Create(ctx, testUser(t), auth.ClientMeta{}, "")
		require.NoError(t, err)
	})

	t.Run("delete failure on destroy", func(t *testing.T) {
		repo := mocks.NewMockSessionRepository(t)
		m, err := auth.NewSessionManager(repo, testSessionConfig)
		require.NoError(t, err)

		repo.On("Delete", ctx, auth.HashToken("tok")).Return(storeErr)
		err = m.Destroy(ctx, "tok")
		errutil.AssertErrorCode(t, err, auth.CodeStoreUnavailable)
	})

	t.Run("sweep failure", func(t *testing.T) {
		repo := mocks.NewMockSessionRepository(t)
		m, err := auth.NewSessionManager(repo, testSessionConfig)
		require.NoError(t, err)

		repo.On("DeleteIdle", ctx, mock.AnythingOfType("time.Time")).Return(int64(0), storeErr)
		_, err = m.Sweep(ctx)
		errutil.AssertErrorCode(t, err, auth.CodeStoreUnavailable)
	})
}

func TestSessionManager_RunSweeperStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := memory.NewSessionStore()
	m, err := auth.NewSessionManager(store, testSessionConfig)
	require.NoError(t, err)

	_, err = m.Create(context.Background(), testUser(t), auth.ClientMeta{}, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.Equal(t, 1, store.Len(), "fresh session must survive the sweep")
}

func TestSessionManager_DestroyUserIgnoresOtherUsers(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newManager(t, testSessionConfig)
	_, err := m.Create(ctx, testUser(t), auth.ClientMeta{}, "")
	require.NoError(t, err)

	n, err := m.DestroyUser(ctx, ulid.Make())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, store.Len())
}
