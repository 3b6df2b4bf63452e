package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/ratelimit"
	"github.com/npezzotti/go-realtime-chat/internal/stats"
	"github.com/npezzotti/go-realtime-chat/internal/testutil"
	"github.com/npezzotti/go-realtime-chat/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeConn records every event it is sent.
type fakeConn struct {
	mu     sync.Mutex
	msgs   []ServerMessage
	closed bool
}

func (f *fakeConn) Send(msg ServerMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeConn) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) events() []ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ServerMessage(nil), f.msgs...)
}

func (f *fakeConn) ofType(t EventType) []ServerMessage {
	var out []ServerMessage
	for _, m := range f.events() {
		if m.Type() == t {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = nil
}

// newTestStats accepts any call.
func newTestStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything, mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	su.On("RecordMessage", mock.Anything).Maybe()
	return su
}

type routerFixture struct {
	router   *Router
	db       *database.MemRepository
	clock    clockwork.FakeClock
	stats    *stats.MockStatsUpdater
	expiries chan typingExpiry
}

func newTestRouter(t *testing.T, echoToSender bool) *routerFixture {
	t.Helper()

	f := &routerFixture{
		db:       database.NewMemRepository(),
		clock:    clockwork.NewFakeClock(),
		stats:    newTestStats(),
		expiries: make(chan typingExpiry, 16),
	}

	logger := testutil.TestLogger(t)
	registry := NewSessionRegistry(logger)
	f.router = &Router{
		log:          logger,
		db:           f.db,
		registry:     registry,
		presence:     NewPresenceTracker(logger, f.db, registry, f.stats),
		typing:       NewTypingTracker(f.clock, DefaultTypingTimeout, func(exp typingExpiry) { f.expiries <- exp }),
		limiter:      ratelimit.NewSlidingWindow(ratelimit.RuleMessage, f.clock),
		stats:        f.stats,
		clock:        f.clock,
		echoToSender: echoToSender,
		sessions:     make(map[Conn]session),
	}
	t.Cleanup(f.router.typing.Reset)

	return f
}

func (f *routerFixture) createUser(t *testing.T, username string) types.User {
	t.Helper()
	u, err := f.db.CreateUser(context.Background(), database.CreateUserParams{Username: username})
	require.NoError(t, err)
	return u
}

// connect authenticates a new connection as user and clears the events the
// auth produced on it.
func (f *routerFixture) connect(t *testing.T, user types.User) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	f.router.handleAuth(context.Background(), conn, user.Id)
	require.Same(t, conn, mustConn(t, f.router.registry, user.Id))
	conn.reset()
	return conn
}

func mustConn(t *testing.T, sr *SessionRegistry, userId string) Conn {
	t.Helper()
	conn, ok := sr.ConnectionFor(userId)
	require.True(t, ok, "no connection for %s", userId)
	return conn
}

// waitExpiry receives the next typing expiry. Fake clock timers fire on
// their own goroutine.
func waitExpiry(t *testing.T, ch <-chan typingExpiry) typingExpiry {
	t.Helper()
	select {
	case exp := <-ch:
		return exp
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typing expiry")
		return typingExpiry{}
	}
}
