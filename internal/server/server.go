package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/ratelimit"
	"github.com/npezzotti/go-realtime-chat/internal/stats"
	"github.com/npezzotti/go-realtime-chat/internal/types"
)

const defaultOpTimeout = 5 * time.Second

var ErrServerStopped = errors.New("chat server stopped")

type Options struct {
	// Clock drives typing timers, message timestamps and the default
	// limiter. Defaults to the real clock.
	Clock clockwork.Clock
	// Limiter defaults to an in-memory sliding window of
	// ratelimit.RuleMessage.
	Limiter       ratelimit.Limiter
	TypingTimeout time.Duration
	EchoToSender  bool
	// OpTimeout bounds the repository calls made for one event.
	OpTimeout time.Duration
}

// apiRequest is work submitted to the event loop from outside it, usually
// by an HTTP handler.
type apiRequest interface {
	apply(ctx context.Context, r *Router)
}

type broadcastRequest struct {
	msg        ServerMessage
	skipUserId string
}

func (b broadcastRequest) apply(_ context.Context, r *Router) {
	r.registry.Broadcast(b.msg, b.skipUserId)
}

type sendRequest struct {
	userId string
	msg    ServerMessage
}

func (s sendRequest) apply(_ context.Context, r *Router) {
	r.registry.SendTo(s.userId, s.msg)
}

type postResult struct {
	msg types.Message
	err error
}

type postRequest struct {
	senderId string
	publish  *Publish
	reply    chan postResult
}

func (p postRequest) apply(ctx context.Context, r *Router) {
	msg, err := r.handleChannelMessage(ctx, p.senderId, p.publish)
	p.reply <- postResult{msg: msg, err: err}
}

type onlineRequest struct {
	reply chan []string
}

func (o onlineRequest) apply(_ context.Context, r *Router) {
	o.reply <- r.registry.AllOnlineIds()
}

// ChatServer owns the event loop. Every mutation of sessions, typing and
// presence state happens on the goroutine running Run.
type ChatServer struct {
	log         *slog.Logger
	stats       stats.StatsProvider
	router      *Router
	opTimeout   time.Duration
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	events      chan clientEvent
	disconnects chan Conn
	expiries    chan typingExpiry
	requests    chan apiRequest
	stop        chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
}

func NewChatServer(logger *slog.Logger, db database.Repository, su stats.StatsProvider, opts Options) (*ChatServer, error) {
	if db == nil {
		return nil, errors.New("repository is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewSlidingWindow(ratelimit.RuleMessage, opts.Clock)
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}

	su.RegisterMetric(stats.ActiveConnections, "Open websocket connections")
	su.RegisterMetric(stats.OnlineUsers, "Users with a registered connection")

	cs := &ChatServer{
		log:         logger,
		stats:       su,
		opTimeout:   opts.OpTimeout,
		clients:     make(map[*Client]struct{}),
		events:      make(chan clientEvent),
		disconnects: make(chan Conn),
		expiries:    make(chan typingExpiry),
		requests:    make(chan apiRequest),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	registry := NewSessionRegistry(logger)
	cs.router = &Router{
		log:          logger,
		db:           db,
		registry:     registry,
		presence:     NewPresenceTracker(logger, db, registry, su),
		typing:       NewTypingTracker(opts.Clock, opts.TypingTimeout, cs.postExpiry),
		limiter:      opts.Limiter,
		stats:        su,
		clock:        opts.Clock,
		echoToSender: opts.EchoToSender,
		sessions:     make(map[Conn]session),
	}

	return cs, nil
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	for {
		select {
		case ev := <-cs.events:
			ctx, cancel := context.WithTimeout(context.Background(), cs.opTimeout)
			cs.router.handleEvent(ctx, ev)
			cancel()
		case conn := <-cs.disconnects:
			ctx, cancel := context.WithTimeout(context.Background(), cs.opTimeout)
			cs.router.handleDisconnect(ctx, conn)
			cancel()
		case exp := <-cs.expiries:
			cs.router.handleTypingExpiry(exp)
		case req := <-cs.requests:
			ctx, cancel := context.WithTimeout(context.Background(), cs.opTimeout)
			req.apply(ctx, cs.router)
			cancel()
		case <-cs.stop:
			cs.log.Info("stopping event loop")
			cs.router.typing.Reset()
			return
		}
	}
}

// Shutdown stops every client and the event loop. It returns ctx's error if
// the loop has not exited before ctx is done.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	cs.stopOnce.Do(func() { close(cs.stop) })

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeClient starts the pumps of a new websocket connection. A non-empty
// userId authenticates the connection before its first frame is read.
func (cs *ChatServer) ServeClient(conn *websocket.Conn, userId string) *Client {
	c := NewClient(conn, cs, cs.log)
	c.authId = userId
	cs.addClient(c)

	go c.Write()
	go c.Read()

	return c
}

// Broadcast sends msg to every connected user except skipUserId.
func (cs *ChatServer) Broadcast(ctx context.Context, msg ServerMessage, skipUserId string) error {
	return cs.submit(ctx, broadcastRequest{msg: msg, skipUserId: skipUserId})
}

// SendToUser sends msg to userId's connection, if it has one.
func (cs *ChatServer) SendToUser(ctx context.Context, userId string, msg ServerMessage) error {
	return cs.submit(ctx, sendRequest{userId: userId, msg: msg})
}

// PostMessage runs a channel post from outside a websocket through the same
// pipeline as one received on a connection. ctx only bounds the hand-off to
// the loop: once the loop has taken the post it is stored and broadcast, so
// PostMessage waits for the outcome.
func (cs *ChatServer) PostMessage(ctx context.Context, senderId string, p *Publish) (types.Message, error) {
	reply := make(chan postResult, 1)
	if err := cs.submit(ctx, postRequest{senderId: senderId, publish: p, reply: reply}); err != nil {
		return types.Message{}, err
	}

	// requests is unbuffered and apply always replies, so this cannot block
	// past the loop's op timeout.
	res := <-reply
	return res.msg, res.err
}

// OnlineUsers returns the ids of the users with a registered connection.
func (cs *ChatServer) OnlineUsers(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := cs.submit(ctx, onlineRequest{reply: reply}); err != nil {
		return nil, err
	}

	select {
	case ids := <-reply:
		return ids, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (cs *ChatServer) submit(ctx context.Context, req apiRequest) error {
	select {
	case cs.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-cs.done:
		return ErrServerStopped
	}
}

// dispatch hands a client event to the loop. It blocks so that a
// connection's events are processed in the order they were read.
func (cs *ChatServer) dispatch(ev clientEvent) bool {
	select {
	case cs.events <- ev:
		return true
	case <-cs.done:
		return false
	}
}

func (cs *ChatServer) disconnect(conn Conn) {
	select {
	case cs.disconnects <- conn:
	case <-cs.done:
	}
}

// postExpiry runs on a timer goroutine.
func (cs *ChatServer) postExpiry(exp typingExpiry) {
	select {
	case cs.expiries <- exp:
	case <-cs.done:
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.ActiveConnections)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr(stats.ActiveConnections)
	}
}
