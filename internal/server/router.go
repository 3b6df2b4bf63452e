package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/moderation"
	"github.com/npezzotti/go-realtime-chat/internal/ratelimit"
	"github.com/npezzotti/go-realtime-chat/internal/stats"
	"github.com/npezzotti/go-realtime-chat/internal/types"
)

const (
	MaxContentLength = 2000

	RateLimitMessage = "Too many messages, slow down"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrRejected       = errors.New("message rejected")
	ErrRateLimited    = errors.New("rate limited")
)

type session struct {
	userId   string
	username string
}

// clientEvent is one decoded frame together with the connection it came from.
type clientEvent struct {
	conn Conn
	msg  ClientMessage
}

// Router turns client events into persisted state and fan-out. It owns the
// per-connection identities and must only run on the event loop.
type Router struct {
	log          *slog.Logger
	db           database.Repository
	registry     *SessionRegistry
	presence     *PresenceTracker
	typing       *TypingTracker
	limiter      ratelimit.Limiter
	stats        stats.StatsProvider
	clock        clockwork.Clock
	echoToSender bool
	// sessions holds the identity of every authenticated connection,
	// including ones superseded in the registry.
	sessions map[Conn]session
}

func (r *Router) handleEvent(ctx context.Context, ev clientEvent) {
	s := r.sessions[ev.conn]

	switch msg := ev.msg.(type) {
	case *Auth:
		r.handleAuth(ctx, ev.conn, msg.OdId)
	case *Publish:
		_, err := r.handleChannelMessage(ctx, s.userId, msg)
		r.reportError(ev.conn, s.userId, err)
	case *DirectPublish:
		_, err := r.handleDirectMessage(ctx, s.userId, msg)
		r.reportError(ev.conn, s.userId, err)
	case *TypingStart:
		r.handleTypingStart(s, msg.ChannelId)
	case *TypingStop:
		r.handleTypingStop(s.userId, msg.ChannelId)
	default:
		r.log.Warn("unhandled client event", "type", ev.msg.Type())
	}
}

// reportError tells the sender about rate limiting. Every other failure is
// only logged.
func (r *Router) reportError(conn Conn, userId string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrRateLimited):
		conn.Send(NewErrorEvent(RateLimitMessage))
	case errors.Is(err, ErrRejected):
		r.log.Info("dropped message", "user_id", userId, "error", err)
	default:
		r.log.Debug("dropped message", "user_id", userId, "error", err)
	}
}

func (r *Router) handleAuth(ctx context.Context, conn Conn, userId string) {
	if userId == "" {
		r.log.Debug("dropped auth without user id")
		return
	}

	user, err := r.db.GetUser(ctx, userId)
	if err != nil {
		r.log.Warn("auth failed", "user_id", userId, "error", err)
		return
	}

	if prev, ok := r.sessions[conn]; ok && prev.userId != userId {
		r.release(ctx, conn, prev.userId)
	}
	r.sessions[conn] = session{userId: user.Id, username: user.Username}

	wasOnline := r.registry.IsOnline(user.Id)
	if prev := r.registry.Register(user.Id, conn); prev != nil && prev != conn {
		r.log.Info("connection superseded", "user_id", user.Id)
	}
	if !wasOnline {
		r.presence.Online(ctx, user.Id)
	}

	roster, err := r.presence.Roster(ctx)
	if err != nil {
		r.log.Error("failed to load roster", "user_id", user.Id, "error", err)
		return
	}
	conn.Send(NewUsersOnline(roster))
}

func (r *Router) handleDisconnect(ctx context.Context, conn Conn) {
	s, ok := r.sessions[conn]
	if !ok {
		return
	}
	delete(r.sessions, conn)
	r.release(ctx, conn, s.userId)
}

// release ends userId's session on conn. Nothing happens when conn was
// already superseded.
func (r *Router) release(ctx context.Context, conn Conn, userId string) {
	if !r.registry.Release(userId, conn) {
		r.log.Debug("orphaned connection released", "user_id", userId)
		return
	}

	for _, channelId := range r.typing.StopAll(userId) {
		r.registry.Broadcast(NewTypingStopped(channelId, userId), userId)
	}
	r.presence.Offline(ctx, userId)
}

func (r *Router) handleTypingStart(s session, channelId string) {
	if s.userId == "" || channelId == "" {
		return
	}
	if r.typing.Start(s.userId, channelId, s.username) {
		r.registry.Broadcast(NewTypingStarted(channelId, s.userId, s.username), s.userId)
	}
}

func (r *Router) handleTypingStop(userId, channelId string) {
	if userId == "" || channelId == "" {
		return
	}
	if r.typing.Stop(userId, channelId) {
		r.registry.Broadcast(NewTypingStopped(channelId, userId), userId)
	}
}

func (r *Router) handleTypingExpiry(exp typingExpiry) {
	if r.typing.Expire(exp) {
		r.registry.Broadcast(NewTypingStopped(exp.key.channelId, exp.key.userId), exp.key.userId)
	}
}

// handleChannelMessage validates, screens, persists and broadcasts a channel
// post. The returned error wraps ErrInvalidMessage, ErrRejected or
// ErrRateLimited when the message was refused.
func (r *Router) handleChannelMessage(ctx context.Context, senderId string, p *Publish) (types.Message, error) {
	if err := r.validate(senderId, p.Content, p.Media); err != nil {
		return types.Message{}, err
	}
	if p.ChannelId == "" {
		r.stats.RecordMessage(stats.OutcomeInvalid)
		return types.Message{}, fmt.Errorf("%w: missing channel", ErrInvalidMessage)
	}
	if _, err := r.db.GetChannel(ctx, p.ChannelId); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			r.stats.RecordMessage(stats.OutcomeInvalid)
			return types.Message{}, fmt.Errorf("%w: channel %q: %w", ErrInvalidMessage, p.ChannelId, err)
		}
		r.stats.RecordMessage(stats.OutcomeFailed)
		return types.Message{}, fmt.Errorf("load channel: %w", err)
	}

	if err := r.screen(ctx, senderId, p.Content); err != nil {
		return types.Message{}, err
	}

	msg, err := r.newMessage(ctx, senderId, p.Content, p.Media)
	if err != nil {
		return types.Message{}, err
	}
	msg.ChannelId = p.ChannelId
	if p.ReplyToId != "" {
		msg.ReplyToId = p.ReplyToId
		msg.ReplyTo = r.resolveReply(ctx, p.ReplyToId, p.ChannelId)
	}

	stored, err := r.db.CreateMessage(ctx, msg)
	if err != nil {
		r.stats.RecordMessage(stats.OutcomeFailed)
		return types.Message{}, fmt.Errorf("store message: %w", err)
	}
	r.stats.RecordMessage(stats.OutcomeAccepted)

	skip := ""
	if !r.echoToSender {
		skip = senderId
	}
	n := r.registry.Broadcast(NewMessageCreated(stored, p.ClientId), skip)
	r.log.Debug("message broadcast", "message_id", stored.Id, "channel_id", stored.ChannelId, "delivered", n)

	return stored, nil
}

// handleDirectMessage stores a message in the log shared by the sender and
// the recipient and delivers it to those two connections only.
func (r *Router) handleDirectMessage(ctx context.Context, senderId string, d *DirectPublish) (types.Message, error) {
	if err := r.validate(senderId, d.Content, d.Media); err != nil {
		return types.Message{}, err
	}
	if d.ToUserId == "" {
		r.stats.RecordMessage(stats.OutcomeInvalid)
		return types.Message{}, fmt.Errorf("%w: missing recipient", ErrInvalidMessage)
	}

	recipient, err := r.db.GetUser(ctx, d.ToUserId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			r.stats.RecordMessage(stats.OutcomeInvalid)
			return types.Message{}, fmt.Errorf("%w: recipient %q: %w", ErrInvalidMessage, d.ToUserId, err)
		}
		r.stats.RecordMessage(stats.OutcomeFailed)
		return types.Message{}, fmt.Errorf("load recipient: %w", err)
	}

	if err := r.screen(ctx, senderId, d.Content); err != nil {
		return types.Message{}, err
	}

	msg, err := r.newMessage(ctx, senderId, d.Content, d.Media)
	if err != nil {
		return types.Message{}, err
	}
	msg.RecipientId = recipient.Id

	stored, err := r.db.CreateDirectMessage(ctx, msg)
	if err != nil {
		r.stats.RecordMessage(stats.OutcomeFailed)
		return types.Message{}, fmt.Errorf("store direct message: %w", err)
	}
	r.stats.RecordMessage(stats.OutcomeDirect)

	r.registry.SendTo(senderId, NewDirectMessageCreated(stored, recipient.Id, d.ClientId))
	if recipient.Id != senderId {
		r.registry.SendTo(recipient.Id, NewDirectMessageCreated(stored, senderId, ""))
	}

	return stored, nil
}

func (r *Router) validate(senderId, content string, media types.Media) error {
	var reason string
	switch {
	case senderId == "":
		reason = "unauthenticated sender"
	case strings.TrimSpace(content) == "" && media.Empty():
		reason = "empty message"
	case !utf8.ValidString(content):
		reason = "content is not valid utf-8"
	case utf8.RuneCountInString(content) > MaxContentLength:
		reason = fmt.Sprintf("content exceeds %d characters", MaxContentLength)
	default:
		return nil
	}

	r.stats.RecordMessage(stats.OutcomeInvalid)
	return fmt.Errorf("%w: %s", ErrInvalidMessage, reason)
}

// screen applies the content policy and then the sender's rate limit.
func (r *Router) screen(ctx context.Context, senderId, content string) error {
	if res := moderation.Check(content); res.Blocked {
		outcome := stats.OutcomeBlocked
		if res.Reason == moderation.ReasonSpam {
			outcome = stats.OutcomeSpam
		}
		r.stats.RecordMessage(outcome)
		return fmt.Errorf("%w: %s (%s)", ErrRejected, res.Reason, res.Term)
	}

	allowed, err := r.limiter.Allow(ctx, senderId)
	if err != nil {
		r.log.Warn("rate limiter unavailable, allowing message", "user_id", senderId, "error", err)
		return nil
	}
	if !allowed {
		r.stats.RecordMessage(stats.OutcomeRateLimited)
		return ErrRateLimited
	}
	return nil
}

// newMessage builds a message stamped with a fresh id, the server time and
// the author's current profile.
func (r *Router) newMessage(ctx context.Context, senderId, content string, media types.Media) (types.Message, error) {
	author, err := r.db.GetUser(ctx, senderId)
	if err != nil {
		r.stats.RecordMessage(stats.OutcomeFailed)
		return types.Message{}, fmt.Errorf("load author %q: %w", senderId, err)
	}

	return types.Message{
		Id:          uuid.NewString(),
		UserId:      author.Id,
		Username:    author.Username,
		AvatarColor: author.AvatarColor,
		AvatarUrl:   author.AvatarUrl,
		Content:     content,
		Media:       media,
		Timestamp:   types.Timestamp(r.clock.Now()),
	}, nil
}

// resolveReply snapshots the replied-to message. A missing target, or one
// from another channel, leaves the reply dangling.
func (r *Router) resolveReply(ctx context.Context, replyToId, channelId string) *types.ReplySnapshot {
	target, err := r.db.GetMessage(ctx, replyToId)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			r.log.Warn("failed to resolve reply", "reply_to_id", replyToId, "error", err)
		}
		return nil
	}
	if target.ChannelId != channelId {
		return nil
	}

	return &types.ReplySnapshot{
		Id:       target.Id,
		UserId:   target.UserId,
		Username: target.Username,
		Content:  target.Content,
	}
}
