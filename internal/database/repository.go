package database

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/npezzotti/go-realtime-chat/internal/types"
)

type options struct {
	clock clockwork.Clock
}

// Option configures a repository.
type Option func(*options)

// WithClock sets the clock that stamps friend requests and friendships.
// Defaults to the real clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func newOptions(opts []Option) options {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (types.User, error)
	GetUser(ctx context.Context, id string) (types.User, error)
	GetUserByUsername(ctx context.Context, username string) (types.User, error)
	ListUsers(ctx context.Context) ([]types.User, error)
	UpdateUserStatus(ctx context.Context, id string, status types.Status) error
	UpdateUserAvatar(ctx context.Context, id, avatarUrl string) (types.User, error)

	CreateChannel(ctx context.Context, params CreateChannelParams) (types.Channel, error)
	GetChannel(ctx context.Context, id string) (types.Channel, error)
	ListChannels(ctx context.Context) ([]types.Channel, error)

	// CreateMessage appends msg to its channel log.
	CreateMessage(ctx context.Context, msg types.Message) (types.Message, error)
	// CreateDirectMessage appends msg to the log shared by its author and
	// msg.RecipientId.
	CreateDirectMessage(ctx context.Context, msg types.Message) (types.Message, error)
	GetMessage(ctx context.Context, id string) (types.Message, error)
	// ListMessages returns up to limit of the newest messages of a channel
	// in ascending time order. A limit <= 0 returns the whole log.
	ListMessages(ctx context.Context, channelId string, limit int) ([]types.Message, error)
	ListDirectMessages(ctx context.Context, userA, userB string, limit int) ([]types.Message, error)

	CreateFriendRequest(ctx context.Context, fromUserId, toUsername string) (types.FriendRequest, error)
	GetFriendRequest(ctx context.Context, id string) (types.FriendRequest, error)
	ListFriendRequests(ctx context.Context, userId string) ([]types.FriendRequest, error)
	AcceptFriendRequest(ctx context.Context, id string) (types.FriendRequest, error)
	DeclineFriendRequest(ctx context.Context, id string) (types.FriendRequest, error)
	ListFriends(ctx context.Context, userId string) ([]types.Friend, error)
}
