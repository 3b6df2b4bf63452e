package database

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/npezzotti/go-realtime-chat/internal/types"
)

type pairKey struct {
	low, high string
}

func newPairKey(a, b string) pairKey {
	low, high := DirectPair(a, b)
	return pairKey{low: low, high: high}
}

// MemRepository keeps everything in process memory. Logs are append-only so
// readers may see a log grow between calls but never see it rewritten.
type MemRepository struct {
	mu sync.RWMutex

	users       map[string]types.User
	usernames   map[string]string
	channels    map[string]types.Channel
	channelList []string

	messages       map[string]types.Message
	channelLogs    map[string][]types.Message
	directLogs     map[pairKey][]types.Message
	friendRequests map[string]types.FriendRequest
	requestOrder   []string
	friendships    map[string]map[string]time.Time

	clock clockwork.Clock
}

func NewMemRepository(opts ...Option) *MemRepository {
	db := &MemRepository{
		clock:          newOptions(opts).clock,
		users:          make(map[string]types.User),
		usernames:      make(map[string]string),
		channels:       make(map[string]types.Channel),
		messages:       make(map[string]types.Message),
		channelLogs:    make(map[string][]types.Message),
		directLogs:     make(map[pairKey][]types.Message),
		friendRequests: make(map[string]types.FriendRequest),
		friendships:    make(map[string]map[string]time.Time),
	}

	for _, ch := range DefaultChannels {
		db.channels[ch.Id] = ch
		db.channelList = append(db.channelList, ch.Id)
	}

	return db
}

func (db *MemRepository) Ping(context.Context) error {
	return nil
}

func (db *MemRepository) CreateUser(_ context.Context, params CreateUserParams) (types.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, taken := db.usernames[usernameKey(params.Username)]; taken {
		return types.User{}, ErrUsernameTaken
	}

	u := types.User{
		Id:          params.Id,
		Username:    params.Username,
		AvatarColor: params.AvatarColor,
		Status:      types.StatusOffline,
	}
	if u.Id == "" {
		u.Id = uuid.NewString()
	}
	if u.AvatarColor == "" {
		u.AvatarColor = randomAvatarColor()
	}

	db.users[u.Id] = u
	db.usernames[usernameKey(u.Username)] = u.Id
	return u, nil
}

func (db *MemRepository) GetUser(_ context.Context, id string) (types.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	u, ok := db.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return u, nil
}

func (db *MemRepository) GetUserByUsername(_ context.Context, username string) (types.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	id, ok := db.usernames[usernameKey(username)]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return db.users[id], nil
}

func (db *MemRepository) ListUsers(context.Context) ([]types.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	users := make([]types.User, 0, len(db.users))
	for _, u := range db.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b types.User) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (db *MemRepository) UpdateUserStatus(_ context.Context, id string, status types.Status) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	db.users[id] = u
	return nil
}

func (db *MemRepository) UpdateUserAvatar(_ context.Context, id, avatarUrl string) (types.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	u.AvatarUrl = avatarUrl
	db.users[id] = u
	return u, nil
}

func (db *MemRepository) CreateChannel(_ context.Context, params CreateChannelParams) (types.Channel, error) {
	id, err := newChannelId()
	if err != nil {
		return types.Channel{}, fmt.Errorf("generate channel id: %w", err)
	}

	ch := types.Channel{
		Id:       id,
		Name:     params.Name,
		Kind:     params.Kind,
		Category: params.Category,
	}
	if ch.Kind == "" {
		ch.Kind = types.ChannelText
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.channels[ch.Id] = ch
	db.channelList = append(db.channelList, ch.Id)
	return ch, nil
}

func (db *MemRepository) GetChannel(_ context.Context, id string) (types.Channel, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	ch, ok := db.channels[id]
	if !ok {
		return types.Channel{}, ErrNotFound
	}
	return ch, nil
}

func (db *MemRepository) ListChannels(context.Context) ([]types.Channel, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	channels := make([]types.Channel, 0, len(db.channelList))
	for _, id := range db.channelList {
		channels = append(channels, db.channels[id])
	}
	return channels, nil
}

func (db *MemRepository) CreateMessage(_ context.Context, msg types.Message) (types.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.users[msg.UserId]; !ok {
		return types.Message{}, fmt.Errorf("author %q: %w", msg.UserId, ErrNotFound)
	}
	if _, ok := db.channels[msg.ChannelId]; !ok {
		return types.Message{}, fmt.Errorf("channel %q: %w", msg.ChannelId, ErrNotFound)
	}

	db.messages[msg.Id] = msg
	db.channelLogs[msg.ChannelId] = append(db.channelLogs[msg.ChannelId], msg)
	return msg, nil
}

func (db *MemRepository) CreateDirectMessage(_ context.Context, msg types.Message) (types.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.users[msg.UserId]; !ok {
		return types.Message{}, fmt.Errorf("author %q: %w", msg.UserId, ErrNotFound)
	}
	if _, ok := db.users[msg.RecipientId]; !ok {
		return types.Message{}, fmt.Errorf("recipient %q: %w", msg.RecipientId, ErrNotFound)
	}

	msg.ChannelId = types.DirectChannelId
	key := newPairKey(msg.UserId, msg.RecipientId)
	db.messages[msg.Id] = msg
	db.directLogs[key] = append(db.directLogs[key], msg)
	return msg, nil
}

func (db *MemRepository) GetMessage(_ context.Context, id string) (types.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	msg, ok := db.messages[id]
	if !ok {
		return types.Message{}, ErrNotFound
	}
	return msg, nil
}

func (db *MemRepository) ListMessages(_ context.Context, channelId string, limit int) ([]types.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if _, ok := db.channels[channelId]; !ok {
		return nil, ErrNotFound
	}
	return lastN(db.channelLogs[channelId], limit), nil
}

func (db *MemRepository) ListDirectMessages(_ context.Context, userA, userB string, limit int) ([]types.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return lastN(db.directLogs[newPairKey(userA, userB)], limit), nil
}

func (db *MemRepository) CreateFriendRequest(_ context.Context, fromUserId, toUsername string) (types.FriendRequest, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	from, ok := db.users[fromUserId]
	if !ok {
		return types.FriendRequest{}, fmt.Errorf("sender: %w", ErrNotFound)
	}
	toId, ok := db.usernames[usernameKey(toUsername)]
	if !ok {
		return types.FriendRequest{}, fmt.Errorf("recipient: %w", ErrNotFound)
	}
	to := db.users[toId]

	if from.Id == to.Id {
		return types.FriendRequest{}, ErrSelfFriendRequest
	}
	if _, ok := db.friendships[from.Id][to.Id]; ok {
		return types.FriendRequest{}, ErrAlreadyFriends
	}
	for _, r := range db.friendRequests {
		if r.Status != types.FriendRequestPending {
			continue
		}
		if (r.FromUserId == from.Id && r.ToUserId == to.Id) || (r.FromUserId == to.Id && r.ToUserId == from.Id) {
			return types.FriendRequest{}, ErrDuplicateFriendRequest
		}
	}

	req := types.FriendRequest{
		Id:           uuid.NewString(),
		FromUserId:   from.Id,
		FromUsername: from.Username,
		ToUserId:     to.Id,
		ToUsername:   to.Username,
		Status:       types.FriendRequestPending,
		CreatedAt:    types.Timestamp(db.clock.Now()),
	}
	db.friendRequests[req.Id] = req
	db.requestOrder = append(db.requestOrder, req.Id)
	return req, nil
}

func (db *MemRepository) GetFriendRequest(_ context.Context, id string) (types.FriendRequest, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	req, ok := db.friendRequests[id]
	if !ok {
		return types.FriendRequest{}, ErrNotFound
	}
	return req, nil
}

func (db *MemRepository) ListFriendRequests(_ context.Context, userId string) ([]types.FriendRequest, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	reqs := []types.FriendRequest{}
	for _, id := range db.requestOrder {
		r := db.friendRequests[id]
		if r.ToUserId == userId && r.Status == types.FriendRequestPending {
			reqs = append(reqs, r)
		}
	}
	return reqs, nil
}

func (db *MemRepository) AcceptFriendRequest(_ context.Context, id string) (types.FriendRequest, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	req, err := db.resolveRequest(id, types.FriendRequestAccepted)
	if err != nil {
		return types.FriendRequest{}, err
	}

	now := types.Timestamp(db.clock.Now())
	db.addFriend(req.FromUserId, req.ToUserId, now)
	db.addFriend(req.ToUserId, req.FromUserId, now)
	return req, nil
}

func (db *MemRepository) DeclineFriendRequest(_ context.Context, id string) (types.FriendRequest, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.resolveRequest(id, types.FriendRequestDeclined)
}

// resolveRequest moves a pending request to status. Callers hold the lock.
func (db *MemRepository) resolveRequest(id string, status types.FriendRequestStatus) (types.FriendRequest, error) {
	req, ok := db.friendRequests[id]
	if !ok {
		return types.FriendRequest{}, ErrNotFound
	}
	if req.Status != types.FriendRequestPending {
		return types.FriendRequest{}, ErrRequestNotPending
	}

	req.Status = status
	db.friendRequests[id] = req
	return req, nil
}

func (db *MemRepository) addFriend(owner, friend string, since time.Time) {
	if db.friendships[owner] == nil {
		db.friendships[owner] = make(map[string]time.Time)
	}
	db.friendships[owner][friend] = since
}

func (db *MemRepository) ListFriends(_ context.Context, userId string) ([]types.Friend, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	friends := make([]types.Friend, 0, len(db.friendships[userId]))
	for friendId := range db.friendships[userId] {
		if u, ok := db.users[friendId]; ok {
			friends = append(friends, types.NewFriend(userId, u))
		}
	}
	slices.SortFunc(friends, func(a, b types.Friend) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return friends, nil
}
