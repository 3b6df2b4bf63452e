package database

import (
	"context"

	"github.com/npezzotti/go-realtime-chat/internal/types"
	"github.com/stretchr/testify/mock"
)

// MockRepository records calls without their context argument.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(context.Context) error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateUser(_ context.Context, params CreateUserParams) (types.User, error) {
	args := m.Called(params)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockRepository) GetUser(_ context.Context, id string) (types.User, error) {
	args := m.Called(id)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockRepository) GetUserByUsername(_ context.Context, username string) (types.User, error) {
	args := m.Called(username)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockRepository) ListUsers(context.Context) ([]types.User, error) {
	args := m.Called()
	return args.Get(0).([]types.User), args.Error(1)
}
func (m *MockRepository) UpdateUserStatus(_ context.Context, id string, status types.Status) error {
	args := m.Called(id, status)
	return args.Error(0)
}
func (m *MockRepository) UpdateUserAvatar(_ context.Context, id, avatarUrl string) (types.User, error) {
	args := m.Called(id, avatarUrl)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockRepository) CreateChannel(_ context.Context, params CreateChannelParams) (types.Channel, error) {
	args := m.Called(params)
	return args.Get(0).(types.Channel), args.Error(1)
}
func (m *MockRepository) GetChannel(_ context.Context, id string) (types.Channel, error) {
	args := m.Called(id)
	return args.Get(0).(types.Channel), args.Error(1)
}
func (m *MockRepository) ListChannels(context.Context) ([]types.Channel, error) {
	args := m.Called()
	return args.Get(0).([]types.Channel), args.Error(1)
}
func (m *MockRepository) CreateMessage(_ context.Context, msg types.Message) (types.Message, error) {
	args := m.Called(msg)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockRepository) CreateDirectMessage(_ context.Context, msg types.Message) (types.Message, error) {
	args := m.Called(msg)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockRepository) GetMessage(_ context.Context, id string) (types.Message, error) {
	args := m.Called(id)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockRepository) ListMessages(_ context.Context, channelId string, limit int) ([]types.Message, error) {
	args := m.Called(channelId, limit)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockRepository) ListDirectMessages(_ context.Context, userA, userB string, limit int) ([]types.Message, error) {
	args := m.Called(userA, userB, limit)
	return args.Get(0).([]types.Message), args.Error(1)
}
func (m *MockRepository) CreateFriendRequest(_ context.Context, fromUserId, toUsername string) (types.FriendRequest, error) {
	args := m.Called(fromUserId, toUsername)
	return args.Get(0).(types.FriendRequest), args.Error(1)
}
func (m *MockRepository) GetFriendRequest(_ context.Context, id string) (types.FriendRequest, error) {
	args := m.Called(id)
	return args.Get(0).(types.FriendRequest), args.Error(1)
}
func (m *MockRepository) ListFriendRequests(_ context.Context, userId string) ([]types.FriendRequest, error) {
	args := m.Called(userId)
	return args.Get(0).([]types.FriendRequest), args.Error(1)
}
func (m *MockRepository) AcceptFriendRequest(_ context.Context, id string) (types.FriendRequest, error) {
	args := m.Called(id)
	return args.Get(0).(types.FriendRequest), args.Error(1)
}
func (m *MockRepository) DeclineFriendRequest(_ context.Context, id string) (types.FriendRequest, error) {
	args := m.Called(id)
	return args.Get(0).(types.FriendRequest), args.Error(1)
}
func (m *MockRepository) ListFriends(_ context.Context, userId string) ([]types.Friend, error) {
	args := m.Called(userId)
	return args.Get(0).([]types.Friend), args.Error(1)
}
