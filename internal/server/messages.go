package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/npezzotti/go-realtime-chat/internal/types"
)

type EventType string

const (
	EventAuth           EventType = "auth"
	EventMessage        EventType = "message"
	EventDirectMessage  EventType = "dm_message"
	EventTypingStart    EventType = "typing_start"
	EventTypingStop     EventType = "typing_stop"
	EventUsersOnline    EventType = "users_online"
	EventUserStatus     EventType = "user_status"
	EventChannelCreated EventType = "channel_created"
	EventFriendRequest  EventType = "friend_request"
	EventFriendAccepted EventType = "friend_accepted"
	EventAvatarUpdated  EventType = "avatar_updated"
	EventError          EventType = "error"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event type")
)

// ClientMessage is an event received from a connection. The set of
// implementations is closed.
type ClientMessage interface {
	Type() EventType
	clientMessage()
}

type Auth struct {
	OdId string `json:"odId"`
}

type Publish struct {
	ChannelId string `json:"channelId"`
	Content   string `json:"content"`
	types.Media
	ReplyToId string `json:"replyToId,omitempty"`
	ClientId  string `json:"clientId,omitempty"`
}

type DirectPublish struct {
	ToUserId string `json:"toUserId"`
	Content  string `json:"content"`
	types.Media
	ClientId string `json:"clientId,omitempty"`
}

type TypingStart struct {
	ChannelId string `json:"channelId"`
}

type TypingStop struct {
	ChannelId string `json:"channelId"`
}

func (*Auth) Type() EventType          { return EventAuth }
func (*Publish) Type() EventType       { return EventMessage }
func (*DirectPublish) Type() EventType { return EventDirectMessage }
func (*TypingStart) Type() EventType   { return EventTypingStart }
func (*TypingStop) Type() EventType    { return EventTypingStop }

func (*Auth) clientMessage()          {}
func (*Publish) clientMessage()       {}
func (*DirectPublish) clientMessage() {}
func (*TypingStart) clientMessage()   {}
func (*TypingStop) clientMessage()    {}

type envelope struct {
	Type EventType `json:"type"`
}

// ParseClientMessage decodes one frame. The payload fields sit next to
// "type" at the top level of the object.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	var msg ClientMessage
	switch env.Type {
	case EventAuth:
		msg = &Auth{}
	case EventMessage:
		msg = &Publish{}
	case EventDirectMessage:
		msg = &DirectPublish{}
	case EventTypingStart:
		msg = &TypingStart{}
	case EventTypingStop:
		msg = &TypingStop{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, env.Type, err)
	}
	return msg, nil
}

// ServerMessage is an event sent to connections. The set of implementations
// is closed; each one embeds header so "type" is always encoded.
type ServerMessage interface {
	Type() EventType
	serverMessage()
}

type header struct {
	Kind EventType `json:"type"`
}

func (h header) Type() EventType { return h.Kind }
func (header) serverMessage()    {}

type UsersOnline struct {
	header
	Users []types.User `json:"users"`
}

type MessageCreated struct {
	header
	Message  types.Message `json:"message"`
	ClientId string        `json:"clientId,omitempty"`
}

type DirectMessageCreated struct {
	header
	Message types.Message `json:"message"`
	// OdId is the other party of the conversation from the receiver's side.
	OdId     string `json:"odId"`
	ClientId string `json:"clientId,omitempty"`
}

type TypingStarted struct {
	header
	ChannelId string `json:"channelId"`
	OdId      string `json:"odId"`
	Username  string `json:"username"`
}

type TypingStopped struct {
	header
	ChannelId string `json:"channelId"`
	OdId      string `json:"odId"`
}

type UserStatusChanged struct {
	header
	OdId   string       `json:"odId"`
	Status types.Status `json:"status"`
}

type ChannelCreated struct {
	header
	Channel types.Channel `json:"channel"`
}

type FriendRequested struct {
	header
	Request types.FriendRequest `json:"request"`
}

type FriendAccepted struct {
	header
	Friend types.Friend `json:"friend"`
}

type AvatarUpdated struct {
	header
	UserId    string `json:"userId"`
	AvatarUrl string `json:"avatarUrl"`
	Username  string `json:"username"`
}

type ErrorEvent struct {
	header
	Message string `json:"message"`
}

func NewUsersOnline(users []types.User) *UsersOnline {
	if users == nil {
		users = []types.User{}
	}
	return &UsersOnline{header: header{EventUsersOnline}, Users: users}
}

func NewMessageCreated(msg types.Message, clientId string) *MessageCreated {
	return &MessageCreated{header: header{EventMessage}, Message: msg, ClientId: clientId}
}

func NewDirectMessageCreated(msg types.Message, odId, clientId string) *DirectMessageCreated {
	return &DirectMessageCreated{header: header{EventDirectMessage}, Message: msg, OdId: odId, ClientId: clientId}
}

func NewTypingStarted(channelId, userId, username string) *TypingStarted {
	return &TypingStarted{header: header{EventTypingStart}, ChannelId: channelId, OdId: userId, Username: username}
}

func NewTypingStopped(channelId, userId string) *TypingStopped {
	return &TypingStopped{header: header{EventTypingStop}, ChannelId: channelId, OdId: userId}
}

func NewUserStatusChanged(userId string, status types.Status) *UserStatusChanged {
	return &UserStatusChanged{header: header{EventUserStatus}, OdId: userId, Status: status}
}

func NewChannelCreated(ch types.Channel) *ChannelCreated {
	return &ChannelCreated{header: header{EventChannelCreated}, Channel: ch}
}

func NewFriendRequested(req types.FriendRequest) *FriendRequested {
	return &FriendRequested{header: header{EventFriendRequest}, Request: req}
}

func NewFriendAccepted(friend types.Friend) *FriendAccepted {
	return &FriendAccepted{header: header{EventFriendAccepted}, Friend: friend}
}

func NewAvatarUpdated(user types.User) *AvatarUpdated {
	return &AvatarUpdated{
		header:    header{EventAvatarUpdated},
		UserId:    user.Id,
		AvatarUrl: user.AvatarUrl,
		Username:  user.Username,
	}
}

func NewErrorEvent(message string) *ErrorEvent {
	return &ErrorEvent{header: header{EventError}, Message: message}
}
