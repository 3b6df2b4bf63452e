package types

import (
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
)

func (k ChannelKind) Valid() bool {
	return k == ChannelText || k == ChannelVoice
}

// DirectChannelId is the channel id carried by every direct message.
const DirectChannelId = "dm"

type User struct {
	Id          string `json:"id"`
	Username    string `json:"username"`
	AvatarColor string `json:"avatarColor"`
	AvatarUrl   string `json:"avatarUrl,omitempty"`
	Status      Status `json:"status"`
}

type Channel struct {
	Id       string      `json:"id"`
	Name     string      `json:"name"`
	Kind     ChannelKind `json:"type"`
	Category string      `json:"category,omitempty"`
}

// Media holds the optional attachment references of a message.
type Media struct {
	ImageUrl  string `json:"imageUrl,omitempty"`
	VideoUrl  string `json:"videoUrl,omitempty"`
	VideoName string `json:"videoName,omitempty"`
	AudioUrl  string `json:"audioUrl,omitempty"`
	AudioName string `json:"audioName,omitempty"`
}

func (m Media) Empty() bool {
	return m.ImageUrl == "" && m.VideoUrl == "" && m.AudioUrl == ""
}

// ReplySnapshot is a copy of the replied-to message taken when the reply
// was accepted.
type ReplySnapshot struct {
	Id       string `json:"id"`
	UserId   string `json:"userId"`
	Username string `json:"username"`
	Content  string `json:"content"`
}

// Message is immutable once persisted. Username, AvatarColor and AvatarUrl
// are the author's values at send time.
type Message struct {
	Id          string `json:"id"`
	ChannelId   string `json:"channelId"`
	UserId      string `json:"userId"`
	Username    string `json:"username"`
	AvatarColor string `json:"avatarColor"`
	AvatarUrl   string `json:"avatarUrl,omitempty"`
	Content     string `json:"content"`
	Media
	ReplyToId   string         `json:"replyToId,omitempty"`
	ReplyTo     *ReplySnapshot `json:"replyTo,omitempty"`
	RecipientId string         `json:"recipientId,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

func (m Message) IsDirect() bool {
	return m.ChannelId == DirectChannelId
}

type FriendRequestStatus string

const (
	FriendRequestPending  FriendRequestStatus = "pending"
	FriendRequestAccepted FriendRequestStatus = "accepted"
	FriendRequestDeclined FriendRequestStatus = "declined"
)

type FriendRequest struct {
	Id           string              `json:"id"`
	FromUserId   string              `json:"fromUserId"`
	FromUsername string              `json:"fromUsername"`
	ToUserId     string              `json:"toUserId"`
	ToUsername   string              `json:"toUsername"`
	Status       FriendRequestStatus `json:"status"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// Friend is one side of a friendship as seen by the other user.
type Friend struct {
	Id          string `json:"id"`
	OdId        string `json:"odId"`
	Username    string `json:"username"`
	AvatarColor string `json:"avatarColor"`
	AvatarUrl   string `json:"avatarUrl,omitempty"`
	Status      Status `json:"status"`
}

// NewFriend builds the view of friend as seen from owner.
func NewFriend(ownerId string, friend User) Friend {
	return Friend{
		Id:          ownerId + "-" + friend.Id,
		OdId:        friend.Id,
		Username:    friend.Username,
		AvatarColor: friend.AvatarColor,
		AvatarUrl:   friend.AvatarUrl,
		Status:      friend.Status,
	}
}

// Timestamp normalizes t to the form every server-assigned time takes: UTC
// rounded to the millisecond.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Round(time.Millisecond)
}
