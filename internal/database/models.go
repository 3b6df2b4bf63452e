package database

import (
	"errors"
	"math/rand/v2"
	"strings"

	"github.com/npezzotti/go-realtime-chat/internal/types"
	"github.com/teris-io/shortid"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrUsernameTaken          = errors.New("username already taken")
	ErrSelfFriendRequest      = errors.New("cannot add yourself")
	ErrAlreadyFriends         = errors.New("already friends")
	ErrDuplicateFriendRequest = errors.New("request already exists")
	ErrRequestNotPending      = errors.New("request is no longer pending")
)

var AvatarColors = []string{
	"#5865F2", "#57F287", "#FEE75C", "#EB459E", "#ED4245",
	"#9B59B6", "#3498DB", "#1ABC9C", "#E91E63", "#FF9800",
}

// DefaultChannels are present in every fresh store.
var DefaultChannels = []types.Channel{
	{Id: "general", Name: "general", Kind: types.ChannelText},
	{Id: "random", Name: "random", Kind: types.ChannelText},
	{Id: "introductions", Name: "introductions", Kind: types.ChannelText},
}

type CreateUserParams struct {
	Id          string
	Username    string
	AvatarColor string
}

type CreateChannelParams struct {
	Name     string
	Kind     types.ChannelKind
	Category string
}

func randomAvatarColor() string {
	return AvatarColors[rand.IntN(len(AvatarColors))]
}

func newChannelId() (string, error) {
	return shortid.Generate()
}

// DirectPair orders two participant ids canonically so both directions of a
// conversation share one log.
func DirectPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func usernameKey(username string) string {
	return strings.ToLower(username)
}

// lastN returns the newest n entries of an ascending log.
func lastN(msgs []types.Message, n int) []types.Message {
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]types.Message, len(msgs))
	copy(out, msgs)
	return out
}
