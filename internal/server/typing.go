package server

import (
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultTypingTimeout = 3 * time.Second

type typingKey struct {
	userId    string
	channelId string
}

type typingEntry struct {
	username string
	timer    clockwork.Timer
	gen      uint64
}

// typingExpiry is posted by an entry's timer. It only applies while gen is
// still the entry's generation.
type typingExpiry struct {
	key typingKey
	gen uint64
}

// TypingTracker holds the users currently typing in each channel. It is
// confined to the event loop; timers hand their expiry back through the
// expire callback instead of touching the tracker directly.
type TypingTracker struct {
	clock   clockwork.Clock
	timeout time.Duration
	expire  func(typingExpiry)
	entries map[typingKey]*typingEntry
	nextGen uint64
}

func NewTypingTracker(clock clockwork.Clock, timeout time.Duration, expire func(typingExpiry)) *TypingTracker {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingTracker{
		clock:   clock,
		timeout: timeout,
		expire:  expire,
		entries: make(map[typingKey]*typingEntry),
	}
}

// Start marks userId as typing in channelId and (re)arms its timer. It
// returns true only when the user was idle.
func (tt *TypingTracker) Start(userId, channelId, username string) bool {
	key := typingKey{userId: userId, channelId: channelId}
	entry, ok := tt.entries[key]
	if ok {
		entry.timer.Stop()
	} else {
		entry = &typingEntry{username: username}
		tt.entries[key] = entry
	}

	tt.nextGen++
	entry.gen = tt.nextGen
	exp := typingExpiry{key: key, gen: entry.gen}
	entry.timer = tt.clock.AfterFunc(tt.timeout, func() { tt.expire(exp) })

	return !ok
}

// Stop returns whether userId was typing in channelId.
func (tt *TypingTracker) Stop(userId, channelId string) bool {
	return tt.remove(typingKey{userId: userId, channelId: channelId})
}

// Expire applies a timer expiry. Stale expiries, whose entry was refreshed
// or stopped after the timer was armed, are ignored.
func (tt *TypingTracker) Expire(exp typingExpiry) bool {
	entry, ok := tt.entries[exp.key]
	if !ok || entry.gen != exp.gen {
		return false
	}
	delete(tt.entries, exp.key)
	return true
}

// StopAll stops every entry of userId and returns the affected channels.
func (tt *TypingTracker) StopAll(userId string) []string {
	var channels []string
	for key := range tt.entries {
		if key.userId == userId {
			channels = append(channels, key.channelId)
		}
	}
	slices.Sort(channels)

	for _, ch := range channels {
		tt.remove(typingKey{userId: userId, channelId: ch})
	}
	return channels
}

func (tt *TypingTracker) IsTyping(userId, channelId string) bool {
	_, ok := tt.entries[typingKey{userId: userId, channelId: channelId}]
	return ok
}

// Typing returns the ids of the users typing in channelId.
func (tt *TypingTracker) Typing(channelId string) []string {
	var users []string
	for key := range tt.entries {
		if key.channelId == channelId {
			users = append(users, key.userId)
		}
	}
	slices.Sort(users)
	return users
}

// Reset cancels every timer and forgets all entries.
func (tt *TypingTracker) Reset() {
	for key, entry := range tt.entries {
		entry.timer.Stop()
		delete(tt.entries, key)
	}
}

func (tt *TypingTracker) remove(key typingKey) bool {
	entry, ok := tt.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(tt.entries, key)
	return true
}
