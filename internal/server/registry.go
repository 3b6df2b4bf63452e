package server

import (
	"log/slog"
	"slices"
)

// Conn is the delivery side of one live connection. Send must not block;
// it reports false when the message could not be queued.
type Conn interface {
	Send(msg ServerMessage) bool
}

// SessionRegistry maps a user id to its single live connection. It has no
// locking and must only be used from the event loop.
type SessionRegistry struct {
	log   *slog.Logger
	conns map[string]Conn
}

func NewSessionRegistry(logger *slog.Logger) *SessionRegistry {
	return &SessionRegistry{
		log:   logger,
		conns: make(map[string]Conn),
	}
}

// Register makes conn the connection for userId and returns the connection
// it replaced, if any. The replaced connection is not closed.
func (sr *SessionRegistry) Register(userId string, conn Conn) Conn {
	prev := sr.conns[userId]
	sr.conns[userId] = conn
	return prev
}

func (sr *SessionRegistry) Deregister(userId string) {
	delete(sr.conns, userId)
}

// Release deregisters userId only while conn is still its connection, so an
// orphaned socket closing never evicts the one that replaced it.
func (sr *SessionRegistry) Release(userId string, conn Conn) bool {
	if cur, ok := sr.conns[userId]; !ok || cur != conn {
		return false
	}
	delete(sr.conns, userId)
	return true
}

func (sr *SessionRegistry) IsOnline(userId string) bool {
	_, ok := sr.conns[userId]
	return ok
}

func (sr *SessionRegistry) ConnectionFor(userId string) (Conn, bool) {
	conn, ok := sr.conns[userId]
	return conn, ok
}

// AllOnlineIds returns a sorted snapshot of the registered user ids.
func (sr *SessionRegistry) AllOnlineIds() []string {
	ids := make([]string, 0, len(sr.conns))
	for id := range sr.conns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (sr *SessionRegistry) Len() int {
	return len(sr.conns)
}

// Broadcast sends msg to every registered connection except skipUserId's
// and returns the number of connections that accepted it.
func (sr *SessionRegistry) Broadcast(msg ServerMessage, skipUserId string) int {
	delivered := 0
	for userId, conn := range sr.conns {
		if skipUserId != "" && userId == skipUserId {
			continue
		}
		if !conn.Send(msg) {
			sr.log.Warn("dropped event for connection", "user_id", userId, "type", msg.Type())
			continue
		}
		delivered++
	}
	return delivered
}

func (sr *SessionRegistry) SendTo(userId string, msg ServerMessage) bool {
	conn, ok := sr.conns[userId]
	if !ok {
		return false
	}
	if !conn.Send(msg) {
		sr.log.Warn("dropped event for connection", "user_id", userId, "type", msg.Type())
		return false
	}
	return true
}
