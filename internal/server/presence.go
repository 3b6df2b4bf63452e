package server

import (
	"context"
	"log/slog"

	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/stats"
	"github.com/npezzotti/go-realtime-chat/internal/types"
)

// PresenceTracker turns registry transitions into persisted status changes
// and user_status events.
type PresenceTracker struct {
	log      *slog.Logger
	db       database.Repository
	registry *SessionRegistry
	stats    stats.StatsProvider
}

func NewPresenceTracker(logger *slog.Logger, db database.Repository, registry *SessionRegistry, su stats.StatsProvider) *PresenceTracker {
	return &PresenceTracker{
		log:      logger,
		db:       db,
		registry: registry,
		stats:    su,
	}
}

func (p *PresenceTracker) Online(ctx context.Context, userId string) {
	p.transition(ctx, userId, types.StatusOnline)
	p.stats.Incr(stats.OnlineUsers)
}

func (p *PresenceTracker) Offline(ctx context.Context, userId string) {
	p.transition(ctx, userId, types.StatusOffline)
	p.stats.Decr(stats.OnlineUsers)
}

// transition runs after the registry has changed, so the event goes out
// even when the status could not be stored.
func (p *PresenceTracker) transition(ctx context.Context, userId string, status types.Status) {
	if err := p.db.UpdateUserStatus(ctx, userId, status); err != nil {
		p.log.Error("failed to persist user status", "user_id", userId, "status", status, "error", err)
	}

	n := p.registry.Broadcast(NewUserStatusChanged(userId, status), userId)
	p.log.Info("user status changed", "user_id", userId, "status", status, "notified", n)
}

// Roster returns the profile of every registered user.
func (p *PresenceTracker) Roster(ctx context.Context) ([]types.User, error) {
	users, err := p.db.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	roster := make([]types.User, 0, p.registry.Len())
	for _, u := range users {
		if !p.registry.IsOnline(u.Id) {
			continue
		}
		if u.Status == types.StatusOffline {
			u.Status = types.StatusOnline
		}
		roster = append(roster, u)
	}
	return roster, nil
}
