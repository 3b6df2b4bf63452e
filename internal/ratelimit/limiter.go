// Package ratelimit throttles how many messages a sender may post within a
// time window.
package ratelimit

import (
	"context"
	"time"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// RuleMessage allows 5 messages per 10 seconds per sender.
var RuleMessage = Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

// Limiter decides whether the identified sender may perform one more action.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (bool, error)
}
