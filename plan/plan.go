// Package plan resolves a user's subscription tier into the numeric and
// boolean limits it grants. The engine and the graph validator consult
// these limits; they never mutate them.
package plan

import (
	"context"
	"time"

	"github.com/atharva20-coder/swoopin-sub002/errors"
)

// Tier is a subscription level.
type Tier string

// Known tiers, lowest first.
const (
	TierFree       Tier = "FREE"
	TierPro        Tier = "PRO"
	TierEnterprise Tier = "ENTERPRISE"
)

// Limits holds everything a tier grants. Resolved read-only per execution.
type Limits struct {
	Tier                 Tier
	MaxAutomations       int
	MaxCarouselTemplates int
	AIEnabled            bool
	CommentReplyEnabled  bool
	// MonthlyAIResponses caps SMARTAI invocations per calendar month.
	// Zero means unlimited.
	MonthlyAIResponses int
	RequestsPerMinute  int
}

// limitsByTier is the closed set of per-tier grants.
var limitsByTier = map[Tier]Limits{
	TierFree: {
		Tier:                 TierFree,
		MaxAutomations:       3,
		MaxCarouselTemplates: 0,
		AIEnabled:            false,
		CommentReplyEnabled:  false,
		MonthlyAIResponses:   0,
		RequestsPerMinute:    30,
	},
	TierPro: {
		Tier:                 TierPro,
		MaxAutomations:       25,
		MaxCarouselTemplates: 5,
		AIEnabled:            true,
		CommentReplyEnabled:  true,
		MonthlyAIResponses:   2000,
		RequestsPerMinute:    120,
	},
	TierEnterprise: {
		Tier:                 TierEnterprise,
		MaxAutomations:       200,
		MaxCarouselTemplates: 50,
		AIEnabled:            true,
		CommentReplyEnabled:  true,
		MonthlyAIResponses:   0, // unlimited
		RequestsPerMinute:    600,
	},
}

// ForTier returns the limits a tier grants. Unknown tiers get FREE.
func ForTier(t Tier) Limits {
	if l, ok := limitsByTier[t]; ok {
		return l
	}
	return limitsByTier[TierFree]
}

// AllowsSubType reports whether the tier permits a node subtype.
// Unrecognized subtypes are allowed here; the validator rejects them
// separately as structural errors.
func (l Limits) AllowsSubType(subType string) bool {
	switch subType {
	case "SMARTAI":
		return l.AIEnabled
	case "CAROUSEL":
		return l.MaxCarouselTemplates > 0
	case "COMMENT_REPLY":
		return l.CommentReplyEnabled
	}
	return true
}

// Subscription is a user's current plan state.
type Subscription struct {
	UserID    string    `json:"user_id"`
	Tier      Tier      `json:"tier"`
	ExpiresAt time.Time `json:"expires_at"` // zero = never expires
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the subscription has lapsed.
func (s *Subscription) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// SubscriptionStore looks up a user's subscription.
type SubscriptionStore interface {
	Get(ctx context.Context, userID string) (*Subscription, error)
}

// Gate resolves plan limits for a user. Missing or expired subscriptions
// default to the lowest tier rather than failing.
type Gate struct {
	subs SubscriptionStore
	now  func() time.Time
}

// NewGate creates a plan gate over the given subscription store.
func NewGate(subs SubscriptionStore) *Gate {
	return &Gate{subs: subs, now: time.Now}
}

// Resolve returns the limits granted to userID. Store unavailability is
// surfaced transient so the job retries instead of silently downgrading a
// paying user to FREE.
func (g *Gate) Resolve(ctx context.Context, userID string) (Limits, error) {
	if userID == "" {
		return Limits{}, errors.WrapInvalid(errors.New("empty user id"), "plan", "Resolve", "lookup")
	}

	sub, err := g.subs.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			return ForTier(TierFree), nil
		}
		return Limits{}, errors.WrapTransient(err, "plan", "Resolve", "subscription lookup")
	}
	if sub == nil || sub.Expired(g.now()) {
		return ForTier(TierFree), nil
	}
	return ForTier(sub.Tier), nil
}
