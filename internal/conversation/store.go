// Package conversation keeps bounded, expiring per-conversation history used
// to resolve follow-up questions.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"shopify-analytics-agent/internal/domain"
)

const (
	DefaultMaxTurns = 10
	DefaultTTL      = time.Hour
)

// Store persists conversation history. A missing or expired conversation is
// an empty context, never an error.
type Store interface {
	Get(ctx context.Context, conversationID string) (domain.ConversationContext, error)
	Append(ctx context.Context, conversationID string, turn domain.ConversationTurn) error
	Backend() string
}

// Memory is an in-process Store. The TTL restarts on every append.
type Memory struct {
	mu       sync.Mutex
	turns    *ttlcache.Cache[string, []domain.ConversationTurn]
	maxTurns int
	ttl      time.Duration
}

// NewMemory returns a started Memory store. Call Close to stop its expiry
// goroutine.
func NewMemory(maxTurns int, ttl time.Duration) *Memory {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		turns: ttlcache.New(
			ttlcache.WithTTL[string, []domain.ConversationTurn](ttl),
			ttlcache.WithDisableTouchOnHit[string, []domain.ConversationTurn](),
		),
		maxTurns: maxTurns,
		ttl:      ttl,
	}
	go m.turns.Start()
	return m
}

func (m *Memory) Get(ctx context.Context, conversationID string) (domain.ConversationContext, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConversationContext{}, err
	}
	out := domain.ConversationContext{ConversationID: conversationID}
	item := m.turns.Get(conversationID)
	if item == nil || item.IsExpired() {
		return out, nil
	}
	out.Turns = append([]domain.ConversationTurn(nil), item.Value()...)
	return out, nil
}

// Append adds turn, dropping the oldest turns beyond the bound.
func (m *Memory) Append(ctx context.Context, conversationID string, turn domain.ConversationTurn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var turns []domain.ConversationTurn
	if item := m.turns.Get(conversationID); item != nil && !item.IsExpired() {
		turns = append(turns, item.Value()...)
	}
	turns = append(turns, turn)
	if len(turns) > m.maxTurns {
		turns = turns[len(turns)-m.maxTurns:]
	}
	m.turns.Set(conversationID, turns, m.ttl)
	return nil
}

func (m *Memory) Backend() string { return "memory" }

// Close stops the expiry goroutine.
func (m *Memory) Close() {
	m.turns.Stop()
}
