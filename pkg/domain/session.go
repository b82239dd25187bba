package domain

import (
	"maps"
	"time"
)

// Session is the unit of coordination: one execution attempt of a strategy.
type Session struct {
	// ID is globally unique and immutable once created.
	ID string `json:"session_id"`

	// StrategyID identifies the logical operation. Many sessions share one strategy over time.
	StrategyID string `json:"strategy_id"`

	Phase Phase `json:"phase"`

	// OwnerNodeID is the node currently responsible for advancing the session.
	OwnerNodeID string `json:"owner_node_id"`

	CreateTime     time.Time `json:"create_time"`
	LastUpdateTime time.Time `json:"last_update_time"`

	// Context is the opaque input bound at creation. It is never rewritten.
	Context map[string]any `json:"context,omitempty"`

	// PhaseData accumulates annotations written by phase transitions (merge, never delete).
	PhaseData map[string]any `json:"phase_data,omitempty"`

	// History records the last time each phase was entered.
	History map[Phase]time.Time `json:"history,omitempty"`

	// Entries counts how many times each phase was entered. A count above one is a retry.
	Entries map[Phase]int `json:"entries,omitempty"`
}

// NewSession creates a session in the INITIALIZED phase.
func NewSession(id, strategyID, ownerNodeID string, context map[string]any, now time.Time) *Session {
	if context == nil {
		context = make(map[string]any)
	}
	return &Session{
		ID:             id,
		StrategyID:     strategyID,
		Phase:          PhaseInitialized,
		OwnerNodeID:    ownerNodeID,
		CreateTime:     now,
		LastUpdateTime: now,
		Context:        context,
		PhaseData:      make(map[string]any),
		History:        map[Phase]time.Time{PhaseInitialized: now},
		Entries:        map[Phase]int{PhaseInitialized: 1},
	}
}

// IsTerminal reports whether the session reached COMPLETED, FAILED or CANCELLED.
func (s *Session) IsTerminal() bool {
	return s.Phase.IsTerminal()
}

// Clone returns a copy whose maps can be mutated without affecting s.
// Values inside Context and PhaseData are copied shallowly.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Context = maps.Clone(s.Context)
	c.PhaseData = maps.Clone(s.PhaseData)
	c.History = maps.Clone(s.History)
	c.Entries = maps.Clone(s.Entries)
	return &c
}

// StrategyLockKey derives the lock key guarding concurrent invocations of a strategy.
// It depends on the strategy identity only, since it is taken before any session exists.
func StrategyLockKey(strategyID string) string {
	return "lock:" + strategyID
}
