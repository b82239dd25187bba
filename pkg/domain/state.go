package domain

import "time"

// SessionSummary is the compact view used by listings.
type SessionSummary struct {
	ID             string    `json:"session_id"`
	StrategyID     string    `json:"strategy_id"`
	Phase          Phase     `json:"phase"`
	OwnerNodeID    string    `json:"owner_node_id"`
	LastUpdateTime time.Time `json:"last_update_time"`
}

// Summary returns the listing view of s.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:             s.ID,
		StrategyID:     s.StrategyID,
		Phase:          s.Phase,
		OwnerNodeID:    s.OwnerNodeID,
		LastUpdateTime: s.LastUpdateTime,
	}
}

// IdleFor reports how long the session has gone without a write, measured at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastUpdateTime)
}
