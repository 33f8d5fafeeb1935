package model

import "time"

// Deal is a finalized position record handed to the persistence and
// reporting collaborators once a position is fully closed. The core
// never blocks on a deal being stored.
type Deal struct {
	StrategyID string    `json:"strategy_id"`
	Strategy   string    `json:"strategy"`
	Symbol     string    `json:"symbol"`
	ClosedAt   time.Time `json:"closed_at"`
	Position   Position  `json:"position"`
}
