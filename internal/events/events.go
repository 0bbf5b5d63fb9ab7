package events

import "time"

// Event is published after the transaction that produced it commits.
type Event interface {
	Type() string
}

type SessionStarted struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	StartedAt time.Time `json:"startedAt"`
}

func (SessionStarted) Type() string { return "session_started" }

// SessionAbandoned is emitted when a new start supersedes an open session.
type SessionAbandoned struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	EndedAt   time.Time `json:"endedAt"`
}

func (SessionAbandoned) Type() string { return "session_abandoned" }

type SessionEnded struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Score     int       `json:"score"`
	EndedAt   time.Time `json:"endedAt"`
}

func (SessionEnded) Type() string { return "session_ended" }

// StatsUpdated signals that leaderboards may have changed.
type StatsUpdated struct {
	UserID           string `json:"userId"`
	HighestScore     int    `json:"highestScore"`
	HighestLevel     int    `json:"highestLevel"`
	TotalGhostsEaten int    `json:"totalGhostsEaten"`
}

func (StatsUpdated) Type() string { return "stats_updated" }

type PersonalBest struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	HighestScore int    `json:"highestScore,omitempty"`
	HighestLevel int    `json:"highestLevel,omitempty"`
}

func (PersonalBest) Type() string { return "personal_best" }
