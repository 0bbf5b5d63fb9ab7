package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by every Store implementation.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// SessionStatus is the lifecycle state of a GameSession.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "IN_PROGRESS"
	StatusCompleted  SessionStatus = "COMPLETED"
	StatusAbandoned  SessionStatus = "ABANDONED"
)

// Terminal reports whether no further writes are allowed.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

type User struct {
	ID          string
	Username    string
	DisplayName string
	IDNumber    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GameSession is one play attempt. Username is filled by reads that join users.
type GameSession struct {
	ID              string
	UserID          string
	Username        string
	Score           int
	LevelReached    int
	DurationSeconds int
	GhostsEaten     int
	PowerUpsUsed    int
	Status          SessionStatus
	StartedAt       time.Time
	EndedAt         *time.Time
}

// UserStats is the durable per-user summary folded from finished sessions.
type UserStats struct {
	ID                  string
	UserID              string
	HighestScore        int
	HighestLevelReached int
	LongestTimePlayed   int // seconds
	TotalGhostsEaten    int
	TotalPowerUpsUsed   int
	TotalGamesPlayed    int
	TotalGamesCompleted int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// RankedStats is a UserStats row joined with the owner's profile.
type RankedStats struct {
	UserStats
	Username    string
	DisplayName string
	IDNumber    string
}

// StatsField names a rankable UserStats column.
type StatsField string

const (
	FieldHighestScore     StatsField = "highest_score"
	FieldHighestLevel     StatsField = "highest_level_reached"
	FieldTotalGhostsEaten StatsField = "total_ghosts_eaten"
)

type PushSubscription struct {
	ID        int
	UserID    string
	Endpoint  string
	P256dh    string
	Auth      string
	CreatedAt time.Time
}

// Users is the identity lookup port.
type Users interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	UpsertUser(ctx context.Context, user *User) error
	ListUsers(ctx context.Context) ([]User, error)
	UpdateProfile(ctx context.Context, userID, displayName, idNumber string, updatedAt time.Time) (*User, error)
}

// Sessions is the persistence port for game sessions.
type Sessions interface {
	CreateSession(ctx context.Context, session *GameSession) error
	// GetSessionForUser returns ErrNotFound unless the session exists and belongs to userID.
	GetSessionForUser(ctx context.Context, sessionID, userID string) (*GameSession, error)
	UpdateSession(ctx context.Context, session *GameSession) error
	// ListSessionsByUser orders by StartedAt, most recent first.
	ListSessionsByUser(ctx context.Context, userID string) ([]GameSession, error)
	FindActiveSession(ctx context.Context, userID string) (*GameSession, error)
}

// Stats is the persistence port for user stats.
type Stats interface {
	GetStatsByUser(ctx context.Context, userID string) (*UserStats, error)
	// InsertStats returns ErrConflict if the user already has a record.
	InsertStats(ctx context.Context, stats *UserStats) error
	UpdateStats(ctx context.Context, stats *UserStats) error
	// RankStats orders by field descending, then user id ascending.
	RankStats(ctx context.Context, field StatsField, offset, limit int) ([]RankedStats, error)
	CountStats(ctx context.Context) (int, error)
}

// Tx is the set of ports usable inside one transaction.
type Tx interface {
	Users
	Sessions
	Stats
}

type Store interface {
	Tx

	// InTx runs fn in a read-write transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// InReadTx runs fn against a consistent read-only snapshot.
	InReadTx(ctx context.Context, fn func(tx Tx) error) error

	// Push subscriptions
	SavePushSubscription(ctx context.Context, sub *PushSubscription) error
	GetPushSubscriptions(ctx context.Context, userID string) ([]PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error

	Ping(ctx context.Context) error
	Close() error
}
