package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrRecordTooLarge is returned when a document exceeds the per-record ceiling.
var ErrRecordTooLarge = errors.New("record exceeds size ceiling")

// Turn is one persisted message of a conversation transcript.
type Turn struct {
	Seq       int64
	OwnerID   string
	Name      string
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
