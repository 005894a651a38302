package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one automation action against a group.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Group    string    `json:"group"`
	Source   string    `json:"source"` // "daily", "promotion", "manual"
	Action   string    `json:"action"` // "restrict", "open", "broadcast"
	ActorID  string    `json:"actor_id,omitempty"`
	OK       bool      `json:"ok"`
	Skipped  bool      `json:"skipped,omitempty"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
	MetaJSON string    `json:"meta,omitempty"`
}

// MemberRecord is a participant seen in a group.
type MemberRecord struct {
	Group    string    `json:"group"`
	MemberID string    `json:"member_id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}
