package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "groupbot/pkg/logx"
)

// Store persists what the bot must not forget across restarts: the toggle
// audit trail, claimed promotion firings and the members seen per group.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	RecordMember(ctx context.Context, m MemberRecord) error
	ListMembers(ctx context.Context, group string) ([]MemberRecord, error)
	Close() error
}

// Open returns the store selected by cfg.Driver, or (nil, nil) for "" and "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", d)
	}
}
