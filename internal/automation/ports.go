package automation

import (
	"context"
	"time"

	"groupbot/internal/storage"
)

// AssetStore resolves a named binary asset. A missing asset is (nil, false, nil).
type AssetStore interface {
	Load(ctx context.Context, name string) ([]byte, bool, error)
}

// Auditor records completed actions. storage.Store satisfies it.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Ledger claims a key once per ttl window.
type Ledger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
