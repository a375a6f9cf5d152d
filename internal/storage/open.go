package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "github.com/destryteeter/botlab/pkg/logx"
)

// Store is the persistence API used by the gateway, the durable timer
// primitive and the organization settings plugin.
type Store interface {
	// LoadState returns the blob saved under key; ok is false when none exists.
	LoadState(ctx context.Context, key string) (data []byte, ok bool, err error)
	SaveState(ctx context.Context, key string, data []byte) error

	PutTimer(ctx context.Context, rec TimerRecord) error
	// DeleteTimers removes every record under reference and reports how many.
	DeleteTimers(ctx context.Context, reference string) (int, error)
	CountTimers(ctx context.Context, reference string) (int, error)
	// PopNextTimer removes and returns the earliest record with FireAt <= now.
	// ok is false when nothing is due.
	PopNextTimer(ctx context.Context, now time.Time) (rec TimerRecord, ok bool, err error)
	// NextTimer reports the earliest pending FireAt.
	NextTimer(ctx context.Context) (at time.Time, ok bool, err error)

	SetAdminContent(ctx context.Context, orgID int64, key string, value []byte) error
	GetAdminContent(ctx context.Context, orgID int64, key string) (value []byte, ok bool, err error)
	DeleteAdminContent(ctx context.Context, orgID int64, key string) error

	AppendInvocation(ctx context.Context, e InvocationEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, ErrDisabled) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("component", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "none":
		return nil, ErrDisabled
	case "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
