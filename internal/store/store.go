// Package store persists the notification registry: which conversation each
// recipient can be reached in, per channel.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "supportbridge/pkg/logx"
)

var ErrDisabled = errors.New("store disabled")

// Config configures the registry backend.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", the store is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Record maps one (recipient, channel) pair to the serialized conversation
// envelope needed to push a message back to that user. At most one record
// exists per pair; upserts overwrite.
type Record struct {
	Recipient string
	Channel   string
	Envelope  string
	UpdatedAt time.Time
}

// Store is the registry API used by the notification engine.
//
// Upsert is latest-write-wins and safe to call concurrently with ByRecipient;
// readers observe either the old or the new envelope, never a partial write.
// An unknown recipient yields an empty slice, not an error.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	ByRecipient(ctx context.Context, recipient string) ([]Record, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the store is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
