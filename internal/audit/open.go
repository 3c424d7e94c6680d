// Package audit is an optional durable log of task executions.
//
// The in-memory history ring (internal/history) is authoritative for the UI;
// the audit store exists so operators can inspect what ran after a restart.
// Append failures are logged by the caller and never fail an execution.
package audit

import (
	"context"
	"errors"
	"strings"

	logx "taskdock/pkg/logx"
)

// Store is the minimal persistence API used by the engine.
type Store interface {
	AppendRun(ctx context.Context, e Entry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the run log is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown audit driver: " + driver)
	}
}
