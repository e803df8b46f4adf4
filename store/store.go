// Package store persists samples and reads bounded windows back.
package store

import (
	"errors"
	"strings"
	"time"

	"github.com/czerwonk/latency_lab/engine"
)

// ErrStore matches every error returned by a store driver.
var ErrStore = errors.New("store error")

// Error wraps a driver failure with the operation that caused it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStore) hold for every store error.
func (e *Error) Is(target error) bool {
	return target == ErrStore
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Op: op, Err: err}
}

// Store is an engine.Store that needs to be closed.
type Store interface {
	engine.Store
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "memory": bounded in-process ring per target (default)
//   - "sqlite": SQLite database file
//   - "none": no storage, queries are served from the engine windows
type Config struct {
	Driver      string
	Path        string
	Capacity    int           // memory only; samples kept per target
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	switch driver {
	case "none":
		return nil, nil
	case "", "memory":
		return NewMemory(cfg.Capacity), nil
	case "sqlite", "sqlite3":
		s, err := OpenSQLite(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
