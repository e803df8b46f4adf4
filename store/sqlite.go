package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/czerwonk/latency_lab/engine"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLite stores one row per sample in a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at cfg.Path.
func OpenSQLite(cfg Config) (*SQLite, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, wrap("open", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, wrap("open", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &SQLite{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, wrap("migrate", err)
	}
	log.Infof("Opened sqlite store %s", cfg.Path)

	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Append implements engine.Store.
func (s *SQLite) Append(ctx context.Context, sample engine.Sample) error {
	var latency any
	if sample.Success {
		latency = *sample.LatencyMs
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO samples(timestamp_ms, target, latency_ms) VALUES(?,?,?)`,
		sample.TimestampMs, sample.Target, latency,
	)
	return wrap("append", err)
}

// Query implements engine.Store. A NULL latency is read back as a failed
// sample.
func (s *SQLite) Query(ctx context.Context, target string, limit int) ([]engine.Sample, error) {
	if limit <= 0 {
		return []engine.Sample{}, nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if target == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT timestamp_ms, target, latency_ms FROM samples
			 ORDER BY timestamp_ms DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT timestamp_ms, target, latency_ms FROM samples WHERE target = ?
			 ORDER BY timestamp_ms DESC, id DESC LIMIT ?`, target, limit)
	}
	if err != nil {
		return nil, wrap("query", err)
	}
	defer rows.Close()

	var result []engine.Sample
	for rows.Next() {
		var (
			sample  engine.Sample
			latency sql.NullFloat64
		)
		if err := rows.Scan(&sample.TimestampMs, &sample.Target, &latency); err != nil {
			return nil, wrap("query", err)
		}
		if latency.Valid {
			v := latency.Float64
			sample.LatencyMs = &v
			sample.Success = true
		}
		result = append(result, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query", err)
	}

	// newest first from the database, oldest first for the caller
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	return result, nil
}

// Targets implements engine.Store.
func (s *SQLite) Targets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT target FROM samples ORDER BY target`)
	if err != nil {
		return nil, wrap("targets", err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, wrap("targets", err)
		}
		targets = append(targets, t)
	}

	return targets, wrap("targets", rows.Err())
}

// Close implements Store.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
