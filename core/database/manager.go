// Package database wraps the mattn SQLite driver with pooled connections,
// schema migrations and advisory file locks.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrPoolClosed = errors.New("database: pool closed")

type Pool struct {
	db     *sql.DB
	path   string
	config PoolConfig
	mu     sync.RWMutex
}

type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	BusyTimeout time.Duration
	EnableWAL   bool
	ForeignKeys bool
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpen:     8,
		MaxIdle:     4,
		MaxLifetime: time.Hour,
		BusyTimeout: 5 * time.Second,
		EnableWAL:   true,
		ForeignKeys: true,
	}
}

// Open creates the parent directory of path if needed and opens a pool on
// the SQLite file there.
func Open(path string, config PoolConfig) (*Pool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, config))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpen)
	db.SetMaxIdleConns(config.MaxIdle)
	db.SetConnMaxLifetime(config.MaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Pool{db: db, path: path, config: config}, nil
}

func buildDSN(path string, config PoolConfig) string {
	journal := "DELETE"
	if config.EnableWAL {
		journal = "WAL"
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=%s&_foreign_keys=%d&_txlock=immediate",
		path,
		int(config.BusyTimeout.Milliseconds()),
		journal,
		boolToInt(config.ForeignKeys),
	)
}

func (p *Pool) Path() string {
	return p.path
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}

	err := p.db.Close()
	p.db = nil
	return err
}

func (p *Pool) handle() (*sql.DB, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return nil, ErrPoolClosed
	}
	return p.db, nil
}

func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db, err := p.handle()
	if err != nil {
		return nil, err
	}
	return db.ExecContext(ctx, query, args...)
}

func (p *Pool) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db, err := p.handle()
	if err != nil {
		return nil, err
	}
	return db.QueryContext(ctx, query, args...)
}

// QueryRow scans a single row into dest. sql.ErrNoRows passes through.
func (p *Pool) QueryRow(ctx context.Context, query string, args []any, dest ...any) error {
	db, err := p.handle()
	if err != nil {
		return err
	}
	return db.QueryRowContext(ctx, query, args...).Scan(dest...)
}

func (p *Pool) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := p.handle()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (p *Pool) Version(ctx context.Context) (int, error) {
	var version int
	err := p.QueryRow(ctx, "PRAGMA user_version", nil, &version)
	return version, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
