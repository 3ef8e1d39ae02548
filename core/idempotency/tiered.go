package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	_ "modernc.org/sqlite"

	"github.com/adalundhe/notepatch/core/content"
)

// =============================================================================
// Tiered Ledger
// =============================================================================
//
// TieredLedger keeps recorded results in two tiers:
// - Hot: Ristretto cache holding the encoded result of recent keys
// - Cold: SQLite table, written through on every Put
//
// A cold hit is promoted back into the hot tier.

const (
	defaultNumCounters = 1e5
	defaultMaxCost     = 64 << 20
	defaultBufferItems = 64
	defaultRetention   = 24 * time.Hour
)

type TieredConfig struct {
	// SQLite path for the cold tier.
	Path string

	NumCounters int64
	MaxCost     int64
	BufferItems int64

	// Retention bounds how long cold entries survive Prune. Zero keeps
	// them forever.
	Retention time.Duration
}

func DefaultTieredConfig(path string) TieredConfig {
	return TieredConfig{
		Path:        path,
		NumCounters: int64(defaultNumCounters),
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
		Retention:   defaultRetention,
	}
}

type LedgerStats struct {
	HotHits    int64 `json:"hot_hits"`
	ColdHits   int64 `json:"cold_hits"`
	Misses     int64 `json:"misses"`
	Recorded   int64 `json:"recorded"`
	Promotions int64 `json:"promotions"`
}

type TieredLedger struct {
	cache  *ristretto.Cache
	db     *sql.DB
	config TieredConfig
	now    func() time.Time

	mu     sync.RWMutex
	closed bool

	statsMu sync.Mutex
	stats   LedgerStats
}

func NewTieredLedger(cfg TieredConfig) (*TieredLedger, error) {
	if cfg.Path == "" {
		return nil, errors.New("ledger path required")
	}
	if cfg.NumCounters == 0 {
		cfg.NumCounters = int64(defaultNumCounters)
	}
	if cfg.MaxCost == 0 {
		cfg.MaxCost = defaultMaxCost
	}
	if cfg.BufferItems == 0 {
		cfg.BufferItems = defaultBufferItems
	}

	db, err := openCold(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize Ristretto cache: %w", err)
	}

	return &TieredLedger{cache: cache, db: db, config: cfg, now: time.Now}, nil
}

func openCold(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		`CREATE TABLE IF NOT EXISTS idempotency (
			key TEXT PRIMARY KEY,
			result BLOB NOT NULL,
			recorded_at INTEGER NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_idempotency_recorded ON idempotency(recorded_at)",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return db, nil
}

func (l *TieredLedger) Get(ctx context.Context, key string) (*content.TransactionResult, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, false, ErrLedgerClosed
	}

	if val, ok := l.cache.Get(key); ok {
		if data, ok := val.([]byte); ok {
			l.count(func(s *LedgerStats) { s.HotHits++ })
			result, err := decode(data)
			return result, err == nil, err
		}
	}

	var data []byte
	err := l.db.QueryRowContext(ctx, "SELECT result FROM idempotency WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		l.count(func(s *LedgerStats) { s.Misses++ })
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ledger lookup: %w", err)
	}

	result, err := decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("ledger decode: %w", err)
	}
	if l.cache.Set(key, data, int64(len(data))) {
		l.count(func(s *LedgerStats) { s.Promotions++ })
	}
	l.count(func(s *LedgerStats) { s.ColdHits++ })
	return result, true, nil
}

// Put writes the cold tier first so a recorded key survives a restart, then
// waits for the hot tier to admit it.
func (l *TieredLedger) Put(ctx context.Context, key string, result *content.TransactionResult) error {
	data, err := encode(result)
	if err != nil {
		return fmt.Errorf("ledger encode: %w", err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrLedgerClosed
	}

	_, err = l.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO idempotency (key, result, recorded_at) VALUES (?, ?, ?)",
		key, data, l.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("ledger write: %w", err)
	}

	l.cache.Set(key, data, int64(len(data)))
	l.cache.Wait()
	l.count(func(s *LedgerStats) { s.Recorded++ })
	return nil
}

// Prune drops cold entries older than the configured retention.
func (l *TieredLedger) Prune(ctx context.Context) (int64, error) {
	if l.config.Retention == 0 {
		return 0, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, ErrLedgerClosed
	}

	cutoff := l.now().Add(-l.config.Retention).UnixMilli()
	res, err := l.db.ExecContext(ctx, "DELETE FROM idempotency WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	// Pruned keys may still sit in the hot tier.
	l.cache.Clear()
	return res.RowsAffected()
}

func (l *TieredLedger) Stats() LedgerStats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}

func (l *TieredLedger) count(fn func(*LedgerStats)) {
	l.statsMu.Lock()
	fn(&l.stats)
	l.statsMu.Unlock()
}

func (l *TieredLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.cache.Close()
	return l.db.Close()
}
