// Package idempotency records transaction results by idempotency key so a
// retried request replays the first answer instead of editing twice.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/adalundhe/notepatch/core/content"
)

var ErrLedgerClosed = errors.New("idempotency ledger closed")

// Ledger stores one result per key. Results come back as independent
// copies.
type Ledger interface {
	Get(ctx context.Context, key string) (*content.TransactionResult, bool, error)
	Put(ctx context.Context, key string, result *content.TransactionResult) error
}

// Key scopes an idempotency key to the note it was used against.
func Key(noteRef, idempotencyKey string) string {
	return noteRef + "\x00" + idempotencyKey
}

func encode(result *content.TransactionResult) ([]byte, error) {
	return json.Marshal(result)
}

func decode(data []byte) (*content.TransactionResult, error) {
	var result content.TransactionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MemoryLedger is an unbounded in-process ledger.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string][]byte
	closed  bool
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string][]byte)}
}

func (l *MemoryLedger) Get(ctx context.Context, key string) (*content.TransactionResult, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, false, ErrLedgerClosed
	}

	data, ok := l.entries[key]
	if !ok {
		return nil, false, nil
	}
	result, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

func (l *MemoryLedger) Put(ctx context.Context, key string, result *content.TransactionResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(result)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLedgerClosed
	}
	l.entries[key] = data
	return nil
}

func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *MemoryLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.entries = nil
	return nil
}
