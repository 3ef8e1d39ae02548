package idempotency

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/adalundhe/notepatch/core/content"
)

func sampleResult() *content.TransactionResult {
	diff := "--- a/n\n+++ b/n\n"
	return &content.TransactionResult{
		NoteID:  "n",
		Version: `W/"abc"`,
		Diff:    &diff,
		OpsResults: []content.OpResult{
			{ID: "op1", Status: content.StatusApplied, Matches: 1, RangeAfter: &content.Range{Start: 0, End: 3}},
			{ID: "op2", Status: content.StatusFailed, Error: &content.OpError{Code: content.CodeTargetNotFound, Message: "no match"}},
		},
		Meta: content.Meta{CharDiff: content.CharDiff{Added: 3}, ExecutionTime: 4},
	}
}

func setupTieredLedger(t *testing.T, path string) *TieredLedger {
	t.Helper()

	cfg := DefaultTieredConfig(path)
	cfg.NumCounters = 1000
	cfg.MaxCost = 1 << 20

	ledger, err := NewTieredLedger(cfg)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	return ledger
}

func assertSameResult(t *testing.T, want, got *content.TransactionResult) {
	t.Helper()

	if got.NoteID != want.NoteID || got.Version != want.Version {
		t.Fatalf("expected %s@%s, got %s@%s", want.NoteID, want.Version, got.NoteID, got.Version)
	}
	if len(got.OpsResults) != len(want.OpsResults) {
		t.Fatalf("expected %d op results, got %d", len(want.OpsResults), len(got.OpsResults))
	}
	if got.OpsResults[1].Error == nil || got.OpsResults[1].Error.Code != content.CodeTargetNotFound {
		t.Errorf("expected op error to survive, got %+v", got.OpsResults[1].Error)
	}
	if got.Diff == nil || *got.Diff != *want.Diff {
		t.Errorf("expected diff %q, got %v", *want.Diff, got.Diff)
	}
	if got.Meta != want.Meta {
		t.Errorf("expected meta %+v, got %+v", want.Meta, got.Meta)
	}
}

func TestKey_ScopesByNote(t *testing.T) {
	if Key("a", "k") == Key("b", "k") {
		t.Error("expected keys for different notes to differ")
	}
}

func TestMemoryLedger_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	if _, ok, err := ledger.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	want := sampleResult()
	if err := ledger.Put(ctx, "k", want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := ledger.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	assertSameResult(t, want, got)

	got.OpsResults[0].Status = content.StatusSkipped
	again, _, _ := ledger.Get(ctx, "k")
	if again.OpsResults[0].Status != content.StatusApplied {
		t.Error("expected stored result to be isolated from callers")
	}
}

func TestMemoryLedger_Closed(t *testing.T) {
	ledger := NewMemoryLedger()
	ledger.Close()

	if err := ledger.Put(context.Background(), "k", sampleResult()); !errors.Is(err, ErrLedgerClosed) {
		t.Errorf("expected ErrLedgerClosed, got %v", err)
	}
	if _, _, err := ledger.Get(context.Background(), "k"); !errors.Is(err, ErrLedgerClosed) {
		t.Errorf("expected ErrLedgerClosed, got %v", err)
	}
}

func TestTieredLedger_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ledger := setupTieredLedger(t, filepath.Join(t.TempDir(), "ledger.db"))
	defer ledger.Close()

	want := sampleResult()
	if err := ledger.Put(ctx, Key("n", "k"), want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := ledger.Get(ctx, Key("n", "k"))
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	assertSameResult(t, want, got)

	if _, ok, _ := ledger.Get(ctx, Key("other", "k")); ok {
		t.Error("expected key scoped to another note to miss")
	}

	stats := ledger.Stats()
	if stats.Recorded != 1 {
		t.Errorf("expected 1 recorded, got %d", stats.Recorded)
	}
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}

func TestTieredLedger_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	ledger := setupTieredLedger(t, path)
	want := sampleResult()
	if err := ledger.Put(ctx, "k", want); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := ledger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := setupTieredLedger(t, path)
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected cold hit, got ok=%v err=%v", ok, err)
	}
	assertSameResult(t, want, got)

	if stats := reopened.Stats(); stats.ColdHits != 1 {
		t.Errorf("expected 1 cold hit, got %d", stats.ColdHits)
	}
}

func TestTieredLedger_Prune(t *testing.T) {
	ctx := context.Background()
	ledger := setupTieredLedger(t, filepath.Join(t.TempDir(), "ledger.db"))
	defer ledger.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return base }
	if err := ledger.Put(ctx, "old", sampleResult()); err != nil {
		t.Fatalf("put: %v", err)
	}

	ledger.now = func() time.Time { return base.Add(2 * defaultRetention) }
	if err := ledger.Put(ctx, "new", sampleResult()); err != nil {
		t.Fatalf("put: %v", err)
	}

	n, err := ledger.Prune(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
	if _, ok, _ := ledger.Get(ctx, "old"); ok {
		t.Error("expected pruned key to miss")
	}
	if _, ok, _ := ledger.Get(ctx, "new"); !ok {
		t.Error("expected recent key to hit")
	}
}

func TestTieredLedger_Closed(t *testing.T) {
	ledger := setupTieredLedger(t, filepath.Join(t.TempDir(), "ledger.db"))
	if err := ledger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ledger.Close(); err != nil {
		t.Errorf("expected second close to be a no-op, got %v", err)
	}
	if err := ledger.Put(context.Background(), "k", sampleResult()); !errors.Is(err, ErrLedgerClosed) {
		t.Errorf("expected ErrLedgerClosed, got %v", err)
	}
}
