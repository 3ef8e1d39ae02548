// Package transaction runs validated batches of content operations against a
// stored note. It owns the transaction state machine, the version
// precondition and idempotent replay.
package transaction

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/adalundhe/notepatch/core/content"
	"github.com/adalundhe/notepatch/core/idempotency"
	"github.com/adalundhe/notepatch/core/store"
	"github.com/adalundhe/notepatch/core/versioning"
)

const DefaultDiffContextLines = 3

var ErrNoStore = errors.New("engine requires a document store")

type Config struct {
	Store store.DocumentStore
	// Ledger is optional. Without one, idempotency keys are validated but
	// nothing is replayed.
	Ledger idempotency.Ledger

	Limits           content.Limits
	RegexTimeout     time.Duration
	RegexCacheSize   int
	PreviewRadius    int
	DiffContextLines int

	Logger *slog.Logger
	Clock  func() time.Time
}

// Engine applies content operation batches to notes.
type Engine struct {
	store    store.DocumentStore
	ledger   idempotency.Ledger
	planner  atomic.Pointer[content.Planner]
	executor *content.Executor
	differ   *versioning.MyersDiffer
	locks    *keyedMutex
	logger   *slog.Logger
	clock    func() time.Time
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	contextLines := cfg.DiffContextLines
	if contextLines <= 0 {
		contextLines = DefaultDiffContextLines
	}

	regex := content.NewRegexRunner(cfg.RegexTimeout, cfg.RegexCacheSize)
	e := &Engine{
		store:    cfg.Store,
		ledger:   cfg.Ledger,
		executor: content.NewExecutor(content.NewResolver(regex), cfg.PreviewRadius),
		differ:   versioning.NewMyersDiffer(contextLines),
		locks:    newKeyedMutex(),
		logger:   logger.With("component", "content-engine"),
		clock:    clock,
	}
	e.planner.Store(content.NewPlanner(cfg.Limits))
	return e, nil
}

// SetLimits swaps the batch limits used by subsequent requests.
func (e *Engine) SetLimits(limits content.Limits) {
	e.planner.Store(content.NewPlanner(limits))
}

func (e *Engine) Limits() content.Limits {
	return e.planner.Load().Limits()
}

// run carries the per-request state through the phases of a transaction.
type run struct {
	noteRef string
	req     content.TransactionRequest
	machine *machine
	started time.Time
	stamped bool
	result  *content.TransactionResult
}

// ApplyContentOperations executes req against the note. The returned result
// is non-nil whenever the note could be addressed, including when err is
// set, and always carries one entry per submitted operation.
func (e *Engine) ApplyContentOperations(ctx context.Context, noteRef string, req content.TransactionRequest) (*content.TransactionResult, error) {
	r := &run{
		noteRef: noteRef,
		req:     req,
		machine: newMachine(),
		started: e.clock(),
		result: &content.TransactionResult{
			NoteID:     noteRef,
			OpsResults: skippedResults(req.Ops),
			Meta:       content.Meta{DryRun: req.DryRun == nil || *req.DryRun},
		},
	}

	unlock := e.locks.Lock(noteRef)
	defer unlock()

	e.logger.Info("transaction started",
		"note", noteRef,
		"ops", len(req.Ops),
		"mode", req.Transaction,
		"dry_run", r.result.Meta.DryRun)

	result, err := e.execute(ctx, r)
	if result == r.result {
		e.stamp(r)
	}

	attrs := []any{"note", noteRef, "state", r.machine.State().String()}
	if err != nil {
		e.logger.Warn("transaction finished", append(attrs, "code", content.CodeOf(err))...)
	} else {
		e.logger.Info("transaction finished", attrs...)
	}
	return result, err
}

func (e *Engine) execute(ctx context.Context, r *run) (*content.TransactionResult, error) {
	ledgerKey := ""
	if r.req.IdempotencyKey != "" && e.ledger != nil {
		ledgerKey = idempotency.Key(r.noteRef, r.req.IdempotencyKey)
		recorded, ok, err := e.ledger.Get(ctx, ledgerKey)
		if err != nil {
			return nil, content.Wrap(content.CodeInternal, err, "idempotency lookup failed")
		}
		if ok {
			e.logger.Info("replaying recorded result", "note", r.noteRef, "key", r.req.IdempotencyKey)
			return recorded, nil
		}
	}

	doc, err := e.store.Get(ctx, r.noteRef)
	if err != nil {
		if errors.Is(err, store.ErrNoteNotFound) {
			return r.result, e.reject(r, content.Wrap(content.CodeNoteNotFound, err, "note "+r.noteRef+" not found"))
		}
		return r.result, e.reject(r, content.Wrap(content.CodeInternal, err, "load note"))
	}
	r.result.Version = doc.Version

	if err := checkPrecondition(r.req.ExpectedVersion, doc.Version); err != nil {
		return r.result, e.reject(r, err)
	}

	if err := e.transition(r, StateValidating); err != nil {
		return r.result, err
	}
	plan, err := e.planner.Load().Plan(r.req)
	if err != nil {
		return r.result, e.reject(r, err)
	}

	if err := e.transition(r, StateExecuting); err != nil {
		return r.result, err
	}
	buf, abortErr := e.fold(ctx, plan, doc, r)
	if abortErr != nil {
		if err := e.transition(r, StateRolledBack); err != nil {
			return r.result, err
		}
		return r.result, abortErr
	}

	text := string(buf)
	e.render(plan, doc.Text, text, r)

	if plan.DryRun {
		return r.result, e.transition(r, StateDryRunComplete)
	}

	if text != doc.Text {
		version, err := e.store.Put(ctx, r.noteRef, text, doc.Version)
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			r.result.Diff, r.result.Content = nil, nil
			r.result.Meta.CharDiff = content.CharDiff{}
			return r.result, e.reject(r, content.Wrap(content.CodePreconditionFailed, err, "note changed during the transaction"))
		case err != nil:
			r.result.Diff, r.result.Content = nil, nil
			r.result.Meta.CharDiff = content.CharDiff{}
			if terr := e.transition(r, StateRolledBack); terr != nil {
				return r.result, terr
			}
			return r.result, content.Wrap(content.CodeInternal, err, "persist note")
		}
		r.result.Version = version
	}

	if err := e.transition(r, StateCommitted); err != nil {
		return r.result, err
	}

	if ledgerKey != "" {
		e.stamp(r)
		if err := e.ledger.Put(ctx, ledgerKey, r.result); err != nil {
			e.logger.Warn("failed to record idempotent result", "note", r.noteRef, "error", err)
		}
	}
	return r.result, nil
}

// fold applies the planned ops in order, each against the buffer left by
// the last applied op. It returns the final buffer, or the error that
// aborted the batch.
func (e *Engine) fold(ctx context.Context, plan *content.Plan, doc content.Document, r *run) ([]rune, error) {
	buf := []rune(doc.Text)
	results := r.result.OpsResults

	for i, op := range plan.Ops {
		step, err := e.executor.Apply(ctx, buf, op)
		if err == nil {
			buf = step.Buffer
			results[i] = step.Result
			e.logger.Debug("op applied", "note", r.noteRef, "op", op.ID, "matches", step.Result.Matches)
			continue
		}

		code := content.CodeOf(err)
		if plan.Conflict == content.ConflictSkip && content.IsNoMatch(err) {
			step.Result.Status = content.StatusSkipped
			results[i] = step.Result
			e.logger.Debug("op skipped", "note", r.noteRef, "op", op.ID, "code", code)
			continue
		}

		results[i] = step.Result
		e.logger.Warn("op failed", "note", r.noteRef, "op", op.ID, "code", code)

		if !code.Operational() {
			return nil, err
		}
		if plan.Mode == content.ModeAllOrNothing {
			return nil, err
		}
	}
	return buf, nil
}

func (e *Engine) render(plan *content.Plan, base, target string, r *run) {
	stats := versioning.CountChars(base, target)
	r.result.Meta.CharDiff = content.CharDiff{Added: stats.Added, Removed: stats.Removed}
	r.result.Meta.DryRun = plan.DryRun

	switch plan.Return {
	case content.ReturnDiff:
		diff := e.differ.DiffText(r.noteRef, base, target).Unified()
		r.result.Diff = &diff
	case content.ReturnContent:
		r.result.Content = &target
	}
}

// stamp records the elapsed time once, before the result is recorded or
// returned.
func (e *Engine) stamp(r *run) {
	if r.stamped {
		return
	}
	r.stamped = true
	r.result.Meta.ExecutionTime = e.clock().Sub(r.started).Milliseconds()
}

func (e *Engine) reject(r *run, cause error) error {
	if err := e.transition(r, StateRejected); err != nil {
		return err
	}
	return cause
}

func (e *Engine) transition(r *run, next State) error {
	if err := r.machine.transitionTo(next); err != nil {
		e.logger.Error("illegal transaction transition", "note", r.noteRef, "error", err)
		return content.Wrap(content.CodeInternal, err, "transaction state")
	}
	return nil
}

// skippedResults seeds one skipped result per submitted op; ops that run
// overwrite their entry.
func skippedResults(ops []content.Operation) []content.OpResult {
	results := make([]content.OpResult, len(ops))
	for i, op := range ops {
		results[i] = content.OpResult{ID: op.ID, Status: content.StatusSkipped}
	}
	return results
}
