package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adalundhe/notepatch/core/content"
	"github.com/adalundhe/notepatch/core/store"
)

// =============================================================================
// Apply Command Flags
// =============================================================================

var (
	applyOps            string
	applyFile           string
	applyMatch          string
	applyCommit         bool
	applyReturn         string
	applyTransaction    string
	applyConflict       string
	applyIfMatch        string
	applyIdempotencyKey string
	applyJSON           bool
)

// autoKey asks for a freshly generated idempotency key.
const autoKey = "auto"

var applyCmd = &cobra.Command{
	Use:   "apply [note-ref]",
	Short: "Apply a batch of content operations",
	Long: `Apply a batch of content operations to a stored note, a markdown file,
or every stored note whose id or slug matches a glob.

The batch is read from --ops (a file, or - for stdin) and is either a full
request object or a bare array of operations. Batches run as a dry run unless
--commit is given.

Examples:
  notepatch apply daily --ops ops.json
  notepatch apply daily --ops ops.json --commit --if-match 'W/"..."'
  notepatch apply --file README.md --ops ops.json --commit
  notepatch apply --match 'journal/2026-*' --ops ops.json --commit
  cat ops.json | notepatch apply daily --ops - --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	flags := applyCmd.Flags()
	flags.StringVarP(&applyOps, "ops", "o", "", "Batch file, or - for stdin")
	flags.StringVarP(&applyFile, "file", "f", "", "Apply to a markdown file instead of a stored note")
	flags.StringVarP(&applyMatch, "match", "m", "", "Apply to every stored note whose id or slug matches this glob")
	flags.BoolVar(&applyCommit, "commit", false, "Persist the result instead of a dry run")
	flags.StringVar(&applyReturn, "return", "", "Output shape (diff, content, none)")
	flags.StringVar(&applyTransaction, "transaction", "", "Transaction mode (all_or_nothing, best_effort)")
	flags.StringVar(&applyConflict, "conflict", "", "Missing-target strategy (fail, skip)")
	flags.StringVar(&applyIfMatch, "if-match", "", "Expected note version")
	flags.StringVar(&applyIdempotencyKey, "idempotency-key", "", "Idempotency key (a UUID, or auto)")
	flags.BoolVar(&applyJSON, "json", false, "Output results as JSON")
	_ = applyCmd.MarkFlagRequired("ops")
}

// noteOutcome is the JSON form of one note's result.
type noteOutcome struct {
	Note   string                     `json:"note"`
	Result *content.TransactionResult `json:"result,omitempty"`
	Error  string                     `json:"error,omitempty"`
	Code   content.Code               `json:"code,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	targets := 0
	for _, set := range []bool{len(args) == 1, applyFile != "", applyMatch != ""} {
		if set {
			targets++
		}
	}
	if targets != 1 {
		return errors.New("give exactly one of a note ref, --file or --match")
	}
	if applyMatch != "" && applyIfMatch != "" {
		return errors.New("--if-match cannot be combined with --match")
	}

	req, err := readRequest(cmd.InOrStdin(), applyOps)
	if err != nil {
		return err
	}
	applyOverrides(cmd, &req)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.openLedger(); err != nil {
		return err
	}

	switch {
	case applyFile != "":
		return applyToFile(ctx, cmd, rt, req)
	case applyMatch != "":
		return applyToMatches(ctx, cmd, rt, req)
	default:
		if err := rt.openStore(ctx); err != nil {
			return err
		}
		return applyOne(ctx, cmd, rt, rt.store, args[0], req)
	}
}

// readRequest loads a batch from path, accepting a request object or a bare
// operation array.
func readRequest(stdin io.Reader, path string) (content.TransactionRequest, error) {
	var req content.TransactionRequest

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return req, fmt.Errorf("read ops: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &req.Ops)
	} else {
		err = json.Unmarshal(trimmed, &req)
	}
	if err != nil {
		return req, content.Errorf(content.CodeSchema, "parse ops: %v", err)
	}
	return req, nil
}

// applyOverrides lays explicitly set flags over the request.
func applyOverrides(cmd *cobra.Command, req *content.TransactionRequest) {
	flags := cmd.Flags()
	if flags.Changed("commit") {
		dryRun := !applyCommit
		req.DryRun = &dryRun
	}
	if applyReturn != "" {
		req.Return = content.ReturnShape(applyReturn)
	}
	if applyTransaction != "" {
		req.Transaction = content.TransactionMode(applyTransaction)
	}
	if applyConflict != "" {
		req.ConflictStrategy = content.ConflictStrategy(applyConflict)
	}
	if applyIfMatch != "" {
		req.ExpectedVersion = applyIfMatch
	}
	switch applyIdempotencyKey {
	case "":
	case autoKey:
		req.IdempotencyKey = uuid.NewString()
	default:
		req.IdempotencyKey = applyIdempotencyKey
	}
}

func applyToFile(ctx context.Context, cmd *cobra.Command, rt *runtime, req content.TransactionRequest) error {
	abs, err := filepath.Abs(applyFile)
	if err != nil {
		return err
	}
	fs, err := store.NewFileStore(filepath.Dir(abs), rt.dirs.LockDir())
	if err != nil {
		return err
	}
	return applyOne(ctx, cmd, rt, fs, filepath.Base(abs), req)
}

func applyOne(ctx context.Context, cmd *cobra.Command, rt *runtime, docs store.DocumentStore, ref string, req content.TransactionRequest) error {
	engine, err := rt.engine(docs)
	if err != nil {
		return err
	}

	result, applyErr := engine.ApplyContentOperations(ctx, ref, req)
	out := cmd.OutOrStdout()
	if applyJSON {
		if err := writeJSON(out, outcome(ref, result, applyErr)); err != nil {
			return err
		}
	} else if result != nil {
		printResult(out, ref, result, applyErr)
	}
	return applyErr
}

func applyToMatches(ctx context.Context, cmd *cobra.Command, rt *runtime, req content.TransactionRequest) error {
	matcher, err := glob.Compile(applyMatch, '/')
	if err != nil {
		return fmt.Errorf("invalid --match pattern: %w", err)
	}
	if err := rt.openStore(ctx); err != nil {
		return err
	}
	notes, err := rt.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list notes: %w", err)
	}
	engine, err := rt.engine(rt.store)
	if err != nil {
		return err
	}

	var outcomes []noteOutcome
	failed := 0
	out := cmd.OutOrStdout()
	for _, note := range notes {
		if !matcher.Match(note.ID) && (note.Slug == "" || !matcher.Match(note.Slug)) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		result, applyErr := engine.ApplyContentOperations(ctx, note.ID, req)
		if applyErr != nil {
			failed++
			rt.logger.Warn("apply failed", "note", note.ID, "code", content.CodeOf(applyErr))
		}
		if applyJSON {
			outcomes = append(outcomes, outcome(note.ID, result, applyErr))
			continue
		}
		if result != nil {
			printResult(out, note.ID, result, applyErr)
		}
	}

	if applyJSON {
		if outcomes == nil {
			outcomes = []noteOutcome{}
		}
		if err := writeJSON(out, outcomes); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d note(s) failed", failed)
	}
	return nil
}

func outcome(ref string, result *content.TransactionResult, err error) noteOutcome {
	o := noteOutcome{Note: ref, Result: result}
	if err != nil {
		o.Error = err.Error()
		o.Code = content.CodeOf(err)
	}
	return o
}
