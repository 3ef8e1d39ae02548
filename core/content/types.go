// Package content implements target resolution, single-operation execution
// and batch planning for markdown content operations.
package content

// =============================================================================
// Enumerations
// =============================================================================

// Action is the edit an operation performs.
type Action string

const (
	ActionInsert        Action = "insert"
	ActionReplace       Action = "replace"
	ActionDelete        Action = "delete"
	ActionUpsertSection Action = "upsert_section"
)

func (a Action) Valid() bool {
	switch a {
	case ActionInsert, ActionReplace, ActionDelete, ActionUpsertSection:
		return true
	}
	return false
}

// Placement locates the edit point relative to a resolved range.
type Placement string

const (
	PlaceBefore       Placement = "before"
	PlaceAfter        Placement = "after"
	PlaceInsideStart  Placement = "inside_start"
	PlaceInsideEnd    Placement = "inside_end"
	PlaceAt           Placement = "at"
	PlaceReplaceMatch Placement = "replace_match"
)

func (p Placement) Valid() bool {
	switch p {
	case PlaceBefore, PlaceAfter, PlaceInsideStart, PlaceInsideEnd, PlaceAt, PlaceReplaceMatch:
		return true
	}
	return false
}

// Status is the outcome of a single operation.
type Status string

const (
	StatusApplied Status = "applied"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// TransactionMode selects how operation failures affect the batch.
type TransactionMode string

const (
	ModeAllOrNothing TransactionMode = "all_or_nothing"
	ModeBestEffort   TransactionMode = "best_effort"
)

func (m TransactionMode) Valid() bool {
	return m == ModeAllOrNothing || m == ModeBestEffort
}

// ConflictStrategy selects how a target that matches nothing is reported.
type ConflictStrategy string

const (
	ConflictFail ConflictStrategy = "fail"
	ConflictSkip ConflictStrategy = "skip"
)

func (c ConflictStrategy) Valid() bool {
	return c == ConflictFail || c == ConflictSkip
}

// ReturnShape selects the output attached to a transaction result.
type ReturnShape string

const (
	ReturnContent ReturnShape = "content"
	ReturnDiff    ReturnShape = "diff"
	ReturnNone    ReturnShape = "none"
)

func (r ReturnShape) Valid() bool {
	return r == ReturnContent || r == ReturnDiff || r == ReturnNone
}

// TargetType discriminates the TargetSpec union.
type TargetType string

const (
	TargetHeading  TargetType = "heading"
	TargetRegex    TargetType = "regex"
	TargetPosition TargetType = "position"
	TargetAnchor   TargetType = "anchor"
)

type PositionMode string

const (
	PositionOffset PositionMode = "offset"
	PositionStart  PositionMode = "start"
	PositionEnd    PositionMode = "end"
)

type AnchorName string

const (
	AnchorDocStart           AnchorName = "doc_start"
	AnchorDocEnd             AnchorName = "doc_end"
	AnchorAfterTOC           AnchorName = "after_toc"
	AnchorBeforeFirstHeading AnchorName = "before_first_heading"
)

func (a AnchorName) Valid() bool {
	switch a {
	case AnchorDocStart, AnchorDocEnd, AnchorAfterTOC, AnchorBeforeFirstHeading:
		return true
	}
	return false
}

// =============================================================================
// Targets
// =============================================================================

// Target is a validated addressing scheme. Exactly one of HeadingTarget,
// RegexTarget, PositionTarget or AnchorTarget.
type Target interface {
	TargetType() TargetType
	isTarget()
}

type HeadingTarget struct {
	Path      []string `json:"path"`
	Level     int      `json:"level,omitempty"`
	HeadingID string   `json:"heading_id,omitempty"`
}

type RegexTarget struct {
	Pattern string `json:"pattern"`
	Flags   string `json:"flags,omitempty"`
	Nth     *int   `json:"nth,omitempty"`
}

type PositionTarget struct {
	Mode   PositionMode `json:"mode"`
	Offset *int         `json:"offset,omitempty"`
}

type AnchorTarget struct {
	Name AnchorName `json:"name"`
}

func (*HeadingTarget) TargetType() TargetType  { return TargetHeading }
func (*RegexTarget) TargetType() TargetType    { return TargetRegex }
func (*PositionTarget) TargetType() TargetType { return TargetPosition }
func (*AnchorTarget) TargetType() TargetType   { return TargetAnchor }

func (*HeadingTarget) isTarget()  {}
func (*RegexTarget) isTarget()    {}
func (*PositionTarget) isTarget() {}
func (*AnchorTarget) isTarget()   {}

// TargetSpec is the wire form of a target: a type discriminator plus one
// populated variant. The planner turns it into a Target.
type TargetSpec struct {
	Type     TargetType      `json:"type,omitempty"`
	Heading  *HeadingTarget  `json:"heading,omitempty"`
	Regex    *RegexTarget    `json:"regex,omitempty"`
	Position *PositionTarget `json:"position,omitempty"`
	Anchor   *AnchorTarget   `json:"anchor,omitempty"`
}

// Variants returns every populated variant in declaration order.
func (s TargetSpec) Variants() []Target {
	var out []Target
	if s.Heading != nil {
		out = append(out, s.Heading)
	}
	if s.Regex != nil {
		out = append(out, s.Regex)
	}
	if s.Position != nil {
		out = append(out, s.Position)
	}
	if s.Anchor != nil {
		out = append(out, s.Anchor)
	}
	return out
}

// =============================================================================
// Operations and results
// =============================================================================

type Options struct {
	EnsureHeading          bool `json:"ensure_heading,omitempty"`
	SurroundWithBlankLines int  `json:"surround_with_blank_lines,omitempty"`
	Dedent                 bool `json:"dedent,omitempty"`
}

// Operation is one edit of a batch as submitted by the caller.
type Operation struct {
	ID      string     `json:"id"`
	Action  Action     `json:"action"`
	Target  TargetSpec `json:"target"`
	Where   Placement  `json:"where"`
	Content *string    `json:"content,omitempty"`
	Options *Options   `json:"options,omitempty"`
}

// Document is an immutable snapshot of a note.
type Document struct {
	Text    string `json:"text"`
	Version string `json:"version"`
}

// Range is a half-open character interval.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Range) Len() int {
	return r.End - r.Start
}

// ResolvedRange is a target resolved against the current buffer. The inner
// range is the section body for heading targets and equals the outer range
// otherwise.
type ResolvedRange struct {
	Start      int
	End        int
	InnerStart int
	InnerEnd   int
	Matches    int
}

func pointRange(offset int) ResolvedRange {
	return ResolvedRange{Start: offset, End: offset, InnerStart: offset, InnerEnd: offset, Matches: 1}
}

type OpError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

type OpResult struct {
	ID          string   `json:"id"`
	Status      Status   `json:"status"`
	Matches     int      `json:"matches"`
	RangeBefore *Range   `json:"range_before,omitempty"`
	RangeAfter  *Range   `json:"range_after,omitempty"`
	Preview     string   `json:"preview,omitempty"`
	Error       *OpError `json:"error,omitempty"`
}

// TransactionRequest is the batch submitted to the engine.
type TransactionRequest struct {
	Ops              []Operation      `json:"ops"`
	DryRun           *bool            `json:"dry_run,omitempty"`
	Transaction      TransactionMode  `json:"transaction,omitempty"`
	ConflictStrategy ConflictStrategy `json:"conflict_strategy,omitempty"`
	Return           ReturnShape      `json:"return,omitempty"`
	IdempotencyKey   string           `json:"idempotency_key,omitempty"`
	ExpectedVersion  string           `json:"expected_version,omitempty"`
}

type CharDiff struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

type Meta struct {
	DryRun        bool     `json:"dry_run"`
	CharDiff      CharDiff `json:"char_diff"`
	ExecutionTime int64    `json:"execution_time"`
}

// TransactionResult is what the engine reports for every request, including
// aborted and rejected ones.
type TransactionResult struct {
	NoteID     string     `json:"note_id"`
	OpsResults []OpResult `json:"ops_results"`
	Version    string     `json:"version"`
	Diff       *string    `json:"diff,omitempty"`
	Content    *string    `json:"content,omitempty"`
	Meta       Meta       `json:"meta"`
}

// HasFailures reports whether any operation failed.
func (r *TransactionResult) HasFailures() bool {
	for _, res := range r.OpsResults {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}
