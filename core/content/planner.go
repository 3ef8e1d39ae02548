package content

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Limits bound the size of a batch and its parts.
type Limits struct {
	MaxOps           int `yaml:"max_ops" toml:"max_ops"`
	MaxContentLength int `yaml:"max_content_length" toml:"max_content_length"`
	MaxPatternLength int `yaml:"max_pattern_length" toml:"max_pattern_length"`
	MaxFlagsLength   int `yaml:"max_flags_length" toml:"max_flags_length"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxOps:           50,
		MaxContentLength: 100000,
		MaxPatternLength: 1000,
		MaxFlagsLength:   10,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxOps <= 0 {
		l.MaxOps = d.MaxOps
	}
	if l.MaxContentLength <= 0 {
		l.MaxContentLength = d.MaxContentLength
	}
	if l.MaxPatternLength <= 0 {
		l.MaxPatternLength = d.MaxPatternLength
	}
	if l.MaxFlagsLength <= 0 {
		l.MaxFlagsLength = d.MaxFlagsLength
	}
	return l
}

// PlannedOp is an operation that passed validation, with its target
// narrowed to a single variant and its optional fields defaulted.
type PlannedOp struct {
	ID      string
	Action  Action
	Target  Target
	Where   Placement
	Content string
	Options Options
}

// Plan is a validated batch with every request default applied.
type Plan struct {
	Ops             []PlannedOp
	DryRun          bool
	Mode            TransactionMode
	Conflict        ConflictStrategy
	Return          ReturnShape
	IdempotencyKey  string
	ExpectedVersion string
}

// Planner validates batches structurally. It never looks at document text.
type Planner struct {
	limits Limits
}

func NewPlanner(limits Limits) *Planner {
	return &Planner{limits: limits.withDefaults()}
}

func (p *Planner) Limits() Limits {
	return p.limits
}

// Plan validates req and returns the executable batch. All issues are
// collected into a single *ValidationError.
func (p *Planner) Plan(req TransactionRequest) (*Plan, error) {
	v := &ValidationError{}

	plan := &Plan{
		DryRun:          true,
		Mode:            ModeAllOrNothing,
		Conflict:        ConflictFail,
		Return:          ReturnDiff,
		IdempotencyKey:  req.IdempotencyKey,
		ExpectedVersion: req.ExpectedVersion,
	}
	if req.DryRun != nil {
		plan.DryRun = *req.DryRun
	}
	if req.Transaction != "" {
		if !req.Transaction.Valid() {
			v.add("", "transaction", "unknown mode %q", req.Transaction)
		}
		plan.Mode = req.Transaction
	}
	if req.ConflictStrategy != "" {
		if !req.ConflictStrategy.Valid() {
			v.add("", "conflict_strategy", "unknown strategy %q", req.ConflictStrategy)
		}
		plan.Conflict = req.ConflictStrategy
	}
	if req.Return != "" {
		if !req.Return.Valid() {
			v.add("", "return", "unknown shape %q", req.Return)
		}
		plan.Return = req.Return
	}
	if req.IdempotencyKey != "" {
		if _, err := uuid.Parse(req.IdempotencyKey); err != nil {
			v.add("", "idempotency_key", "must be a UUID")
		}
	}

	switch {
	case len(req.Ops) == 0:
		v.add("", "ops", "at least one operation is required")
	case len(req.Ops) > p.limits.MaxOps:
		v.add("", "ops", "at most %d operations are allowed, got %d", p.limits.MaxOps, len(req.Ops))
	}

	seen := make(map[string]bool, len(req.Ops))
	for i, op := range req.Ops {
		if op.ID != "" {
			if seen[op.ID] {
				v.add(op.ID, "id", "duplicate operation id")
			}
			seen[op.ID] = true
		}
		if planned, ok := p.planOp(v, i, op); ok {
			plan.Ops = append(plan.Ops, planned)
		}
	}

	if err := v.orNil(); err != nil {
		return nil, err
	}
	return plan, nil
}

func (p *Planner) planOp(v *ValidationError, index int, op Operation) (PlannedOp, bool) {
	before := len(v.Issues)
	id := op.ID
	if strings.TrimSpace(id) == "" {
		v.add("", fieldAt(index, "id"), "operation id is required")
	}
	if !op.Action.Valid() {
		v.add(id, fieldAt(index, "action"), "unknown action %q", op.Action)
	}
	if !op.Where.Valid() {
		v.add(id, fieldAt(index, "where"), "unknown placement %q", op.Where)
	}

	planned := PlannedOp{ID: id, Action: op.Action, Where: op.Where}
	if op.Options != nil {
		planned.Options = *op.Options
		if n := op.Options.SurroundWithBlankLines; n < 0 || n > 3 {
			v.add(id, fieldAt(index, "options.surround_with_blank_lines"), "must be between 0 and 3, got %d", n)
		}
	}

	switch op.Action {
	case ActionInsert, ActionReplace, ActionUpsertSection:
		if op.Content == nil {
			v.add(id, fieldAt(index, "content"), "content is required for %s", op.Action)
		}
	}
	if op.Content != nil {
		planned.Content = *op.Content
		if n := utf8.RuneCountInString(*op.Content); n > p.limits.MaxContentLength {
			v.add(id, fieldAt(index, "content"), "content exceeds %d characters", p.limits.MaxContentLength)
		}
	}

	planned.Target = p.planTarget(v, id, fieldAt(index, "target"), op.Target)
	if op.Action == ActionUpsertSection && planned.Target != nil {
		if _, ok := planned.Target.(*HeadingTarget); !ok {
			v.add(id, fieldAt(index, "target"), "upsert_section requires a heading target")
		}
	}

	return planned, len(v.Issues) == before
}

func (p *Planner) planTarget(v *ValidationError, id, field string, spec TargetSpec) Target {
	variants := spec.Variants()
	if len(variants) != 1 {
		v.add(id, field, "exactly one target variant is required, got %d", len(variants))
		return nil
	}
	target := variants[0]
	if spec.Type != "" && spec.Type != target.TargetType() {
		v.add(id, field+".type", "type %q does not match the %q variant", spec.Type, target.TargetType())
		return nil
	}

	switch t := target.(type) {
	case *HeadingTarget:
		if len(t.Path) == 0 && t.HeadingID == "" {
			v.add(id, field+".heading", "path or heading_id is required")
		}
		for _, el := range t.Path {
			if strings.TrimSpace(el) == "" {
				v.add(id, field+".heading.path", "path elements must not be empty")
				break
			}
		}
		if t.Level != 0 && (t.Level < 1 || t.Level > 6) {
			v.add(id, field+".heading.level", "must be between 1 and 6, got %d", t.Level)
		}
	case *RegexTarget:
		if t.Pattern == "" {
			v.add(id, field+".regex.pattern", "pattern is required")
		}
		if n := utf8.RuneCountInString(t.Pattern); n > p.limits.MaxPatternLength {
			v.add(id, field+".regex.pattern", "pattern exceeds %d characters", p.limits.MaxPatternLength)
		}
		if len(t.Flags) > p.limits.MaxFlagsLength {
			v.add(id, field+".regex.flags", "flags exceed %d characters", p.limits.MaxFlagsLength)
		}
		if t.Nth != nil && *t.Nth == 0 {
			v.add(id, field+".regex.nth", "nth is 1-based and must not be 0")
		}
	case *PositionTarget:
		switch t.Mode {
		case PositionStart, PositionEnd:
		case PositionOffset:
			if t.Offset == nil {
				v.add(id, field+".position.offset", "offset is required when mode is offset")
			} else if *t.Offset < 0 {
				v.add(id, field+".position.offset", "offset must not be negative")
			}
		default:
			v.add(id, field+".position.mode", "unknown mode %q", t.Mode)
		}
	case *AnchorTarget:
		if !t.Name.Valid() {
			v.add(id, field+".anchor.name", "unknown anchor %q", t.Name)
		}
	}
	return target
}

func fieldAt(index int, name string) string {
	return "ops[" + strconv.Itoa(index) + "]." + name
}
