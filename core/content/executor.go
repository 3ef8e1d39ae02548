package content

import (
	"context"
	"strings"
)

const DefaultPreviewRadius = 80

// Step is the outcome of applying one operation to a buffer.
type Step struct {
	Buffer []rune
	Result OpResult
}

// Executor applies single planned operations. It never mutates the buffer it
// is given; a failed operation returns a nil buffer.
type Executor struct {
	resolver      *Resolver
	previewRadius int
}

func NewExecutor(resolver *Resolver, previewRadius int) *Executor {
	if resolver == nil {
		resolver = NewResolver(nil)
	}
	if previewRadius <= 0 {
		previewRadius = DefaultPreviewRadius
	}
	return &Executor{resolver: resolver, previewRadius: previewRadius}
}

// Apply resolves op against buf and performs its action. On error the
// returned step carries a failed result and a nil buffer.
func (x *Executor) Apply(ctx context.Context, buf []rune, op PlannedOp) (Step, error) {
	step, err := x.apply(ctx, buf, op)
	if err != nil {
		e := AsError(err)
		if e.OpID == "" {
			e.OpID = op.ID
		}
		return Step{Result: OpResult{
			ID:      op.ID,
			Status:  StatusFailed,
			Matches: step.Result.Matches,
			Error:   e.OpError(),
		}}, e
	}
	step.Result.ID = op.ID
	step.Result.Status = StatusApplied
	return step, nil
}

func (x *Executor) apply(ctx context.Context, buf []rune, op PlannedOp) (Step, error) {
	if op.Options.EnsureHeading && op.Action != ActionUpsertSection {
		return Step{}, Errorf(CodeInvalidOperation, "ensure_heading is only valid for upsert_section")
	}
	if op.Action == ActionUpsertSection {
		return x.upsertSection(buf, op)
	}

	rr, err := x.resolver.Resolve(ctx, buf, op.Target)
	if err != nil {
		return Step{}, err
	}
	start, end := EffectiveRange(rr, op.Where)

	var text string
	switch op.Action {
	case ActionInsert, ActionReplace:
		text = prepareContent(op.Content, op.Options, buf, start, end)
	case ActionDelete:
		if start == end {
			return Step{Result: OpResult{Matches: rr.Matches}}, Errorf(CodeInvalidOperation, "delete with where=%s selects an empty range", op.Where)
		}
	default:
		return Step{}, Errorf(CodeInvalidOperation, "unknown action %q", op.Action)
	}

	return x.splice(buf, start, end, text, rr.Matches), nil
}

// EffectiveRange maps a placement onto the edit range within rr.
func EffectiveRange(rr ResolvedRange, where Placement) (int, int) {
	switch where {
	case PlaceAfter:
		return rr.End, rr.End
	case PlaceInsideStart:
		return rr.InnerStart, rr.InnerStart
	case PlaceInsideEnd:
		return rr.InnerEnd, rr.InnerEnd
	case PlaceReplaceMatch:
		return rr.Start, rr.End
	default:
		return rr.Start, rr.Start
	}
}

func (x *Executor) splice(buf []rune, start, end int, text string, matches int) Step {
	insert := []rune(text)
	out := make([]rune, 0, len(buf)-(end-start)+len(insert))
	out = append(out, buf[:start]...)
	out = append(out, insert...)
	out = append(out, buf[end:]...)

	after := Range{Start: start, End: start + len(insert)}
	return Step{
		Buffer: out,
		Result: OpResult{
			Matches:     matches,
			RangeBefore: &Range{Start: start, End: end},
			RangeAfter:  &after,
			Preview:     x.preview(out, after),
		},
	}
}

func (x *Executor) preview(buf []rune, r Range) string {
	from := max(0, r.Start-x.previewRadius)
	to := min(len(buf), r.End+x.previewRadius)
	return string(buf[from:to])
}

// =============================================================================
// Sections
// =============================================================================

func (x *Executor) upsertSection(buf []rune, op PlannedOp) (Step, error) {
	ht, ok := op.Target.(*HeadingTarget)
	if !ok {
		return Step{}, Errorf(CodeInvalidOperation, "upsert_section requires a heading target")
	}

	o := ParseOutline(buf)
	found := o.Find(ht)
	if len(found) > 1 {
		return Step{}, Errorf(CodeTargetNotFound, "%d headings match %s", len(found), describeHeading(ht))
	}
	body := strings.TrimRight(dedentIf(op.Content, op.Options.Dedent), "\n")

	if len(found) == 0 {
		if !op.Options.EnsureHeading {
			return Step{}, noMatch("no heading matches %s", describeHeading(ht))
		}
		return x.createSection(o, buf, ht, body)
	}

	h := found[0]
	if body == "" {
		// An empty body clears the section down to the heading and one
		// separating blank line.
		text := ""
		if h.End < len(buf) {
			text = "\n"
		}
		return x.splice(buf, h.LineEnd, h.End, text, 1), nil
	}
	if start, end, ok := o.BodyCore(h); ok {
		return x.splice(buf, start, end, body, 1), nil
	}
	if h.LineEnd == len(buf) && (len(buf) == 0 || buf[len(buf)-1] != '\n') {
		return x.splice(buf, len(buf), len(buf), "\n\n"+body, 1), nil
	}
	text := "\n" + body + "\n"
	if h.End < len(buf) {
		text += "\n"
	}
	return x.splice(buf, h.LineEnd, h.End, text, 1), nil
}

// createSection appends a missing heading with its body. A single-element
// path lands at the document end; a longer path requires its parent to
// exist exactly once and lands at the end of the parent section.
func (x *Executor) createSection(o *Outline, buf []rune, ht *HeadingTarget, body string) (Step, error) {
	if len(ht.Path) == 0 {
		return Step{}, Errorf(CodeInvalidOperation, "ensure_heading requires a heading path")
	}
	title := strings.TrimSpace(ht.Path[len(ht.Path)-1])
	level := max(ht.Level, 1)
	at := len(buf)

	if len(ht.Path) > 1 {
		parentPath := ht.Path[:len(ht.Path)-1]
		parents := o.Find(&HeadingTarget{Path: parentPath})
		switch len(parents) {
		case 0:
			return Step{}, Errorf(CodeInvalidOperation, "missing ancestor heading %q", strings.Join(parentPath, " > "))
		case 1:
		default:
			return Step{}, Errorf(CodeInvalidOperation, "ambiguous ancestor heading %q", strings.Join(parentPath, " > "))
		}
		parent := parents[0]
		level = parent.Level + 1
		if ht.Level > 0 {
			if ht.Level <= parent.Level {
				return Step{}, Errorf(CodeInvalidOperation, "level %d is not below ancestor level %d", ht.Level, parent.Level)
			}
			level = ht.Level
		}
		at = parent.End
	}
	if level > 6 {
		return Step{}, Errorf(CodeInvalidOperation, "heading level %d exceeds 6", level)
	}

	section := strings.Repeat("#", level) + " " + title + "\n"
	if body != "" {
		section += "\n" + body + "\n"
	}
	if at > 0 {
		section = strings.Repeat("\n", max(0, 2-trailingNewlines(buf[:at]))) + section
	}
	if at < len(buf) {
		section += "\n"
	}
	return x.splice(buf, at, at, section, 0), nil
}

// =============================================================================
// Content shaping
// =============================================================================

func prepareContent(content string, opts Options, buf []rune, start, end int) string {
	text := dedentIf(content, opts.Dedent)
	n := opts.SurroundWithBlankLines
	if n <= 0 {
		return text
	}
	want := n + 1
	if start > 0 {
		have := trailingNewlines(buf[:start]) + leadingNewlines([]rune(text))
		text = strings.Repeat("\n", max(0, want-have)) + text
	}
	if end < len(buf) {
		have := trailingNewlines([]rune(text)) + leadingNewlines(buf[end:])
		text += strings.Repeat("\n", max(0, want-have))
	}
	return text
}

func dedentIf(content string, enabled bool) string {
	if !enabled {
		return content
	}
	return Dedent(content)
}

// Dedent removes the longest run of leading spaces and tabs shared by every
// non-blank line.
func Dedent(s string) string {
	lines := strings.Split(s, "\n")
	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix = indent
			first = false
			continue
		}
		prefix = commonPrefix(prefix, indent)
	}
	if prefix == "" {
		return s
	}
	for i, line := range lines {
		if strings.HasPrefix(line, prefix) {
			lines[i] = line[len(prefix):]
		} else if strings.TrimSpace(line) == "" {
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

func commonPrefix(a, b string) string {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

func trailingNewlines(r []rune) int {
	n := 0
	for i := len(r) - 1; i >= 0 && r[i] == '\n'; i-- {
		n++
	}
	return n
}

func leadingNewlines(r []rune) int {
	n := 0
	for n < len(r) && r[n] == '\n' {
		n++
	}
	return n
}
