package content

import (
	"context"
	"fmt"
	"strings"
)

// Resolver maps a target onto a concrete range of the current buffer. It
// holds no per-buffer state: every call re-parses the buffer it is given.
type Resolver struct {
	regex *RegexRunner
}

func NewResolver(regex *RegexRunner) *Resolver {
	if regex == nil {
		regex = NewRegexRunner(0, 0)
	}
	return &Resolver{regex: regex}
}

// Resolve locates target in buf.
func (r *Resolver) Resolve(ctx context.Context, buf []rune, target Target) (ResolvedRange, error) {
	switch t := target.(type) {
	case *HeadingTarget:
		return r.resolveHeading(ParseOutline(buf), t)
	case *RegexTarget:
		return r.resolveRegex(ctx, buf, t)
	case *PositionTarget:
		return resolvePosition(buf, t)
	case *AnchorTarget:
		return resolveAnchor(buf, t)
	default:
		return ResolvedRange{}, Errorf(CodeInternal, "unhandled target %T", target)
	}
}

func (r *Resolver) resolveHeading(o *Outline, t *HeadingTarget) (ResolvedRange, error) {
	found := o.Find(t)
	switch len(found) {
	case 0:
		return ResolvedRange{}, noMatch("no heading matches %s", describeHeading(t))
	case 1:
	default:
		return ResolvedRange{}, Errorf(CodeTargetNotFound, "%d headings match %s", len(found), describeHeading(t))
	}
	h := found[0]
	return ResolvedRange{
		Start:      h.Start,
		End:        h.End,
		InnerStart: h.LineEnd,
		InnerEnd:   o.InnerEnd(h),
		Matches:    1,
	}, nil
}

func (r *Resolver) resolveRegex(ctx context.Context, buf []rune, t *RegexTarget) (ResolvedRange, error) {
	matches, err := r.regex.FindAll(ctx, buf, t.Pattern, t.Flags)
	if err != nil {
		return ResolvedRange{}, err
	}
	if len(matches) == 0 {
		return ResolvedRange{}, noMatch("pattern %q matched nothing", describePattern(t.Pattern))
	}
	nth := 1
	if t.Nth != nil {
		nth = *t.Nth
	}
	m, ok := SelectNth(matches, nth)
	if !ok {
		return ResolvedRange{}, Errorf(CodeTargetNotFound, "nth=%d out of range for %d match(es)", nth, len(matches))
	}
	return ResolvedRange{
		Start:      m.Start,
		End:        m.End,
		InnerStart: m.Start,
		InnerEnd:   m.End,
		Matches:    len(matches),
	}, nil
}

func resolvePosition(buf []rune, t *PositionTarget) (ResolvedRange, error) {
	switch t.Mode {
	case PositionStart:
		return pointRange(0), nil
	case PositionEnd:
		return pointRange(len(buf)), nil
	case PositionOffset:
		if t.Offset == nil {
			return ResolvedRange{}, Errorf(CodeInvalidOperation, "position offset is required")
		}
		if *t.Offset < 0 || *t.Offset > len(buf) {
			return ResolvedRange{}, Errorf(CodeInvalidOperation, "offset %d outside [0,%d]", *t.Offset, len(buf))
		}
		return pointRange(*t.Offset), nil
	default:
		return ResolvedRange{}, Errorf(CodeInvalidOperation, "unknown position mode %q", t.Mode)
	}
}

func resolveAnchor(buf []rune, t *AnchorTarget) (ResolvedRange, error) {
	switch t.Name {
	case AnchorDocStart:
		return pointRange(0), nil
	case AnchorDocEnd:
		return pointRange(len(buf)), nil
	case AnchorAfterTOC:
		if end, ok := ParseOutline(buf).TOCEnd(); ok {
			return pointRange(end), nil
		}
		return pointRange(0), nil
	case AnchorBeforeFirstHeading:
		if start, ok := ParseOutline(buf).FirstHeading(); ok {
			return pointRange(start), nil
		}
		return pointRange(len(buf)), nil
	default:
		return ResolvedRange{}, Errorf(CodeInvalidOperation, "unknown anchor %q", t.Name)
	}
}

func describeHeading(t *HeadingTarget) string {
	var parts []string
	if len(t.Path) > 0 {
		parts = append(parts, fmt.Sprintf("path %q", strings.Join(t.Path, " > ")))
	}
	if t.Level > 0 {
		parts = append(parts, fmt.Sprintf("level %d", t.Level))
	}
	if t.HeadingID != "" {
		parts = append(parts, fmt.Sprintf("id %q", t.HeadingID))
	}
	return strings.Join(parts, ", ")
}
