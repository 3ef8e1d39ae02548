package versioning

import (
	"fmt"
	"strings"
)

type DiffLineType int

const (
	DiffLineContext DiffLineType = iota
	DiffLineAdd
	DiffLineDelete
)

func (t DiffLineType) prefix() byte {
	switch t {
	case DiffLineAdd:
		return '+'
	case DiffLineDelete:
		return '-'
	default:
		return ' '
	}
}

type DiffLine struct {
	Type    DiffLineType
	Content string
	OldLine int
	NewLine int
}

type DiffHunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []DiffLine
}

type DiffStats struct {
	Additions int
	Deletions int
	Changes   int
}

type FileDiff struct {
	Path  string
	Hunks []DiffHunk
	Stats DiffStats
}

func (f *FileDiff) Empty() bool {
	return len(f.Hunks) == 0
}

// MyersDiffer produces line diffs with ContextLines of surrounding context.
// Hunks whose context windows touch are merged.
type MyersDiffer struct {
	ContextLines int
}

func NewMyersDiffer(contextLines int) *MyersDiffer {
	if contextLines < 0 {
		contextLines = 0
	}
	return &MyersDiffer{ContextLines: contextLines}
}

// SplitLines splits text after every newline. The final element lacks a
// newline when the text does not end with one.
func SplitLines(text string) []string {
	if text == "" {
		return []string{}
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func (d *MyersDiffer) DiffText(path, base, target string) *FileDiff {
	diff := d.DiffLines(SplitLines(base), SplitLines(target))
	diff.Path = path
	return diff
}

func (d *MyersDiffer) DiffLines(baseLines, targetLines []string) *FileDiff {
	script := trimmedScript(baseLines, targetLines, maxLineWindow)
	hunks := d.buildHunks(script, baseLines, targetLines)
	return &FileDiff{
		Hunks: hunks,
		Stats: computeStats(hunks),
	}
}

// maxLineWindow bounds the Myers search on lines. Larger windows degrade to
// a full replacement of the changed region.
const maxLineWindow = 20000

// maxEditDepth bounds the number of edits the Myers search explores. The
// trace grows with the square of the depth, so deeper edits degrade to a
// full replacement of the changed region.
const maxEditDepth = 1024

type editOp struct {
	opType   DiffLineType
	oldIndex int
	newIndex int
}

// trimmedScript strips the common prefix and suffix before running Myers on
// the remaining window.
func trimmedScript[T comparable](base, target []T, window int) []editOp {
	prefix := 0
	for prefix < len(base) && prefix < len(target) && base[prefix] == target[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(base)-prefix && suffix < len(target)-prefix &&
		base[len(base)-1-suffix] == target[len(target)-1-suffix] {
		suffix++
	}

	ops := make([]editOp, 0, len(base)+len(target)-prefix-suffix)
	for i := range prefix {
		ops = append(ops, editOp{opType: DiffLineContext, oldIndex: i, newIndex: i})
	}

	a := base[prefix : len(base)-suffix]
	b := target[prefix : len(target)-suffix]
	var middle []editOp
	if len(a)+len(b) > window {
		middle = replaceAll(len(a), len(b))
	} else {
		middle = editScript(a, b)
	}
	for _, op := range middle {
		op.oldIndex += prefix
		op.newIndex += prefix
		ops = append(ops, op)
	}

	for i := range suffix {
		ops = append(ops, editOp{
			opType:   DiffLineContext,
			oldIndex: len(base) - suffix + i,
			newIndex: len(target) - suffix + i,
		})
	}
	return ops
}

func replaceAll(n, m int) []editOp {
	ops := make([]editOp, 0, n+m)
	for i := range n {
		ops = append(ops, editOp{opType: DiffLineDelete, oldIndex: i})
	}
	for i := range m {
		ops = append(ops, editOp{opType: DiffLineAdd, newIndex: i})
	}
	return ops
}

// editScript runs the Myers O(ND) search. Each trace entry keeps only the
// diagonals reachable at its depth. Scripts longer than maxEditDepth are
// replaced wholesale.
func editScript[T comparable](base, target []T) []editOp {
	n, m := len(base), len(target)
	if n == 0 || m == 0 {
		return replaceAll(n, m)
	}

	maxD := min(n+m, maxEditDepth)
	offset := maxD + 1
	v := make([]int, 2*maxD+3)
	var trace [][]int

	for depth := 0; depth <= maxD; depth++ {
		snapshot := make([]int, 2*depth+3)
		copy(snapshot, v[offset-depth-1:offset+depth+2])
		trace = append(trace, snapshot)

		for k := -depth; k <= depth; k += 2 {
			var x int
			if k == -depth || (k != depth && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && base[x] == target[y] {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				return backtrack(trace, n, m)
			}
		}
	}
	return replaceAll(n, m)
}

func backtrack(trace [][]int, n, m int) []editOp {
	ops := make([]editOp, 0, n+m)
	x, y := n, m

	for depth := len(trace) - 1; depth > 0; depth-- {
		prev := trace[depth]
		at := func(k int) int { return prev[k+depth+1] }

		k := x - y
		var prevK int
		if k == -depth || (k != depth && at(k-1) < at(k+1)) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := at(prevK)
		prevY := prevX - prevK

		afterX, afterY := prevX, prevY+1
		if prevK < k {
			afterX, afterY = prevX+1, prevY
		}
		ops = addSnakeOps(ops, x, y, afterX, afterY)
		x, y = afterX, afterY

		if prevK < k {
			x--
			ops = append(ops, editOp{opType: DiffLineDelete, oldIndex: x})
		} else {
			y--
			ops = append(ops, editOp{opType: DiffLineAdd, newIndex: y})
		}
	}

	ops = addSnakeOps(ops, x, y, 0, 0)
	return reverseOps(ops)
}

func addSnakeOps(ops []editOp, x, y, prevX, prevY int) []editOp {
	for x > prevX && y > prevY {
		x--
		y--
		ops = append(ops, editOp{opType: DiffLineContext, oldIndex: x, newIndex: y})
	}
	return ops
}

func reverseOps(ops []editOp) []editOp {
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops
}

func (d *MyersDiffer) buildHunks(ops []editOp, base, target []string) []DiffHunk {
	var hunks []DiffHunk
	i := 0
	for i < len(ops) {
		if ops[i].opType == DiffLineContext {
			i++
			continue
		}
		start := max(0, i-d.ContextLines)
		end := i
		for end < len(ops) {
			if ops[end].opType != DiffLineContext {
				end++
				continue
			}
			run := end
			for run < len(ops) && ops[run].opType == DiffLineContext {
				run++
			}
			if run == len(ops) || run-end > 2*d.ContextLines {
				break
			}
			end = run
		}
		stop := min(len(ops), end+d.ContextLines)
		hunks = append(hunks, createHunk(start, stop, ops, base, target))
		i = stop
	}
	return hunks
}

func createHunk(start, end int, ops []editOp, base, target []string) DiffHunk {
	oldStart, newStart := 0, 0
	for i := range start {
		if ops[i].opType != DiffLineAdd {
			oldStart++
		}
		if ops[i].opType != DiffLineDelete {
			newStart++
		}
	}

	hunk := DiffHunk{OldStart: oldStart + 1, NewStart: newStart + 1}
	for i := start; i < end; i++ {
		op := ops[i]
		line := DiffLine{Type: op.opType}
		switch op.opType {
		case DiffLineContext:
			line.Content = base[op.oldIndex]
			line.OldLine = op.oldIndex + 1
			line.NewLine = op.newIndex + 1
			hunk.OldCount++
			hunk.NewCount++
		case DiffLineAdd:
			line.Content = target[op.newIndex]
			line.NewLine = op.newIndex + 1
			hunk.NewCount++
		case DiffLineDelete:
			line.Content = base[op.oldIndex]
			line.OldLine = op.oldIndex + 1
			hunk.OldCount++
		}
		hunk.Lines = append(hunk.Lines, line)
	}
	return hunk
}

func computeStats(hunks []DiffHunk) DiffStats {
	var stats DiffStats
	for _, hunk := range hunks {
		for _, line := range hunk.Lines {
			switch line.Type {
			case DiffLineAdd:
				stats.Additions++
			case DiffLineDelete:
				stats.Deletions++
			}
		}
	}
	stats.Changes = stats.Additions + stats.Deletions
	return stats
}

// Unified renders the diff in unified format. A diff without hunks renders
// as the empty string.
func (f *FileDiff) Unified() string {
	if f.Empty() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", f.Path, f.Path)
	for _, h := range f.Hunks {
		fmt.Fprintf(&b, "@@ -%s +%s @@\n", hunkRange(h.OldStart, h.OldCount), hunkRange(h.NewStart, h.NewCount))
		for _, line := range h.Lines {
			b.WriteByte(line.Type.prefix())
			b.WriteString(line.Content)
			if !strings.HasSuffix(line.Content, "\n") {
				b.WriteString("\n\\ No newline at end of file\n")
			}
		}
	}
	return b.String()
}

// hunkRange follows the GNU convention: an empty side reports the line
// before the hunk.
func hunkRange(start, count int) string {
	if count == 0 {
		start--
	}
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

// Unified is a convenience for DiffText(path, base, target).Unified().
func Unified(path, base, target string, contextLines int) string {
	return NewMyersDiffer(contextLines).DiffText(path, base, target).Unified()
}
