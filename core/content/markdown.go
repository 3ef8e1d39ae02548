package content

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Heading is an ATX heading and the section it opens. All offsets are
// character offsets into the buffer the outline was parsed from.
type Heading struct {
	Level   int
	Title   string
	Slug    string
	Start   int // first character of the heading line
	LineEnd int // first character after the heading line and its newline
	End     int // section end: next heading of equal or lower depth, or len
	Parent  int // index of the nearest ancestor, -1 for top level
	Path    []string

	line    int
	endLine int
}

// BodyStart is where the section body begins.
func (h Heading) BodyStart() int {
	return h.LineEnd
}

type mdLine struct {
	start  int
	end    int // excludes the newline
	next   int
	text   string
	fenced bool
}

func (l mdLine) blank() bool {
	return strings.TrimSpace(l.text) == ""
}

// Outline is the parsed heading structure of a markdown buffer.
type Outline struct {
	size     int
	lines    []mdLine
	Headings []Heading
}

// ParseOutline scans buf for ATX headings outside fenced code blocks.
func ParseOutline(buf []rune) *Outline {
	o := &Outline{size: len(buf), lines: splitLines(buf)}
	o.parseHeadings()
	return o
}

// ParseHeadings is a convenience wrapper returning only the headings.
func ParseHeadings(buf []rune) []Heading {
	return ParseOutline(buf).Headings
}

func splitLines(buf []rune) []mdLine {
	var lines []mdLine
	var fenceChar rune
	fenceLen := 0

	start := 0
	for start <= len(buf) {
		end := start
		for end < len(buf) && buf[end] != '\n' {
			end++
		}
		next := end
		if end < len(buf) {
			next = end + 1
		}
		l := mdLine{start: start, end: end, next: next, text: strings.TrimRight(string(buf[start:end]), "\r")}

		if fenceLen > 0 {
			l.fenced = true
			if closesFence(l.text, fenceChar, fenceLen) {
				fenceChar, fenceLen = 0, 0
			}
		} else if c, n := openFence(l.text); n > 0 {
			l.fenced = true
			fenceChar, fenceLen = c, n
		}
		lines = append(lines, l)

		if end >= len(buf) {
			break
		}
		start = next
	}
	return lines
}

// trimIndent strips up to three leading spaces. Four or more means an
// indented code line.
func trimIndent(s string) (string, bool) {
	n := 0
	for n < len(s) && s[n] == ' ' {
		n++
	}
	if n > 3 {
		return "", false
	}
	return s[n:], true
}

func openFence(s string) (rune, int) {
	t, ok := trimIndent(s)
	if !ok || t == "" || (t[0] != '`' && t[0] != '~') {
		return 0, 0
	}
	c := t[0]
	n := 0
	for n < len(t) && t[n] == c {
		n++
	}
	if n < 3 {
		return 0, 0
	}
	if c == '`' && strings.ContainsRune(t[n:], '`') {
		return 0, 0
	}
	return rune(c), n
}

func closesFence(s string, c rune, size int) bool {
	t, ok := trimIndent(s)
	if !ok {
		return false
	}
	n := 0
	for n < len(t) && rune(t[n]) == c {
		n++
	}
	return n >= size && strings.TrimSpace(t[n:]) == ""
}

func parseATX(s string) (int, string, bool) {
	t, ok := trimIndent(s)
	if !ok {
		return 0, "", false
	}
	level := 0
	for level < len(t) && t[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := t[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	title := strings.TrimSpace(rest)
	if stripped := strings.TrimRight(title, "#"); stripped != title {
		switch {
		case stripped == "":
			title = ""
		case strings.HasSuffix(stripped, " "), strings.HasSuffix(stripped, "\t"):
			title = strings.TrimSpace(stripped)
		}
	}
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}

func (o *Outline) parseHeadings() {
	slugs := make(map[string]int)
	var stack []int

	for i, l := range o.lines {
		if l.fenced {
			continue
		}
		level, title, ok := parseATX(l.text)
		if !ok {
			continue
		}
		for len(stack) > 0 && o.Headings[stack[len(stack)-1]].Level >= level {
			stack = stack[:len(stack)-1]
		}
		parent := -1
		var path []string
		if len(stack) > 0 {
			parent = stack[len(stack)-1]
			path = append(path, o.Headings[parent].Path...)
		}
		path = append(path, title)

		o.Headings = append(o.Headings, Heading{
			Level:   level,
			Title:   title,
			Slug:    uniqueSlug(slugs, Slugify(title)),
			Start:   l.start,
			LineEnd: l.next,
			Parent:  parent,
			Path:    path,
			line:    i,
		})
		stack = append(stack, len(o.Headings)-1)
	}

	for i := range o.Headings {
		h := &o.Headings[i]
		h.End = o.size
		h.endLine = len(o.lines)
		for j := i + 1; j < len(o.Headings); j++ {
			if o.Headings[j].Level <= h.Level {
				h.End = o.Headings[j].Start
				h.endLine = o.Headings[j].line
				break
			}
		}
	}
}

func uniqueSlug(seen map[string]int, slug string) string {
	n, ok := seen[slug]
	seen[slug] = n + 1
	if !ok {
		return slug
	}
	return slug + "-" + strconv.Itoa(n)
}

// Slugify produces a GitHub-style anchor: lowercase, accents stripped,
// punctuation removed, whitespace runs collapsed to single hyphens.
func Slugify(title string) string {
	stripAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(stripAccents, strings.ToLower(title))
	if err != nil {
		s = strings.ToLower(title)
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range s {
		switch {
		case r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-':
			pendingDash = true
		}
	}
	return b.String()
}

// Find returns every heading addressed by t. The path is matched as a suffix
// of the heading's ancestor-title chain; level and heading id narrow further.
func (o *Outline) Find(t *HeadingTarget) []Heading {
	var out []Heading
	for _, h := range o.Headings {
		if t.Level > 0 && h.Level != t.Level {
			continue
		}
		if t.HeadingID != "" && h.Slug != t.HeadingID {
			continue
		}
		if !pathSuffix(h.Path, t.Path) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func pathSuffix(chain, path []string) bool {
	if len(path) > len(chain) {
		return false
	}
	offset := len(chain) - len(path)
	for i, p := range path {
		if strings.TrimSpace(p) != chain[offset+i] {
			return false
		}
	}
	return true
}

// InnerEnd is the end of the section body with trailing blank lines
// excluded, or LineEnd when the body is blank.
func (o *Outline) InnerEnd(h Heading) int {
	for i := h.endLine - 1; i > h.line; i-- {
		if !o.lines[i].blank() {
			return min(o.lines[i].next, h.End)
		}
	}
	return h.LineEnd
}

// BodyCore locates the first through last non-blank characters of the
// section body, excluding the final newline. ok is false for a blank body.
func (o *Outline) BodyCore(h Heading) (start, end int, ok bool) {
	first, last := -1, -1
	for i := h.line + 1; i < h.endLine; i++ {
		if o.lines[i].blank() {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return 0, 0, false
	}
	return o.lines[first].start, o.lines[last].end, true
}

// FirstHeading returns the offset of the first heading.
func (o *Outline) FirstHeading() (int, bool) {
	if len(o.Headings) == 0 {
		return 0, false
	}
	return o.Headings[0].Start, true
}

var tocTitles = map[string]bool{
	"table of contents":  true,
	"contents":           true,
	"toc":                true,
	"sommaire":           true,
	"table des matières": true,
}

// TOCEnd returns the offset just past the first table-of-contents block.
func (o *Outline) TOCEnd() (int, bool) {
	headingAt := make(map[int]Heading, len(o.Headings))
	for _, h := range o.Headings {
		headingAt[h.line] = h
	}

	for i, l := range o.lines {
		if l.fenced {
			continue
		}
		marker := strings.ToLower(strings.TrimSpace(l.text))
		switch marker {
		case "[toc]", "[[toc]]", "[[_toc_]]":
			return l.next, true
		case "<!-- toc -->":
			for j := i + 1; j < len(o.lines); j++ {
				if strings.ToLower(strings.TrimSpace(o.lines[j].text)) == "<!-- tocstop -->" {
					return o.lines[j].next, true
				}
			}
			return l.next, true
		}

		h, ok := headingAt[i]
		if !ok || !tocTitles[strings.ToLower(h.Title)] {
			continue
		}
		if end, ok := o.listEnd(i+1, h.endLine); ok {
			return end, true
		}
	}
	return 0, false
}

// listEnd finds the end of the list that follows from line from, skipping
// leading blank lines.
func (o *Outline) listEnd(from, limit int) (int, bool) {
	end := -1
	for i := from; i < limit; i++ {
		l := o.lines[i]
		switch {
		case l.blank():
			if end >= 0 {
				return end, true
			}
		case isListItem(l.text):
			end = l.next
		case end >= 0 && strings.HasPrefix(l.text, "  "):
			end = l.next
		default:
			return end, end >= 0
		}
	}
	return end, end >= 0
}

func isListItem(s string) bool {
	t := strings.TrimLeft(s, " \t")
	if len(t) >= 2 && (t[0] == '-' || t[0] == '*' || t[0] == '+') && (t[1] == ' ' || t[1] == '\t') {
		return true
	}
	n := 0
	for n < len(t) && t[n] >= '0' && t[n] <= '9' {
		n++
	}
	return n > 0 && n+1 < len(t) && (t[n] == '.' || t[n] == ')') && t[n+1] == ' '
}
