package versioning

import "unicode/utf8"

// maxCharWindow is the largest changed window, in characters, diffed
// character by character. Larger windows are diffed by line.
const maxCharWindow = 4096

type CharStats struct {
	Added   int
	Removed int
}

// CountChars reports how many characters were added and removed between base
// and target.
func CountChars(base, target string) CharStats {
	a, b := []rune(base), []rune(target)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}
	a = a[prefix : len(a)-suffix]
	b = b[prefix : len(b)-suffix]

	var stats CharStats
	if len(a)+len(b) <= maxCharWindow {
		for _, op := range editScript(a, b) {
			switch op.opType {
			case DiffLineAdd:
				stats.Added++
			case DiffLineDelete:
				stats.Removed++
			}
		}
		return stats
	}

	baseLines := SplitLines(string(a))
	targetLines := SplitLines(string(b))
	for _, op := range trimmedScript(baseLines, targetLines, maxLineWindow) {
		switch op.opType {
		case DiffLineAdd:
			stats.Added += utf8.RuneCountInString(targetLines[op.newIndex])
		case DiffLineDelete:
			stats.Removed += utf8.RuneCountInString(baseLines[op.oldIndex])
		}
	}
	return stats
}
