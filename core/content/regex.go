package content

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultRegexTimeout   = 50 * time.Millisecond
	DefaultRegexCacheSize = 256
)

// RegexRunner compiles and executes user-supplied patterns under a hard
// deadline. Compiled programs are cached by flags and pattern; the cache
// never influences which range a pattern resolves to.
type RegexRunner struct {
	timeout time.Duration
	cache   *lru.Cache[string, *regexp2.Regexp]
}

// NewRegexRunner builds a runner. Non-positive arguments select defaults.
func NewRegexRunner(timeout time.Duration, cacheSize int) *RegexRunner {
	if timeout <= 0 {
		timeout = DefaultRegexTimeout
	}
	if cacheSize <= 0 {
		cacheSize = DefaultRegexCacheSize
	}
	cache, _ := lru.New[string, *regexp2.Regexp](cacheSize)
	return &RegexRunner{timeout: timeout, cache: cache}
}

func (r *RegexRunner) Timeout() time.Duration {
	return r.timeout
}

// ParseFlags validates a JavaScript-style flag string. i, m and s map onto
// regexp2 options. y is handled by Compile, which anchors every match where
// the previous one ended. Matching always runs over runes with Unicode
// classes, so u is implied; g and d have no effect since every match is
// collected anyway.
func ParseFlags(flags string) (regexp2.RegexOptions, error) {
	var opts regexp2.RegexOptions
	seen := make(map[rune]bool, len(flags))
	for _, f := range flags {
		if seen[f] {
			return 0, Errorf(CodeRegexCompile, "duplicate regex flag %q", f)
		}
		seen[f] = true
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'g', 'u', 'y', 'd':
		default:
			return 0, Errorf(CodeRegexCompile, "unsupported regex flag %q", f)
		}
	}
	return opts, nil
}

// Compile returns the cached program for pattern and flags, compiling it on
// first use.
func (r *RegexRunner) Compile(pattern, flags string) (*regexp2.Regexp, error) {
	key := flags + "\x00" + pattern
	if re, ok := r.cache.Get(key); ok {
		return re, nil
	}

	opts, err := ParseFlags(flags)
	if err != nil {
		return nil, err
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, Wrap(CodeRegexCompile, err, "invalid pattern")
	}
	if strings.ContainsRune(flags, 'y') {
		if re, err = regexp2.Compile(`\G(?:`+pattern+`)`, opts); err != nil {
			return nil, Wrap(CodeRegexCompile, err, "invalid pattern")
		}
	}
	re.MatchTimeout = r.timeout
	r.cache.Add(key, re)
	return re, nil
}

// FindAll returns every non-overlapping match of pattern in text. Matching
// runs on a worker goroutine; exceeding the runner timeout yields
// REGEX_TIMEOUT and the worker's result is discarded.
func (r *RegexRunner) FindAll(ctx context.Context, text []rune, pattern, flags string) ([]Range, error) {
	re, err := r.Compile(pattern, flags)
	if err != nil {
		return nil, err
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		ranges []Range
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		ranges, err := collectMatches(ctx, re, text)
		done <- outcome{ranges: ranges, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, Wrap(CodeRegexTimeout, out.err, fmt.Sprintf("pattern exceeded %s", r.timeout))
		}
		return out.ranges, nil
	case <-ctx.Done():
		if err := parent.Err(); err != nil {
			return nil, err
		}
		return nil, Errorf(CodeRegexTimeout, "pattern exceeded %s", r.timeout)
	}
}

func collectMatches(ctx context.Context, re *regexp2.Regexp, text []rune) ([]Range, error) {
	var ranges []Range
	m, err := re.FindRunesMatch(text)
	for m != nil && err == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ranges = append(ranges, Range{Start: m.Index, End: m.Index + m.Length})
		m, err = re.FindNextMatch(m)
	}
	if err != nil {
		return nil, err
	}
	return ranges, nil
}

// SelectNth picks the nth match, 1-based, negative counting from the end.
func SelectNth(ranges []Range, nth int) (Range, bool) {
	idx := nth - 1
	if nth < 0 {
		idx = len(ranges) + nth
	}
	if nth == 0 || idx < 0 || idx >= len(ranges) {
		return Range{}, false
	}
	return ranges[idx], true
}

func describePattern(pattern string) string {
	if runes := []rune(pattern); len(runes) > 40 {
		pattern = string(runes[:40]) + "..."
	}
	return strings.ReplaceAll(pattern, "\n", `\n`)
}
