package content

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestResolver_Heading(t *testing.T) {
	r := NewResolver(nil)
	buf := []rune("# A\n\nfoo\n\n# B\n\nbar\n\n# C\n")

	rr, err := r.Resolve(context.Background(), buf, &HeadingTarget{Path: []string{"B"}})
	require.NoError(t, err)
	assert.Equal(t, 10, rr.Start)
	assert.Equal(t, 20, rr.End)
	assert.Equal(t, 14, rr.InnerStart)
	assert.Equal(t, 19, rr.InnerEnd)
	assert.Equal(t, 1, rr.Matches)

	t.Run("missing", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), buf, &HeadingTarget{Path: []string{"Z"}})
		assert.True(t, errors.Is(err, ErrTargetNotFound))
		assert.True(t, IsNoMatch(err))
	})

	t.Run("ambiguous", func(t *testing.T) {
		dup := []rune("# A\n## X\n# B\n## X\n")
		_, err := r.Resolve(context.Background(), dup, &HeadingTarget{Path: []string{"X"}})
		assert.True(t, errors.Is(err, ErrTargetNotFound))
		assert.False(t, IsNoMatch(err), "ambiguous is not a missing target")

		_, err = r.Resolve(context.Background(), dup, &HeadingTarget{Path: []string{"B", "X"}})
		assert.NoError(t, err)
	})
}

func TestResolver_RegexNth(t *testing.T) {
	r := NewResolver(nil)
	buf := []rune("cat dog cat bird cat")
	ctx := context.Background()

	tests := []struct {
		name  string
		nth   *int
		start int
	}{
		{"default first", nil, 0},
		{"second of three", intPtr(2), 8},
		{"last", intPtr(-1), 17},
		{"first from end twice", intPtr(-3), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, err := r.Resolve(ctx, buf, &RegexTarget{Pattern: "cat", Nth: tt.nth})
			require.NoError(t, err)
			assert.Equal(t, tt.start, rr.Start)
			assert.Equal(t, tt.start+3, rr.End)
			assert.Equal(t, 3, rr.Matches)
		})
	}

	t.Run("nth beyond matches", func(t *testing.T) {
		_, err := r.Resolve(ctx, buf, &RegexTarget{Pattern: "cat", Nth: intPtr(4)})
		assert.Equal(t, CodeTargetNotFound, CodeOf(err))
		assert.False(t, IsNoMatch(err))
		_, err = r.Resolve(ctx, buf, &RegexTarget{Pattern: "cat", Nth: intPtr(-4)})
		assert.Equal(t, CodeTargetNotFound, CodeOf(err))
	})

	t.Run("no match", func(t *testing.T) {
		_, err := r.Resolve(ctx, buf, &RegexTarget{Pattern: "fish"})
		assert.Equal(t, CodeTargetNotFound, CodeOf(err))
		assert.True(t, IsNoMatch(err))
	})
}

func TestResolver_RegexUsesCharacterOffsets(t *testing.T) {
	r := NewResolver(nil)
	buf := []rune("héllo wörld")
	rr, err := r.Resolve(context.Background(), buf, &RegexTarget{Pattern: "w.rld"})
	require.NoError(t, err)
	assert.Equal(t, 6, rr.Start)
	assert.Equal(t, 11, rr.End)
}

func TestResolver_RegexFlags(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()
	buf := []rune("Alpha\nbeta")

	rr, err := r.Resolve(ctx, buf, &RegexTarget{Pattern: "^beta$", Flags: "m"})
	require.NoError(t, err)
	assert.Equal(t, 6, rr.Start)

	rr, err = r.Resolve(ctx, buf, &RegexTarget{Pattern: "alpha", Flags: "gi"})
	require.NoError(t, err)
	assert.Equal(t, 0, rr.Start)

	_, err = r.Resolve(ctx, buf, &RegexTarget{Pattern: "a", Flags: "gg"})
	assert.Equal(t, CodeRegexCompile, CodeOf(err))

	_, err = r.Resolve(ctx, buf, &RegexTarget{Pattern: "a", Flags: "x"})
	assert.Equal(t, CodeRegexCompile, CodeOf(err))

	_, err = r.Resolve(ctx, buf, &RegexTarget{Pattern: "(unclosed"})
	assert.Equal(t, CodeRegexCompile, CodeOf(err))
}

func TestResolver_RegexSticky(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()
	buf := []rune("aaba")

	rr, err := r.Resolve(ctx, buf, &RegexTarget{Pattern: "a", Flags: "gy", Nth: intPtr(-1)})
	require.NoError(t, err)
	assert.Equal(t, 1, rr.Start)
	assert.Equal(t, 2, rr.Matches)

	rr, err = r.Resolve(ctx, buf, &RegexTarget{Pattern: "a", Flags: "g", Nth: intPtr(-1)})
	require.NoError(t, err)
	assert.Equal(t, 3, rr.Start)

	_, err = r.Resolve(ctx, buf, &RegexTarget{Pattern: "b", Flags: "y"})
	assert.True(t, IsNoMatch(err))

	_, err = r.Resolve(ctx, buf, &RegexTarget{Pattern: "a)(b", Flags: "y"})
	assert.Equal(t, CodeRegexCompile, CodeOf(err))
}

func TestDescribePattern_TruncatesRunes(t *testing.T) {
	got := describePattern(strings.Repeat("é", 50) + "\n")
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 40)+"...", got)
	assert.Equal(t, `a\nb`, describePattern("a\nb"))
}

func TestResolver_RegexTimeout(t *testing.T) {
	r := NewResolver(NewRegexRunner(10*time.Millisecond, 0))
	buf := []rune(strings.Repeat("a", 40) + "!")

	start := time.Now()
	_, err := r.Resolve(context.Background(), buf, &RegexTarget{Pattern: "^(a+)+$"})
	assert.Equal(t, CodeRegexTimeout, CodeOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestResolver_Position(t *testing.T) {
	r := NewResolver(nil)
	buf := []rune("hello")
	ctx := context.Background()

	rr, err := r.Resolve(ctx, buf, &PositionTarget{Mode: PositionStart})
	require.NoError(t, err)
	assert.Equal(t, pointRange(0), rr)

	rr, err = r.Resolve(ctx, buf, &PositionTarget{Mode: PositionEnd})
	require.NoError(t, err)
	assert.Equal(t, pointRange(5), rr)

	rr, err = r.Resolve(ctx, buf, &PositionTarget{Mode: PositionOffset, Offset: intPtr(5)})
	require.NoError(t, err)
	assert.Equal(t, pointRange(5), rr)

	_, err = r.Resolve(ctx, buf, &PositionTarget{Mode: PositionOffset, Offset: intPtr(6)})
	assert.Equal(t, CodeInvalidOperation, CodeOf(err))
}

func TestResolver_Anchors(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()

	doc := []rune("intro\n[TOC]\n\n# First\n")
	rr, err := r.Resolve(ctx, doc, &AnchorTarget{Name: AnchorAfterTOC})
	require.NoError(t, err)
	assert.Equal(t, 12, rr.Start)

	rr, err = r.Resolve(ctx, doc, &AnchorTarget{Name: AnchorBeforeFirstHeading})
	require.NoError(t, err)
	assert.Equal(t, 13, rr.Start)

	plain := []rune("no structure here")
	rr, err = r.Resolve(ctx, plain, &AnchorTarget{Name: AnchorAfterTOC})
	require.NoError(t, err)
	assert.Equal(t, 0, rr.Start)

	rr, err = r.Resolve(ctx, plain, &AnchorTarget{Name: AnchorBeforeFirstHeading})
	require.NoError(t, err)
	assert.Equal(t, len(plain), rr.Start)

	rr, err = r.Resolve(ctx, plain, &AnchorTarget{Name: AnchorDocEnd})
	require.NoError(t, err)
	assert.Equal(t, len(plain), rr.End)
}
