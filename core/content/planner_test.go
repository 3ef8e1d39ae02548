package content

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func headingOp(id string, path ...string) Operation {
	return Operation{
		ID:      id,
		Action:  ActionUpsertSection,
		Target:  TargetSpec{Type: TargetHeading, Heading: &HeadingTarget{Path: path}},
		Where:   PlaceReplaceMatch,
		Content: strPtr("body"),
	}
}

func TestPlanner_Defaults(t *testing.T) {
	p := NewPlanner(Limits{})
	plan, err := p.Plan(TransactionRequest{Ops: []Operation{headingOp("1", "A")}})
	require.NoError(t, err)

	assert.True(t, plan.DryRun)
	assert.Equal(t, ModeAllOrNothing, plan.Mode)
	assert.Equal(t, ConflictFail, plan.Conflict)
	assert.Equal(t, ReturnDiff, plan.Return)
	require.Len(t, plan.Ops, 1)
	assert.IsType(t, &HeadingTarget{}, plan.Ops[0].Target)
	assert.Equal(t, "body", plan.Ops[0].Content)
}

func TestPlanner_TypeMayBeOmitted(t *testing.T) {
	p := NewPlanner(Limits{})
	op := Operation{
		ID:     "1",
		Action: ActionDelete,
		Target: TargetSpec{Regex: &RegexTarget{Pattern: "x"}},
		Where:  PlaceReplaceMatch,
	}
	plan, err := p.Plan(TransactionRequest{Ops: []Operation{op}})
	require.NoError(t, err)
	assert.IsType(t, &RegexTarget{}, plan.Ops[0].Target)
}

func TestPlanner_SchemaErrors(t *testing.T) {
	p := NewPlanner(Limits{MaxOps: 2, MaxContentLength: 5, MaxPatternLength: 4, MaxFlagsLength: 2})
	valid := headingOp("ok", "A")

	tests := []struct {
		name  string
		req   TransactionRequest
		field string
	}{
		{"no ops", TransactionRequest{}, "ops"},
		{"too many ops", TransactionRequest{Ops: []Operation{headingOp("a", "A"), headingOp("b", "A"), headingOp("c", "A")}}, "ops"},
		{"duplicate ids", TransactionRequest{Ops: []Operation{headingOp("a", "A"), headingOp("a", "B")}}, "id"},
		{"bad mode", TransactionRequest{Ops: []Operation{valid}, Transaction: "sometimes"}, "transaction"},
		{"bad conflict", TransactionRequest{Ops: []Operation{valid}, ConflictStrategy: "merge"}, "conflict_strategy"},
		{"bad return", TransactionRequest{Ops: []Operation{valid}, Return: "html"}, "return"},
		{"bad key", TransactionRequest{Ops: []Operation{valid}, IdempotencyKey: "not-a-uuid"}, "idempotency_key"},
		{"missing id", TransactionRequest{Ops: []Operation{headingOp("", "A")}}, "ops[0].id"},
		{"bad action", TransactionRequest{Ops: []Operation{{ID: "x", Action: "move", Where: PlaceAt, Target: TargetSpec{Anchor: &AnchorTarget{Name: AnchorDocEnd}}}}}, "ops[0].action"},
		{"bad where", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionDelete, Where: "around", Target: TargetSpec{Anchor: &AnchorTarget{Name: AnchorDocEnd}}}}}, "ops[0].where"},
		{"missing content", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionInsert, Where: PlaceAt, Target: TargetSpec{Anchor: &AnchorTarget{Name: AnchorDocEnd}}}}}, "ops[0].content"},
		{"content too long", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionInsert, Where: PlaceAt, Content: strPtr("toolong"), Target: TargetSpec{Anchor: &AnchorTarget{Name: AnchorDocEnd}}}}}, "ops[0].content"},
		{"no variant", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionDelete, Where: PlaceAt}}}, "ops[0].target"},
		{"two variants", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionDelete, Where: PlaceAt, Target: TargetSpec{Anchor: &AnchorTarget{Name: AnchorDocEnd}, Position: &PositionTarget{Mode: PositionEnd}}}}}, "ops[0].target"},
		{"type mismatch", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionDelete, Where: PlaceAt, Target: TargetSpec{Type: TargetRegex, Anchor: &AnchorTarget{Name: AnchorDocEnd}}}}}, "ops[0].target.type"},
		{"upsert needs heading", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionUpsertSection, Where: PlaceAt, Content: strPtr("b"), Target: TargetSpec{Anchor: &AnchorTarget{Name: AnchorDocEnd}}}}}, "ops[0].target"},
		{"heading level", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionDelete, Where: PlaceAt, Target: TargetSpec{Heading: &HeadingTarget{Path: []string{"A"}, Level: 7}}}}}, "ops[0].target.heading.level"},
		{"empty heading", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionDelete, Where: PlaceAt, Target: TargetSpec{Heading: &HeadingTarget{}}}}}, "ops[0].target.heading"},
		{"pattern too long", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionDelete, Where: PlaceAt, Target: TargetSpec{Regex: &RegexTarget{Pattern: "abcde"}}}}}, "ops[0].target.regex.pattern"},
		{"flags too long", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionDelete, Where: PlaceAt, Target: TargetSpec{Regex: &RegexTarget{Pattern: "a", Flags: "gim"}}}}}, "ops[0].target.regex.flags"},
		{"nth zero", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionDelete, Where: PlaceAt, Target: TargetSpec{Regex: &RegexTarget{Pattern: "a", Nth: intPtr(0)}}}}}, "ops[0].target.regex.nth"},
		{"offset missing", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionDelete, Where: PlaceAt, Target: TargetSpec{Position: &PositionTarget{Mode: PositionOffset}}}}}, "ops[0].target.position.offset"},
		{"negative offset", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionDelete, Where: PlaceAt, Target: TargetSpec{Position: &PositionTarget{Mode: PositionOffset, Offset: intPtr(-1)}}}}}, "ops[0].target.position.offset"},
		{"bad anchor", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionDelete, Where: PlaceAt, Target: TargetSpec{Anchor: &AnchorTarget{Name: "middle"}}}}}, "ops[0].target.anchor.name"},
		{"blank lines bound", TransactionRequest{Ops: []Operation{{ID: "x", Action: ActionDelete, Where: PlaceAt, Options: &Options{SurroundWithBlankLines: 4}, Target: TargetSpec{Anchor: &AnchorTarget{Name: AnchorDocEnd}}}}}, "ops[0].options.surround_with_blank_lines"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := p.Plan(tt.req)
			require.Error(t, err)
			assert.Nil(t, plan)
			assert.True(t, errors.Is(err, ErrSchema))
			assert.Equal(t, CodeSchema, CodeOf(err))

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			var fields []string
			for _, issue := range ve.Issues {
				fields = append(fields, issue.Field)
			}
			assert.Contains(t, fields, tt.field, strings.Join(fields, ","))
		})
	}
}

func TestPlanner_CollectsEveryIssue(t *testing.T) {
	p := NewPlanner(Limits{})
	_, err := p.Plan(TransactionRequest{
		Return: "pdf",
		Ops: []Operation{
			{ID: "a", Action: "bogus", Where: PlaceAt, Target: TargetSpec{Anchor: &AnchorTarget{Name: AnchorDocEnd}}},
			{ID: "b", Action: ActionInsert, Where: "nowhere", Target: TargetSpec{Anchor: &AnchorTarget{Name: AnchorDocEnd}}},
		},
	})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.GreaterOrEqual(t, len(ve.Issues), 4)
}

func TestPlanner_AcceptsUUIDKey(t *testing.T) {
	p := NewPlanner(Limits{})
	plan, err := p.Plan(TransactionRequest{
		Ops:            []Operation{headingOp("1", "A")},
		IdempotencyKey: "6f1c2b8e-3d4a-4c5b-9e7f-0a1b2c3d4e5f",
		DryRun:         new(bool),
	})
	require.NoError(t, err)
	assert.False(t, plan.DryRun)
	assert.Equal(t, "6f1c2b8e-3d4a-4c5b-9e7f-0a1b2c3d4e5f", plan.IdempotencyKey)
}

func TestCode_HTTPStatus(t *testing.T) {
	assert.Equal(t, 422, CodeSchema.HTTPStatus())
	assert.Equal(t, 400, CodeRegexCompile.HTTPStatus())
	assert.Equal(t, 400, CodeRegexTimeout.HTTPStatus())
	assert.Equal(t, 400, CodeInvalidOperation.HTTPStatus())
	assert.Equal(t, 404, CodeTargetNotFound.HTTPStatus())
	assert.Equal(t, 404, CodeNoteNotFound.HTTPStatus())
	assert.Equal(t, 412, CodePreconditionFailed.HTTPStatus())
	assert.Equal(t, 500, CodeInternal.HTTPStatus())
}

func TestError_IsByCode(t *testing.T) {
	err := Errorf(CodeTargetNotFound, "nothing at %s", "x")
	assert.True(t, errors.Is(err, ErrTargetNotFound))
	assert.False(t, errors.Is(err, ErrRegexTimeout))

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, CodeTargetNotFound, ce.Code)
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}
