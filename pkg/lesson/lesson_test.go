package lesson

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/antibyte/emojivm/pkg/fixtures"
	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/validator"
	"github.com/antibyte/emojivm/pkg/vm"
)

const loopsLesson = `
schemaVersion: 1
id:    "loops"
title: "Loops"
steps: [{
	id:             "count"
	title:          "Count to five"
	starterSource:  "📥 0\n🛑\n"
	expectedOutput: ["5"]
}, {
	id:             "echo"
	inputs:         [7]
	expectedOutput: ["7"]
}, {
	id:             "bounded"
	expectedOutput: ["1"]
	limits: maxCycles: 20
}]
`

const countSource = "LOAD 0\nLOOP 5\nADD 1\nRETURN\nPRINT\nHALT"

func newLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader()
	require.NoError(t, err)
	return l
}

func loadLoops(t *testing.T) *shared.LessonRecord {
	t.Helper()
	rec, r := newLoader(t).Load("loops.cue", []byte(loopsLesson))
	require.NotNil(t, rec, "diagnostics: %v", r.Diagnostics)
	return rec
}

func TestLoadCUE(t *testing.T) {
	rec := loadLoops(t)
	assert.Equal(t, "loops", rec.ID)
	assert.Equal(t, shared.SchemaVersion, rec.SchemaVersion)
	require.Len(t, rec.Steps, 3)
	assert.Equal(t, "📥 0\n🛑\n", rec.Steps[0].StarterSource)
	assert.Equal(t, []int32{7}, rec.Steps[1].Inputs)
	require.NotNil(t, rec.Steps[2].Limits)
	assert.Equal(t, 20, rec.Steps[2].Limits.MaxCycles)
}

func TestLoadJSONAndDefaults(t *testing.T) {
	l := newLoader(t)

	data, err := json.Marshal(fixtures.Lesson())
	require.NoError(t, err)
	rec, r := l.Load("first.json", data)
	require.NotNil(t, rec, "diagnostics: %v", r.Diagnostics)
	assert.Equal(t, fixtures.Lesson(), rec)

	// schemaVersion defaults to the current version, unknown fields pass.
	rec, r = l.Load("min.json", []byte(`{"id": "min", "title": "Min", "steps": [{"id": "a", "expectedOutput": []}], "future": {"x": 1}}`))
	require.NotNil(t, rec, "diagnostics: %v", r.Diagnostics)
	assert.Equal(t, shared.SchemaVersion, rec.SchemaVersion)
	assert.NotEmpty(t, r.Warnings(), "empty expected output should warn")
}

func TestLoadRejectsBadContent(t *testing.T) {
	l := newLoader(t)
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `id: "x" steps: [`},
		{"missing id", `title: "t", steps: [{id: "a", expectedOutput: ["1"]}]`},
		{"no steps", `id: "x", steps: []`},
		{"wrong type", `id: "x", steps: [{id: "a", expectedOutput: [1]}]`},
		{"input out of range", `id: "x", steps: [{id: "a", inputs: [4294967296], expectedOutput: []}]`},
		{"zero limit", `id: "x", steps: [{id: "a", expectedOutput: [], limits: maxStackDepth: 0}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, r := l.Load(tt.name+".cue", []byte(tt.src))
			assert.Nil(t, rec)
			require.False(t, r.OK())
			assert.Equal(t, validator.CodeSchema, r.Errors()[0].Code)
		})
	}

	// Structural problems the schema cannot express come from the validator.
	rec, r := l.Load("dup.cue", []byte(`id: "x", steps: [{id: "a", expectedOutput: []}, {id: "a", expectedOutput: []}]`))
	assert.Nil(t, rec)
	require.False(t, r.OK())
	assert.Equal(t, validator.CodeDuplicate, r.Errors()[0].Code)
	assert.Equal(t, "steps[1].id", r.Errors()[0].Path)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	data, err := json.Marshal(fixtures.Lesson())
	require.NoError(t, err)
	files := map[string]string{
		"10-loops.cue":  loopsLesson,
		"20-first.json": string(data),
		"30-again.cue":  `id: "loops", steps: [{id: "a", expectedOutput: []}]`,
		"40-broken.cue": `id: `,
		"notes.txt":     "ignored",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	lessons, err := newLoader(t).LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, lessons, 2)
	assert.Equal(t, "loops", lessons[0].ID)
	assert.Len(t, lessons[0].Steps, 3)
	assert.Equal(t, "first-steps", lessons[1].ID)

	_, err = newLoader(t).LoadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	_, _, err = newLoader(t).LoadFile(filepath.Join(dir, "40-broken.cue"))
	assert.ErrorIs(t, err, ErrInvalidLesson)
}

func TestCuePath(t *testing.T) {
	assert.Equal(t, "steps[0].id", cuePath([]string{"steps", "0", "id"}))
	assert.Equal(t, "id", cuePath([]string{"#Lesson", "id"}))
	assert.Equal(t, "", cuePath(nil))
}

func TestCompareOutput(t *testing.T) {
	tests := []struct {
		got, want []string
		mismatch  int
	}{
		{nil, nil, -1},
		{[]string{"1", "2"}, []string{"1", "2"}, -1},
		{[]string{"1", "3"}, []string{"1", "2"}, 1},
		{[]string{"1"}, []string{"1", "2"}, 1},
		{[]string{"1", "2", "3"}, []string{"1", "2"}, 2},
		{[]string{" 1"}, []string{"1"}, 0},
		{nil, []string{"1"}, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.mismatch, CompareOutput(tt.got, tt.want), "%q vs %q", tt.got, tt.want)
	}
}

func TestGrade(t *testing.T) {
	lesson := loadLoops(t)
	g := NewGrader(vm.DefaultLimits(), nil)

	tests := []struct {
		name     string
		step     string
		source   string
		passed   bool
		mismatch int
		status   vm.Status
		reason   string
	}{
		{"correct", "count", countSource, true, -1, vm.StatusHalted, ""},
		{"emoji source", "count", "📥 0\n🔁 5\n➕ 1\n↩️\n🖨️\n🛑", true, -1, vm.StatusHalted, ""},
		{"wrong value", "count", "LOAD 4\nPRINT\nHALT", false, 0, vm.StatusHalted, `line 1 is "4", expected "5"`},
		{"extra line", "count", "LOAD 5\nPRINT\nPRINT\nHALT", false, 1, vm.StatusHalted, `unexpected extra line 2: "5"`},
		{"no output", "count", "HALT", false, 0, vm.StatusHalted, `line 1 missing, expected "5"`},
		{"runtime error", "count", "LOAD 5\nPRINT\nDIV 0", false, -1, vm.StatusError, "DIVISION BY ZERO"},
		{"echo input", "echo", "INPUT\nPRINT\nHALT", true, -1, vm.StatusHalted, ""},
		{"echo into register", "echo", "INPUT R3\nLOAD R3\nPRINT\nHALT", true, -1, vm.StatusHalted, ""},
		{"too many inputs", "echo", "INPUT\nINPUT\nPRINT\nHALT", false, 0, vm.StatusRunning, "more than the 1 inputs"},
		{"step limits", "bounded", "LOAD 1\nPRINT\ntop:\nJUMP top", false, -1, vm.StatusError, "PROGRAM RAN TOO LONG"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := g.GradeLesson(context.Background(), lesson, tt.step, tt.source)
			require.NoError(t, err)
			assert.Equal(t, "loops", res.LessonID)
			assert.Equal(t, tt.step, res.StepID)
			assert.Equal(t, tt.passed, res.Passed)
			assert.Equal(t, tt.mismatch, res.Mismatch)
			assert.Equal(t, tt.status, res.Status)
			assert.Contains(t, res.Reason, tt.reason)
			assert.Empty(t, res.Receipt, "no issuer configured")
		})
	}
}

func TestGradeLimitError(t *testing.T) {
	g := NewGrader(vm.DefaultLimits(), nil)
	step := fixtures.Step(fixtures.WithStepLimits(shared.LimitsRecord{MaxCycles: 20}))
	res, err := g.Grade(context.Background(), &step, "top:\nJUMP top")
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, vm.CodeCycleLimit, res.Error.Code)
	assert.True(t, res.Error.IsLimit())
	assert.Equal(t, 21, res.Snapshot.Stats.Cycles)
}

func TestGradeParseError(t *testing.T) {
	g := NewGrader(vm.DefaultLimits(), nil)
	step := fixtures.Step()
	res, err := g.Grade(context.Background(), &step, "LOAD\nJUMP nowhere")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Nil(t, res.Snapshot)
	assert.Len(t, res.Diagnostics, 2)
	assert.Contains(t, res.Reason, "does not parse")
}

func TestGradeErrors(t *testing.T) {
	g := NewGrader(vm.DefaultLimits(), nil)

	_, err := g.GradeLesson(context.Background(), fixtures.Lesson(), "nope", countSource)
	assert.ErrorIs(t, err, ErrUnknownStep)

	bad := fixtures.Step(fixtures.WithStepID(""))
	_, err = g.Grade(context.Background(), &bad, countSource)
	assert.ErrorIs(t, err, validator.ErrInvalid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	step := fixtures.Step()
	_, err = g.Grade(ctx, &step, countSource)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReceipts(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return now }

	g := NewGrader(vm.DefaultLimits(), issuer)
	res, err := g.GradeLesson(context.Background(), loadLoops(t), "count", countSource)
	require.NoError(t, err)
	require.True(t, res.Passed)
	require.NotEmpty(t, res.Receipt)

	claims, err := issuer.Verify(res.Receipt)
	require.NoError(t, err)
	assert.Equal(t, "loops", claims.LessonID)
	assert.Equal(t, "count", claims.StepID)
	assert.Equal(t, emoji.SourceID(countSource), claims.ProgramID)
	assert.Equal(t, res.Snapshot.Stats.Cycles, claims.Cycles)
	assert.Equal(t, "loops/count", claims.Subject)
	assert.NotEmpty(t, claims.ID)

	other := NewIssuer("other-secret", time.Hour)
	other.now = issuer.now
	_, err = other.Verify(res.Receipt)
	assert.ErrorIs(t, err, ErrInvalidReceipt)

	_, err = issuer.Verify(res.Receipt + "x")
	assert.ErrorIs(t, err, ErrInvalidReceipt)

	now = now.Add(2 * time.Hour)
	_, err = issuer.Verify(res.Receipt)
	assert.ErrorIs(t, err, ErrInvalidReceipt)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestFailedGradeHasNoReceipt(t *testing.T) {
	g := NewGrader(vm.DefaultLimits(), NewIssuer("s", 0))
	res, err := g.GradeLesson(context.Background(), loadLoops(t), "count", "HALT")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Empty(t, res.Receipt)
}
