package lesson

import (
	"context"
	"errors"
	"fmt"

	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/antibyte/emojivm/pkg/logger"
	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/validator"
	"github.com/antibyte/emojivm/pkg/vm"
)

// Result is the outcome of grading one submission.
type Result struct {
	LessonID string
	StepID   string
	Passed   bool

	// Mismatch is the first output line that differs from the expected
	// output, or -1 when the output matches.
	Mismatch int
	Output   []string
	Expected []string

	Status      vm.Status
	Error       *vm.RuntimeError
	Diagnostics []emoji.Diagnostic
	Reason      string
	Snapshot    *vm.Snapshot
	Receipt     string
}

// CompareOutput compares line by line with exact string matches and returns
// the index of the first difference, or -1 when got equals want.
func CompareOutput(got, want []string) int {
	n := len(got)
	if len(want) < n {
		n = len(want)
	}
	for i := 0; i < n; i++ {
		if got[i] != want[i] {
			return i
		}
	}
	if len(got) != len(want) {
		return n
	}
	return -1
}

// Grader runs submissions against lesson steps.
type Grader struct {
	limits vm.Limits
	issuer *Issuer
}

// NewGrader returns a grader using limits as the base for every step.
// issuer may be nil, then no receipts are issued.
func NewGrader(limits vm.Limits, issuer *Issuer) *Grader {
	return &Grader{limits: limits.Normalize(), issuer: issuer}
}

// GradeLesson grades source against the step stepID of lesson.
func (g *Grader) GradeLesson(ctx context.Context, lesson *shared.LessonRecord, stepID, source string) (*Result, error) {
	step, ok := lesson.Step(stepID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownStep, lesson.ID, stepID)
	}
	res, err := g.Grade(ctx, step, source)
	if err != nil {
		return nil, err
	}
	res.LessonID = lesson.ID
	if res.Passed && g.issuer != nil {
		res.Receipt, err = g.issuer.Issue(lesson.ID, step.ID, res.Snapshot.ProgramID, res.Snapshot.Stats.Cycles)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Grade runs source with the step's inputs and limits and compares its
// output with the expected output. A wrong program is a failed Result, not
// an error; errors mean the step itself is unusable or ctx ended the run.
func (g *Grader) Grade(ctx context.Context, step *shared.StepRecord, source string) (*Result, error) {
	if r := validator.ValidateStep(step); !r.OK() {
		return nil, r.Err()
	}

	res := &Result{
		StepID:   step.ID,
		Mismatch: -1,
		Expected: step.ExpectedOutput,
	}

	prog := emoji.Parse(source)
	res.Diagnostics = prog.Diagnostics
	if !prog.Valid {
		res.Reason = fmt.Sprintf("program does not parse: %v", prog.Err())
		return res, nil
	}

	m := vm.New()
	if err := m.Load(prog, g.limits.Override(step.Limits)); err != nil {
		return nil, err
	}
	m.QueueInput(step.Inputs...)

	status, err := m.RunToEnd(ctx)
	res.Status = status
	res.Snapshot = m.Snapshot()
	res.Output = res.Snapshot.Output
	res.Error = res.Snapshot.Error

	var rerr *vm.RuntimeError
	switch {
	case err == nil:
	case errors.Is(err, vm.ErrAwaitingInput):
		res.Reason = fmt.Sprintf("program asked for more than the %d inputs this step provides", len(step.Inputs))
	case errors.As(err, &rerr):
		res.Reason = rerr.Friendly()
	default:
		return nil, err
	}

	res.Mismatch = CompareOutput(res.Output, step.ExpectedOutput)
	res.Passed = status == vm.StatusHalted && res.Mismatch < 0
	if !res.Passed && res.Reason == "" {
		res.Reason = mismatchReason(res)
	}

	logger.Info(logger.AreaLesson, "step %s graded: passed=%v status=%s cycles=%d",
		step.ID, res.Passed, status, res.Snapshot.Stats.Cycles)
	return res, nil
}

func mismatchReason(res *Result) string {
	i := res.Mismatch
	switch {
	case i >= len(res.Output):
		return fmt.Sprintf("line %d missing, expected %q", i+1, res.Expected[i])
	case i >= len(res.Expected):
		return fmt.Sprintf("unexpected extra line %d: %q", i+1, res.Output[i])
	}
	return fmt.Sprintf("line %d is %q, expected %q", i+1, res.Output[i], res.Expected[i])
}
