package debugger

import (
	"fmt"
	"sort"

	"github.com/antibyte/emojivm/pkg/events"
	"github.com/antibyte/emojivm/pkg/logger"
	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/vm"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// fileOptions allow plain expressions only.
var fileOptions = &syntax.FileOptions{}

// checkExpr reports syntax errors in a watch or condition expression.
func checkExpr(expr string) error {
	_, err := fileOptions.ParseExpr("expr", expr, 0)
	return err
}

// environment exposes one snapshot to starlark expressions. Names:
// R0..R7, regs, mem, pc, cycles, steps, stack, output, eq, lt, gt, status.
type environment struct {
	globals starlark.StringDict
}

func newEnvironment(s *vm.Snapshot) *environment {
	g := make(starlark.StringDict, 20)

	regs := make([]starlark.Value, len(s.CPU.Registers))
	for i, r := range s.CPU.Registers {
		v := starlark.MakeInt(int(r))
		regs[i] = v
		g[fmt.Sprintf("R%d", i)] = v
	}
	g["regs"] = starlark.Tuple(regs)

	mem := make(starlark.Tuple, len(s.Memory))
	for i, b := range s.Memory {
		mem[i] = starlark.MakeInt(int(b))
	}
	g["mem"] = mem

	var stack starlark.Tuple
	for _, e := range s.Stack {
		if e.Kind == vm.FrameData {
			stack = append(stack, starlark.MakeInt(int(e.Value)))
		}
	}
	g["stack"] = stack

	output := make(starlark.Tuple, len(s.Output))
	for i, line := range s.Output {
		output[i] = starlark.String(line)
	}
	g["output"] = output

	g["pc"] = starlark.MakeInt(s.CPU.PC)
	g["cycles"] = starlark.MakeInt(s.Stats.Cycles)
	g["steps"] = starlark.MakeInt(s.Stats.Instructions)
	g["eq"] = starlark.Bool(s.CPU.Flags.Equal)
	g["lt"] = starlark.Bool(s.CPU.Flags.Less)
	g["gt"] = starlark.Bool(s.CPU.Flags.Greater)
	g["status"] = starlark.String(s.Status.String())

	g.Freeze()
	return &environment{globals: g}
}

func (e *environment) eval(expr string, maxSteps uint64) (starlark.Value, error) {
	thread := &starlark.Thread{Name: "watch"}
	thread.SetMaxExecutionSteps(maxSteps)
	return starlark.EvalOptions(fileOptions, thread, "expr", expr, e.globals)
}

func (e *environment) truth(expr string, maxSteps uint64) (bool, error) {
	v, err := e.eval(expr, maxSteps)
	if err != nil {
		return false, err
	}
	return bool(v.Truth()), nil
}

// WatchValue is the latest evaluation of a watch expression.
type WatchValue struct {
	ID    int
	Expr  string
	Value string
	Err   string
}

// Record converts the value to its wire form.
func (w WatchValue) Record() shared.WatchRecord {
	return shared.WatchRecord{ID: w.ID, Expr: w.Expr, Value: w.Value, Error: w.Err}
}

type watch struct {
	id    int
	expr  string
	value string
	err   string
}

// AddWatch registers an expression and evaluates it immediately.
func (d *Debugger) AddWatch(expr string) (WatchValue, error) {
	if err := checkExpr(expr); err != nil {
		return WatchValue{}, fmt.Errorf("%w: %v", ErrBadExpression, err)
	}
	d.nextWatchID++
	w := &watch{id: d.nextWatchID, expr: expr}
	d.watches[w.id] = w
	if d.m.Program() != nil {
		d.evaluate(w, newEnvironment(d.m.Snapshot()))
	}
	logger.Debug(logger.AreaDebugger, "watch %d added: %s", w.id, expr)
	return w.current(), nil
}

// RemoveWatch drops a watch expression.
func (d *Debugger) RemoveWatch(id int) error {
	if _, ok := d.watches[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNoWatch, id)
	}
	delete(d.watches, id)
	return nil
}

// Watches returns the current value of every watch ordered by id.
func (d *Debugger) Watches() []WatchValue {
	out := make([]WatchValue, 0, len(d.watches))
	for _, w := range d.watches {
		out = append(out, w.current())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *watch) current() WatchValue {
	return WatchValue{ID: w.id, Expr: w.expr, Value: w.value, Err: w.err}
}

// evaluateWatches re-evaluates every watch against the current snapshot.
func (d *Debugger) evaluateWatches() {
	if len(d.watches) == 0 {
		return
	}
	ids := make([]int, 0, len(d.watches))
	for id := range d.watches {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	env := newEnvironment(d.m.Snapshot())
	for _, id := range ids {
		d.evaluate(d.watches[id], env)
	}
}

func (d *Debugger) evaluate(w *watch, env *environment) {
	v, err := env.eval(w.expr, d.maxSteps)
	if err != nil {
		msg := err.Error()
		if msg != w.err {
			d.warn(fmt.Sprintf("watch %d (%s): %s", w.id, w.expr, msg))
		}
		w.value, w.err = "", msg
		return
	}
	w.value, w.err = v.String(), ""
}

// warn records a non-fatal problem and publishes it as an event.
func (d *Debugger) warn(msg string) {
	d.warnings = append(d.warnings, msg)
	if len(d.warnings) > maxWarnings {
		d.warnings = d.warnings[len(d.warnings)-maxWarnings:]
	}
	logger.Warn(logger.AreaDebugger, "%s", msg)
	d.m.Emit(events.Event{Kind: events.KindWatchWarning, Message: msg})
}
