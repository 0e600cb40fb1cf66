package debugger

import (
	"fmt"
	"sort"

	"github.com/antibyte/emojivm/pkg/logger"
	"github.com/antibyte/emojivm/pkg/shared"
)

// Location names an instruction either by index or by label.
type Location struct {
	Index int
	Label string
}

// AtIndex is a location given by instruction index.
func AtIndex(i int) Location { return Location{Index: i} }

// AtLabel is a location given by label name.
func AtLabel(name string) Location { return Location{Label: name} }

func (l Location) String() string {
	if l.Label != "" {
		return l.Label
	}
	return fmt.Sprintf("#%d", l.Index)
}

// Breakpoint pauses execution before the instruction at Index runs.
type Breakpoint struct {
	ID        int
	Index     int
	Label     string
	Condition string
	Enabled   bool
	Hits      int
}

// Record converts the breakpoint to its wire form.
func (b Breakpoint) Record() shared.BreakpointRecord {
	return shared.BreakpointRecord{
		ID:        b.ID,
		Index:     b.Index,
		Label:     b.Label,
		Condition: b.Condition,
		Enabled:   b.Enabled,
		Hits:      b.Hits,
	}
}

// resolve turns a location into an instruction index of the loaded program.
func (d *Debugger) resolve(loc Location) (int, error) {
	prog := d.m.Program()
	if prog == nil {
		return 0, ErrNoProgram
	}
	if loc.Label != "" {
		idx, ok := prog.ResolveLabel(loc.Label)
		if !ok {
			return 0, fmt.Errorf("%w: unknown label %q", ErrBadLocation, loc.Label)
		}
		if idx >= prog.Len() {
			return 0, fmt.Errorf("%w: label %q is past the last instruction", ErrBadLocation, loc.Label)
		}
		return idx, nil
	}
	if loc.Index < 0 || loc.Index >= prog.Len() {
		return 0, fmt.Errorf("%w: index %d outside 0..%d", ErrBadLocation, loc.Index, prog.Len()-1)
	}
	return loc.Index, nil
}

// SetBreakpoint adds an enabled breakpoint. condition may be empty; otherwise
// it is an expression over the machine state and the breakpoint only fires
// when it is true.
func (d *Debugger) SetBreakpoint(loc Location, condition string) (Breakpoint, error) {
	idx, err := d.resolve(loc)
	if err != nil {
		return Breakpoint{}, err
	}
	if condition != "" {
		if err := checkExpr(condition); err != nil {
			return Breakpoint{}, fmt.Errorf("%w: %v", ErrBadExpression, err)
		}
	}

	d.nextBreakID++
	bp := &Breakpoint{
		ID:        d.nextBreakID,
		Index:     idx,
		Label:     loc.Label,
		Condition: condition,
		Enabled:   true,
	}
	d.breaks[bp.ID] = bp
	logger.Debug(logger.AreaDebugger, "breakpoint %d set at %s (index %d)", bp.ID, loc, idx)
	return *bp, nil
}

// ClearBreakpoint removes a breakpoint.
func (d *Debugger) ClearBreakpoint(id int) error {
	if _, ok := d.breaks[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNoBreakpoint, id)
	}
	delete(d.breaks, id)
	logger.Debug(logger.AreaDebugger, "breakpoint %d cleared", id)
	return nil
}

// ClearBreakpoints removes all breakpoints.
func (d *Debugger) ClearBreakpoints() {
	d.breaks = make(map[int]*Breakpoint)
}

// EnableBreakpoint turns a breakpoint on or off without removing it.
func (d *Debugger) EnableBreakpoint(id int, enabled bool) error {
	bp, ok := d.breaks[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoBreakpoint, id)
	}
	bp.Enabled = enabled
	return nil
}

// Breakpoints lists all breakpoints ordered by id.
func (d *Debugger) Breakpoints() []Breakpoint {
	out := make([]Breakpoint, 0, len(d.breaks))
	for _, bp := range d.breaks {
		out = append(out, *bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// breakpointAt returns the first enabled breakpoint at pc whose condition
// holds. A condition that fails to evaluate counts as true and is reported
// as a warning.
func (d *Debugger) breakpointAt(pc int) *Breakpoint {
	var ids []int
	for id, bp := range d.breaks {
		if bp.Enabled && bp.Index == pc {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Ints(ids)

	var env *environment
	for _, id := range ids {
		bp := d.breaks[id]
		if bp.Condition == "" {
			return bp
		}
		if env == nil {
			env = newEnvironment(d.m.Snapshot())
		}
		ok, err := env.truth(bp.Condition, d.maxSteps)
		if err != nil {
			d.warn(fmt.Sprintf("breakpoint %d condition: %v", bp.ID, err))
			return bp
		}
		if ok {
			return bp
		}
	}
	return nil
}
