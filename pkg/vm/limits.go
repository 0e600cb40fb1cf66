package vm

import (
	"fmt"
	"time"

	"github.com/antibyte/emojivm/pkg/configuration"
	"github.com/antibyte/emojivm/pkg/shared"
)

// Default resource limits. Tutorial programs stay far below them while an
// accidental infinite loop ends within a few milliseconds.
const (
	DefaultMaxCycles      = 10000
	DefaultMaxStackDepth  = 64
	DefaultMaxOutputLines = 256
)

// Limits bound a single run.
type Limits struct {
	MaxCycles      int
	MaxStackDepth  int
	MaxOutputLines int
}

// DefaultLimits returns the built-in limits.
func DefaultLimits() Limits {
	return Limits{
		MaxCycles:      DefaultMaxCycles,
		MaxStackDepth:  DefaultMaxStackDepth,
		MaxOutputLines: DefaultMaxOutputLines,
	}
}

// LimitsFromConfig reads the [Limits] section. Missing or non-positive
// values fall back to the defaults.
func LimitsFromConfig() Limits {
	l := Limits{
		MaxCycles:      configuration.GetInt("Limits", "max_cycles", DefaultMaxCycles),
		MaxStackDepth:  configuration.GetInt("Limits", "max_stack_depth", DefaultMaxStackDepth),
		MaxOutputLines: configuration.GetInt("Limits", "max_output_lines", DefaultMaxOutputLines),
	}
	return l.Normalize()
}

// Normalize replaces non-positive fields with the defaults.
func (l Limits) Normalize() Limits {
	d := DefaultLimits()
	if l.MaxCycles <= 0 {
		l.MaxCycles = d.MaxCycles
	}
	if l.MaxStackDepth <= 0 {
		l.MaxStackDepth = d.MaxStackDepth
	}
	if l.MaxOutputLines <= 0 {
		l.MaxOutputLines = d.MaxOutputLines
	}
	return l
}

// Validate reports the first non-positive field.
func (l Limits) Validate() error {
	switch {
	case l.MaxCycles <= 0:
		return fmt.Errorf("maxCycles must be positive, got %d", l.MaxCycles)
	case l.MaxStackDepth <= 0:
		return fmt.Errorf("maxStackDepth must be positive, got %d", l.MaxStackDepth)
	case l.MaxOutputLines <= 0:
		return fmt.Errorf("maxOutputLines must be positive, got %d", l.MaxOutputLines)
	}
	return nil
}

// Override applies the non-zero fields of a per-run override on top of l.
func (l Limits) Override(rec *shared.LimitsRecord) Limits {
	if rec == nil {
		return l
	}
	if rec.MaxCycles > 0 {
		l.MaxCycles = rec.MaxCycles
	}
	if rec.MaxStackDepth > 0 {
		l.MaxStackDepth = rec.MaxStackDepth
	}
	if rec.MaxOutputLines > 0 {
		l.MaxOutputLines = rec.MaxOutputLines
	}
	return l
}

// Record converts the limits to their exchange format.
func (l Limits) Record() shared.LimitsRecord {
	return shared.LimitsRecord{
		MaxCycles:      l.MaxCycles,
		MaxStackDepth:  l.MaxStackDepth,
		MaxOutputLines: l.MaxOutputLines,
	}
}

// Budget bounds one call to Run. Zero fields are unbounded; a Budget with
// both fields zero runs until the program stops.
type Budget struct {
	Instructions int
	Time         time.Duration
}

// Unlimited runs until the program halts, fails, pauses or waits for input.
var Unlimited = Budget{}

// BudgetFromConfig reads the [Runtime] section.
func BudgetFromConfig() Budget {
	return Budget{
		Instructions: configuration.GetInt("Runtime", "run_budget_instructions", 500),
		Time:         configuration.GetDuration("Runtime", "run_budget_time", 50*time.Millisecond),
	}
}
