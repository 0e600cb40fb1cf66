package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/antibyte/emojivm/pkg/debugger"
	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/antibyte/emojivm/pkg/events"
	"github.com/antibyte/emojivm/pkg/logger"
	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/store"
	"github.com/antibyte/emojivm/pkg/vm"
)

var (
	ErrBusy          = errors.New("a run is already in progress")
	ErrUnknownAction = errors.New("unknown action")
	ErrNoLocation    = errors.New("breakpoint needs an index or a label")
)

// Session owns one Machine and its Debugger. Commands are applied under a
// single lock and every reply, including the events the command caused, is
// sent in order before the lock is released.
type Session struct {
	mu      sync.Mutex
	machine *vm.Machine
	dbg     *debugger.Debugger
	store   *store.Store
	send    func(...shared.Message) bool
	budget  vm.Budget
	outbox  []shared.Message

	ctx       context.Context
	cancel    context.CancelFunc
	runDone   chan struct{}
	runCancel context.CancelFunc

	resumeOnInput bool   // a background run stopped at INPUT
	savedRun      string // last run id written to the store
}

// NewSession creates an empty session. st may be nil.
func NewSession(st *store.Store, send func(...shared.Message) bool) *Session {
	bus := events.NewBus()
	m := vm.New(vm.WithBus(bus))
	s := &Session{
		machine: m,
		dbg:     debugger.New(m),
		store:   st,
		send:    send,
		budget:  vm.BudgetFromConfig(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	bus.Subscribe(s.collect)
	return s
}

// collect runs synchronously inside machine calls, so s.mu is held.
func (s *Session) collect(e events.Event) {
	rec := e.Record()
	s.outbox = append(s.outbox, shared.Message{Type: shared.MessageTypeEvent, Event: &rec})
}

// flush sends pending events followed by msgs. Caller holds s.mu.
func (s *Session) flush(msgs ...shared.Message) {
	out := append(s.outbox, msgs...)
	s.outbox = nil
	if len(out) > 0 {
		s.send(out...)
	}
}

// Close stops a background run and releases the session.
func (s *Session) Close() {
	s.cancel()
	s.stopRun()
}

// Dispatch applies one command.
func (s *Session) Dispatch(cmd shared.Command) {
	if cmd.Action == shared.ActionLoad || cmd.Action == shared.ActionReset {
		s.stopRun()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.apply(cmd)
	if err != nil {
		logger.WebSocketDebug("%s failed: %v", cmd.Action, err)
		out = append(out, shared.Message{Type: shared.MessageTypeError, Content: err.Error()})
	}
	for i := range out {
		out[i].Command = cmd.Action
	}
	s.flush(out...)
}

func (s *Session) apply(cmd shared.Command) ([]shared.Message, error) {
	switch cmd.Action {
	case shared.ActionLoad:
		return s.load(cmd)

	case shared.ActionStep:
		if s.runDone != nil {
			return nil, ErrBusy
		}
		err := s.dbg.StepInto()
		return s.stopped(false, err), nil

	case shared.ActionRun, shared.ActionContinue:
		if s.machine.Program() == nil {
			return nil, debugger.ErrNoProgram
		}
		if s.machine.Status().Terminal() {
			if cmd.Action == shared.ActionContinue {
				return nil, vm.ErrNotRunnable
			}
			if err := s.dbg.Reset(); err != nil {
				return nil, err
			}
		}
		if err := s.startRun(); err != nil {
			return nil, err
		}
		return []shared.Message{ack()}, nil

	case shared.ActionPause:
		if err := s.dbg.Pause(); err != nil {
			return nil, err
		}
		return s.state(), nil

	case shared.ActionReset:
		if err := s.dbg.Reset(); err != nil {
			return nil, err
		}
		s.resumeOnInput = false
		return s.state(), nil

	case shared.ActionInput:
		if err := s.machine.ProvideInput(cmd.Value); err != nil {
			return nil, err
		}
		if s.resumeOnInput {
			s.resumeOnInput = false
			if err := s.startRun(); err != nil {
				return nil, err
			}
		}
		return []shared.Message{ack()}, nil

	case shared.ActionSnapshot:
		return []shared.Message{s.snapshot("")}, nil

	case shared.ActionBreakSet:
		var loc debugger.Location
		switch {
		case cmd.Label != "":
			loc = debugger.AtLabel(cmd.Label)
		case cmd.Index != nil:
			loc = debugger.AtIndex(*cmd.Index)
		default:
			return nil, ErrNoLocation
		}
		if _, err := s.dbg.SetBreakpoint(loc, cmd.Condition); err != nil {
			return nil, err
		}
		return []shared.Message{s.breakpoints()}, nil

	case shared.ActionBreakClear:
		if cmd.ID == 0 {
			s.dbg.ClearBreakpoints()
		} else if err := s.dbg.ClearBreakpoint(cmd.ID); err != nil {
			return nil, err
		}
		return []shared.Message{s.breakpoints()}, nil

	case shared.ActionBreakEnable, shared.ActionBreakDisable:
		if err := s.dbg.EnableBreakpoint(cmd.ID, cmd.Action == shared.ActionBreakEnable); err != nil {
			return nil, err
		}
		return []shared.Message{s.breakpoints()}, nil

	case shared.ActionListBreaks:
		return []shared.Message{s.breakpoints()}, nil

	case shared.ActionWatchAdd:
		if _, err := s.dbg.AddWatch(cmd.Expr); err != nil {
			return nil, err
		}
		return []shared.Message{s.watches()}, nil

	case shared.ActionWatchRemove:
		if err := s.dbg.RemoveWatch(cmd.ID); err != nil {
			return nil, err
		}
		return []shared.Message{s.watches()}, nil

	case shared.ActionListWatches:
		return []shared.Message{s.watches()}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
}

func (s *Session) load(cmd shared.Command) ([]shared.Message, error) {
	var p *emoji.Program
	if s.store != nil {
		var cached bool
		var err error
		p, cached, err = s.store.Parse(cmd.Source)
		if err != nil {
			logger.Warn(logger.AreaStore, "program cache unavailable: %v", err)
			p = nil
		} else if cached {
			logger.WebSocketDebug("program %.12s served from cache", p.ID)
		}
	}
	if p == nil {
		p = emoji.Parse(cmd.Source)
	}

	rec := p.Record()
	out := []shared.Message{{Type: shared.MessageTypeDiagnostics, Diagnostics: rec.Diagnostics, Content: p.ID}}
	if !p.Valid {
		return out, vm.ErrInvalidProgram
	}

	limits := vm.LimitsFromConfig().Override(&shared.LimitsRecord{
		MaxCycles:      cmd.MaxCycles,
		MaxStackDepth:  cmd.MaxStackDepth,
		MaxOutputLines: cmd.MaxOutputLines,
	})
	if err := s.machine.Load(p, limits); err != nil {
		return out, err
	}
	s.dbg.Attach()
	s.resumeOnInput = false
	return append(out, s.state()...), nil
}

// startRun continues the program in the background. Caller holds s.mu.
func (s *Session) startRun() error {
	if s.runDone != nil {
		return ErrBusy
	}
	if err := s.machine.Start(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.runDone, s.runCancel = done, cancel
	go s.runLoop(ctx, cancel, done)
	return nil
}

// stopRun cancels a background run and waits for it. Caller must not hold s.mu.
func (s *Session) stopRun() {
	s.mu.Lock()
	done, cancel := s.runDone, s.runCancel
	s.mu.Unlock()
	if done != nil {
		cancel()
		<-done
	}
}

// runLoop feeds the debugger one budget at a time so that pause and other
// commands get the lock between slices.
func (s *Session) runLoop(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	for {
		s.mu.Lock()
		if s.machine.Status() != vm.StatusRunning {
			// paused or reset by another command, which already replied
			s.finishRun(done)
			s.mu.Unlock()
			return
		}

		status, err := s.dbg.Continue(ctx, s.budget)
		finished := err != nil || status != vm.StatusRunning
		if errors.Is(err, context.Canceled) {
			s.outbox = nil
			s.finishRun(done)
			s.mu.Unlock()
			return
		}
		if finished {
			out := s.stopped(true, err)
			for i := range out {
				out[i].Command = shared.ActionRun
			}
			s.finishRun(done)
			s.flush(out...)
			s.mu.Unlock()
			return
		}
		s.flush()
		s.mu.Unlock()
	}
}

func (s *Session) finishRun(done chan struct{}) {
	if s.runDone == done {
		s.runDone, s.runCancel = nil, nil
	}
}

// stopped builds the reply after the machine stopped executing. background
// marks a run that should resume by itself once input arrives.
func (s *Session) stopped(background bool, err error) []shared.Message {
	var out []shared.Message
	var rtErr *vm.RuntimeError
	content := ""
	switch {
	case err == nil:
	case errors.Is(err, vm.ErrAwaitingInput):
		s.resumeOnInput = background
		out = append(out, shared.Message{Type: shared.MessageTypeInput, Content: "program waits for a number"})
	case errors.As(err, &rtErr):
		content = rtErr.Friendly()
	default:
		out = append(out, shared.Message{Type: shared.MessageTypeError, Content: err.Error()})
	}

	if s.machine.Status().Terminal() {
		s.saveRun()
	}
	return append(out, s.stateWith(content)...)
}

// saveRun persists a finished run once.
func (s *Session) saveRun() {
	if s.store == nil {
		return
	}
	snap := s.machine.Snapshot()
	if snap.RunID == s.savedRun {
		return
	}
	if err := s.store.SaveRun(snap); err != nil {
		logger.Error(logger.AreaStore, "save run %s: %v", snap.RunID, err)
		return
	}
	s.savedRun = snap.RunID
}

func (s *Session) state() []shared.Message {
	return s.stateWith("")
}

// stateWith returns the snapshot, followed by watch values when any exist.
func (s *Session) stateWith(content string) []shared.Message {
	out := []shared.Message{s.snapshot(content)}
	if len(s.dbg.Watches()) > 0 {
		out = append(out, s.watches())
	}
	return out
}

func (s *Session) snapshot(content string) shared.Message {
	rec := s.machine.Snapshot().Record()
	return shared.Message{Type: shared.MessageTypeSnapshot, Snapshot: &rec, Content: content}
}

func (s *Session) breakpoints() shared.Message {
	bps := s.dbg.Breakpoints()
	recs := make([]shared.BreakpointRecord, 0, len(bps))
	for _, bp := range bps {
		recs = append(recs, bp.Record())
	}
	return shared.Message{Type: shared.MessageTypeBreakpoints, Breakpoints: recs}
}

func (s *Session) watches() shared.Message {
	ws := s.dbg.Watches()
	recs := make([]shared.WatchRecord, 0, len(ws))
	for _, w := range ws {
		recs = append(recs, w.Record())
	}
	return shared.Message{Type: shared.MessageTypeWatches, Watches: recs}
}

func ack() shared.Message {
	return shared.Message{Type: shared.MessageTypeAck}
}
