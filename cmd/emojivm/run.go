package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antibyte/emojivm/pkg/events"
	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/store"
	"github.com/antibyte/emojivm/pkg/vm"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		inputs    []int32
		limitsRec shared.LimitsRecord
		trace     bool
		asJSON    bool
		save      bool
	)

	runCmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a program to completion and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProgram(cmd, args[0])
			if err != nil {
				return err
			}

			bus := events.NewBus()
			m := vm.New(vm.WithBus(bus))

			var traced chan struct{}
			if trace {
				pipe := events.NewPipe()
				bus.Subscribe(pipe.Handle)
				traced = make(chan struct{})
				go func() {
					defer close(traced)
					for e := range pipe.C() {
						fmt.Fprintln(cmd.ErrOrStderr(), e)
					}
				}()
				defer func() {
					pipe.Finish()
					<-traced
				}()
			}

			limits := vm.LimitsFromConfig().Override(&limitsRec)
			if err := m.Load(p, limits); err != nil {
				return err
			}
			m.QueueInput(inputs...)

			_, runErr := m.RunToEnd(cmd.Context())
			snap := m.Snapshot()

			if save {
				if err := saveRun(snap); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				}
			}

			if asJSON {
				rec := snap.Record()
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(rec); err != nil {
					return err
				}
			} else {
				for _, line := range snap.Output {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			}

			var rtErr *vm.RuntimeError
			switch {
			case runErr == nil:
				return nil
			case errors.Is(runErr, vm.ErrAwaitingInput):
				return fmt.Errorf("program asked for input #%d; pass more values with --input", len(inputs)+1)
			case errors.As(runErr, &rtErr):
				return fmt.Errorf("%s (line %d)", rtErr.Friendly(), rtErr.Line)
			}
			return runErr
		},
	}
	runCmd.Flags().Int32SliceVarP(&inputs, "input", "i", nil, "Values for INPUT, consumed in order (repeatable)")
	runCmd.Flags().IntVar(&limitsRec.MaxCycles, "max-cycles", 0, "Cycle limit (0 = configured default)")
	runCmd.Flags().IntVar(&limitsRec.MaxStackDepth, "max-stack", 0, "Stack depth limit (0 = configured default)")
	runCmd.Flags().IntVar(&limitsRec.MaxOutputLines, "max-output", 0, "Output line limit (0 = configured default)")
	runCmd.Flags().BoolVar(&trace, "trace", false, "Print every runtime event to stderr")
	runCmd.Flags().BoolVar(&asJSON, "json", false, "Print the final snapshot record instead of the output")
	runCmd.Flags().BoolVar(&save, "save", false, "Store the run in the configured database")
	return runCmd
}

func saveRun(snap *vm.Snapshot) error {
	st, err := store.OpenFromConfig()
	if err != nil {
		return err
	}
	defer st.Close()
	return st.SaveRun(snap)
}
