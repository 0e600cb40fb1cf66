package main

import (
	"fmt"
	"time"

	"github.com/antibyte/emojivm/pkg/store"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history [PROGRAM_ID]",
		Short: "List cached programs, or the stored runs of one program",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.OpenFromConfig()
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				progs, err := st.Programs()
				if err != nil {
					return err
				}
				for _, p := range progs {
					fmt.Fprintf(out, "%s  valid=%-5v uses=%-4d last used %s\n",
						p.ID, p.Valid, p.Uses, p.LastUsed.Format(time.DateTime))
				}
				return nil
			}

			runs, err := st.Runs(args[0], limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %-7s %6d cycles  %s\n",
					r.ID, r.Status, r.Cycles, r.CreatedAt.Format(time.DateTime))
			}
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")
	return historyCmd
}
