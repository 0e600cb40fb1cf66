package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/antibyte/emojivm/pkg/lesson"
	"github.com/antibyte/emojivm/pkg/vm"
	"github.com/spf13/cobra"
)

func newGradeCmd() *cobra.Command {
	gradeCmd := &cobra.Command{
		Use:   "grade LESSON STEP FILE",
		Short: "Grade a program against one lesson step",
		Long: `Runs FILE with the inputs of step STEP from the lesson file LESSON (.cue or .json)
and compares its output line by line. A passed step prints a signed receipt.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := lesson.NewLoader()
			if err != nil {
				return err
			}
			rec, report, err := loader.LoadFile(args[0])
			for _, d := range report.Diagnostics {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", args[0], d)
			}
			if err != nil {
				return err
			}

			source, err := os.ReadFile(args[2])
			if err != nil {
				return err
			}

			grader := lesson.NewGrader(vm.LimitsFromConfig(), lesson.IssuerFromConfig())
			res, err := grader.GradeLesson(cmd.Context(), rec, args[1], string(source))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, d := range res.Diagnostics {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s:%s\n", args[2], d)
			}
			if !res.Passed {
				fmt.Fprintf(out, "FAIL %s/%s: %s\n", res.LessonID, res.StepID, res.Reason)
				if len(res.Output) > 0 {
					fmt.Fprintf(out, "output:   %s\n", strings.Join(res.Output, " "))
				}
				fmt.Fprintf(out, "expected: %s\n", strings.Join(res.Expected, " "))
				return fmt.Errorf("step %s not passed", res.StepID)
			}
			fmt.Fprintf(out, "PASS %s/%s in %d cycles\n", res.LessonID, res.StepID, res.Snapshot.Stats.Cycles)
			fmt.Fprintf(out, "receipt: %s\n", res.Receipt)
			return nil
		},
	}
	return gradeCmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify RECEIPT",
		Short: "Check a completion receipt and print what it certifies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claims, err := lesson.IssuerFromConfig().Verify(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lesson %s step %s passed by program %.12s in %d cycles, expires %s\n",
				claims.LessonID, claims.StepID, claims.ProgramID, claims.Cycles,
				claims.ExpiresAt.Time.Format(time.RFC3339))
			return nil
		},
	}
}
