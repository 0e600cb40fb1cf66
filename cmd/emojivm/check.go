package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/antibyte/emojivm/pkg/lesson"
	"github.com/antibyte/emojivm/pkg/validator"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var kind string
	var asJSON bool

	checkCmd := &cobra.Command{
		Use:   "check FILE",
		Short: "Report parse diagnostics or validate an exchange record",
		Long: `Source files are parsed and their diagnostics printed.
JSON files are validated as the record named by --kind (program, snapshot or lesson).
CUE files are loaded as lessons.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			switch strings.ToLower(filepath.Ext(path)) {
			case ".json":
				return checkRecord(cmd, path, kind)
			case ".cue":
				return checkLesson(cmd, path)
			}

			p, err := readProgram(cmd, path)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(p.Record())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d instructions, %d labels, id %.12s\n",
				path, p.Len(), len(p.Labels), p.ID)
			return nil
		},
	}
	checkCmd.Flags().StringVar(&kind, "kind", "program", "Record kind of a JSON file: program, snapshot or lesson")
	checkCmd.Flags().BoolVar(&asJSON, "json", false, "Print the program record of a valid source file")
	return checkCmd
}

func checkRecord(cmd *cobra.Command, path, kind string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	v := validator.NewJSONValidator()
	var report validator.Report
	switch kind {
	case "program":
		_, report = v.DecodeProgram(data)
	case "snapshot":
		_, report = v.DecodeSnapshot(data)
	case "lesson":
		_, report = v.DecodeLesson(data)
	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
	return printReport(cmd, path, report)
}

func checkLesson(cmd *cobra.Command, path string) error {
	loader, err := lesson.NewLoader()
	if err != nil {
		return err
	}
	_, report, err := loader.LoadFile(path)
	if err != nil && len(report.Diagnostics) == 0 {
		return err
	}
	return printReport(cmd, path, report)
}

func printReport(cmd *cobra.Command, path string, report validator.Report) error {
	for _, d := range report.Diagnostics {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", path, d)
	}
	if err := report.Err(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d warnings\n", path, len(report.Warnings()))
	return nil
}

func newFmtCmd() *cobra.Command {
	var mnemonic, write bool

	fmtCmd := &cobra.Command{
		Use:   "fmt FILE",
		Short: "Print a program in canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProgram(cmd, args[0])
			if err != nil {
				return err
			}
			out := emoji.Format(p)
			if mnemonic {
				out = emoji.FormatMnemonic(p)
			}
			if write {
				return os.WriteFile(args[0], []byte(out), 0644)
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	fmtCmd.Flags().BoolVar(&mnemonic, "mnemonic", false, "Use mnemonics instead of emoji")
	fmtCmd.Flags().BoolVarP(&write, "write", "w", false, "Rewrite the file in place")
	return fmtCmd
}

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm FILE",
		Short: "List instructions with their indexes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readProgram(cmd, args[0])
			if err != nil {
				return err
			}
			for _, line := range emoji.Disassemble(p) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}
