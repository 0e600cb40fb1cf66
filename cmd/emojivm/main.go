package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/antibyte/emojivm/pkg/configuration"
	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "emojivm",
		Short:         "Run, check and grade emoji machine programs",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return nil
			}
			if err := configuration.Reload(configPath); err != nil {
				return fmt.Errorf("load config %s: %w", configPath, err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (built-in defaults when empty)")

	rootCmd.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newFmtCmd(),
		newDisasmCmd(),
		newGradeCmd(),
		newVerifyCmd(),
		newHistoryCmd(),
	)
	return rootCmd
}

// readProgram reads and parses a source file. Diagnostics are printed; an
// invalid program is an error.
func readProgram(cmd *cobra.Command, path string) (*emoji.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := emoji.Parse(string(data))
	for _, d := range p.Diagnostics {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s:%s\n", path, d)
	}
	if !p.Valid {
		return p, fmt.Errorf("%s: %d errors", path, len(p.Errors()))
	}
	return p, nil
}
