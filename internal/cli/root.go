// Package cli provides the cobra command tree of mdbooks.
package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// globalOpts holds the flags shared by every subcommand.
type globalOpts struct {
	dataDir  string
	logLevel string
}

// NewRootCmd creates the root cobra command for mdbooks.
func NewRootCmd() *cobra.Command {
	opts := &globalOpts{}
	rootCmd := &cobra.Command{
		Use:   "mdbooks",
		Short: "File-backed Markdown books with git history",
		Long: `mdbooks - file-backed Markdown books with git history

Books live in <data-dir>/Books, one directory per book holding book.json and
its chapters as Markdown files. Every change is committed to the git
repository of the book. Chapter files edited outside of mdbooks are picked up
on the next read, or at once with "serve --watch".`,
		Version:       version(),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := parseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), lvl))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "./data", "Data directory")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newServeCmd(opts),
		newSyncCmd(opts),
		newHistoryCmd(opts),
		newSchemaCmd(),
		newUserCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command with the given output writers.
func Execute(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	rootCmd := NewRootCmd()
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
