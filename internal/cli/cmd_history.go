package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *globalOpts) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <bookID>",
		Short: "Print the commits of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, afero.NewOsFs(), opts.dataDir)
			if err != nil {
				return err
			}
			commits, err := a.books.History(ctx, args[0], limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, c := range commits {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ShortHash, c.Date.Local().Format("2006-01-02 15:04"), c.Author, c.Message)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of commits (default 50)")
	return cmd
}
