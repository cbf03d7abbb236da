package cli

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newSyncCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [bookID]",
		Short: "Synchronize book.json with the chapter files",
		Long: `Synchronize the chapter list of book.json with the chapter files on disk and
commit the result. Without a book id, every book is synchronized.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, afero.NewOsFs(), opts.dataDir)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(args) == 1 {
				changed, err := a.books.Sync(ctx, args[0])
				if err != nil {
					return err
				}
				if changed {
					_, _ = fmt.Fprintf(w, "%s: synchronized\n", args[0])
				} else {
					_, _ = fmt.Fprintf(w, "%s: up to date\n", args[0])
				}
				return nil
			}
			changed, err := a.books.SyncAll(ctx)
			for _, id := range changed {
				_, _ = fmt.Fprintf(w, "%s: synchronized\n", id)
			}
			return err
		},
	}
}
