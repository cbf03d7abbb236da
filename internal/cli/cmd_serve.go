package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/maruel/mdbooks/internal/server"
	"github.com/maruel/mdbooks/internal/storage"
)

func newServeCmd(opts *globalOpts) *cobra.Command {
	var httpAddr string
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Long: `Serve the JSON API until interrupted.

With --watch, chapter files created, removed or renamed by other tools are
synchronized into book.json as soon as they change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts, httpAddr, watch)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "localhost:8080", "Address to listen on (e.g., localhost:8080, :8080, 0.0.0.0:8080)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Synchronize books when chapter files change on disk")
	return cmd
}

func serve(ctx context.Context, opts *globalOpts, httpAddr string, watch bool) error {
	a, err := openApp(ctx, afero.NewOsFs(), opts.dataDir)
	if err != nil {
		return err
	}
	if watch {
		if err := storage.NewWatcher(a.books, 0).Start(ctx); err != nil {
			return fmt.Errorf("failed to watch books: %w", err)
		}
	}

	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Handler: server.NewRouter(ctx, &server.Services{
			Config:   a.cfg,
			Books:    a.books,
			Chapters: a.chapters,
			Users:    a.users,
			Version:  version(),
		}),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", ln.Addr().String(), "site", a.cfg.SiteName)
		serverErr <- httpServer.Serve(ln)
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}
