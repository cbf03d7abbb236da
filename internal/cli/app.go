package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/maruel/mdbooks/internal/storage"
	"github.com/maruel/mdbooks/internal/storage/git"
)

// app holds the services opened on a data directory.
type app struct {
	cfg      *storage.Config
	books    *storage.BookRepository
	chapters *storage.ChapterRepository
	users    *storage.UserService
}

// openApp loads the configuration of dataDir, creating it with defaults when
// missing, and wires the repositories. The default admin is provisioned when
// there are no users.
func openApp(ctx context.Context, fsys afero.Fs, dataDir string) (*app, error) {
	dataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewFileStore(fsys, dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file store: %w", err)
	}
	cfg, err := storage.LoadConfig(store)
	if err != nil {
		return nil, err
	}
	vcs, err := git.New(cfg.Git.Backend, cfg.Git.AuthorName, cfg.Git.AuthorEmail)
	if err != nil {
		return nil, err
	}
	books, err := storage.NewBookRepository(store, vcs, storage.BooksDir, &storage.BookOptions{Reconcile: cfg.Reconcile})
	if err != nil {
		return nil, err
	}
	users := storage.NewUserService(store)
	if _, err := users.EnsureDefaultAdmin(ctx, cfg.DefaultAdmin); err != nil {
		return nil, fmt.Errorf("failed to create default admin: %w", err)
	}
	return &app{
		cfg:      cfg,
		books:    books,
		chapters: storage.NewChapterRepository(books),
		users:    users,
	}, nil
}
