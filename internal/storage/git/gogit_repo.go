// Implements repo using go-git (pure Go, no git binary dependency).

package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type goGitRepo struct {
	dir   string
	name  string
	email string
	repo  *gogit.Repository
}

func (r *goGitRepo) open() error {
	if r.repo != nil {
		return nil
	}
	repo, err := gogit.PlainOpen(r.dir)
	if err != nil {
		return fmt.Errorf("failed to open git repo in %s: %w", r.dir, err)
	}
	r.repo = repo
	return nil
}

func (r *goGitRepo) init(ctx context.Context) error {
	if repo, err := gogit.PlainOpen(r.dir); err == nil {
		r.repo = repo
		return nil
	} else if !errors.Is(err, gogit.ErrRepositoryNotExists) {
		return fmt.Errorf("failed to open git repo in %s: %w", r.dir, err)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainInit(r.dir, false)
	if err != nil {
		return fmt.Errorf("failed to initialize git repo: %w", err)
	}
	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("failed to read git config: %w", err)
	}
	cfg.User.Name = r.name
	cfg.User.Email = r.email
	if err := repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("failed to write git config: %w", err)
	}
	r.repo = repo
	if err := os.WriteFile(filepath.Join(r.dir, ".gitignore"), []byte(gitignore), 0o644); err != nil { //nolint:gosec // G306: 0o644 is intentional
		return fmt.Errorf("failed to write .gitignore: %w", err)
	}
	return r.commitAll(ctx, "Initial commit")
}

func (r *goGitRepo) commitAll(_ context.Context, message string) error {
	if err := r.open(); err != nil {
		return err
	}
	w, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := w.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return fmt.Errorf("failed to stage files: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	now := time.Now()
	sig := &object.Signature{Name: r.name, Email: r.email, When: now}
	if _, err := w.Commit(message, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (r *goGitRepo) history(_ context.Context, n int) ([]*Commit, error) {
	if err := r.open(); err != nil {
		return nil, err
	}
	iter, err := r.repo.Log(&gogit.LogOptions{})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var commits []*Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		h := c.Hash.String()
		commits = append(commits, &Commit{
			Hash:        h,
			ShortHash:   shortHash(h),
			Message:     subject,
			Author:      c.Author.Name,
			AuthorEmail: c.Author.Email,
			Date:        c.Author.When,
		})
	}
	return commits, nil
}

func (r *goGitRepo) status(_ context.Context) (*Status, error) {
	if err := r.open(); err != nil {
		return nil, err
	}
	w, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	st, err := w.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree status: %w", err)
	}
	out := &Status{ModifiedFiles: []string{}, AddedFiles: []string{}, DeletedFiles: []string{}}
	for path, fs := range st {
		switch {
		case fs.Worktree == gogit.Deleted || fs.Staging == gogit.Deleted:
			out.DeletedFiles = append(out.DeletedFiles, path)
		case fs.Worktree == gogit.Untracked || fs.Staging == gogit.Added:
			out.AddedFiles = append(out.AddedFiles, path)
		case fs.Worktree == gogit.Modified || fs.Staging == gogit.Modified || fs.Worktree == gogit.Renamed || fs.Staging == gogit.Renamed:
			out.ModifiedFiles = append(out.ModifiedFiles, path)
		}
	}
	out.finish()
	return out, nil
}
