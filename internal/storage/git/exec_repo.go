// Implements repo using os/exec git commands.

package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

type execRepo struct {
	dir   string
	name  string
	email string
}

func (r *execRepo) init(ctx context.Context) error {
	gitDir := filepath.Join(r.dir, ".git")
	if _, err := os.Stat(gitDir); err == nil {
		return nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create repo directory: %w", err)
	}
	if err := r.gitRun(ctx, "init"); err != nil {
		return fmt.Errorf("failed to initialize git repo: %w", err)
	}
	if err := r.gitRun(ctx, "config", "user.email", r.email); err != nil {
		return fmt.Errorf("failed to configure git user.email: %w", err)
	}
	if err := r.gitRun(ctx, "config", "user.name", r.name); err != nil {
		return fmt.Errorf("failed to configure git user.name: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.dir, ".gitignore"), []byte(gitignore), 0o644); err != nil { //nolint:gosec // G306: 0o644 is intentional
		return fmt.Errorf("failed to write .gitignore: %w", err)
	}
	return r.commitAll(ctx, "Initial commit")
}

func (r *execRepo) commitAll(ctx context.Context, message string) error {
	if out, err := r.gitCombinedOutput(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("failed to stage files: %w\nOutput: %s", err, string(out))
	}
	out, err := r.gitCombinedOutput(ctx, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if strings.TrimSpace(string(out)) == "" {
		return nil
	}
	if out, err := r.gitCombinedOutput(ctx, "commit", "-q", "-m", message); err != nil {
		return fmt.Errorf("failed to commit: %w\nOutput: %s", err, string(out))
	}
	return nil
}

func (r *execRepo) history(ctx context.Context, n int) ([]*Commit, error) {
	format := "%H%x00%an%x00%ae%x00%ai%x00%s%x1e"
	out, err := r.gitOutput(ctx, "log", "--pretty=format:"+format, fmt.Sprintf("-n%d", n))
	if err != nil {
		return nil, nil //nolint:nilerr // git log fails on a repository without commits, which is not an error condition
	}
	var commits []*Commit
	for record := range strings.SplitSeq(string(out), "\x1e") {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		parts := strings.Split(record, "\x00")
		if len(parts) < 5 {
			continue
		}
		date, _ := time.Parse("2006-01-02 15:04:05 -0700", parts[3])
		commits = append(commits, &Commit{
			Hash:        parts[0],
			ShortHash:   shortHash(parts[0]),
			Author:      parts[1],
			AuthorEmail: parts[2],
			Date:        date,
			Message:     parts[4],
		})
	}
	return commits, nil
}

func (r *execRepo) status(ctx context.Context) (*Status, error) {
	out, err := r.gitOutput(ctx, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	s := &Status{ModifiedFiles: []string{}, AddedFiles: []string{}, DeletedFiles: []string{}}
	for line := range strings.SplitSeq(string(out), "\n") {
		if len(line) < 4 {
			continue
		}
		xy, path := line[:2], strings.TrimSpace(line[3:])
		if _, after, ok := strings.Cut(path, " -> "); ok {
			path = after
		}
		switch {
		case strings.Contains(xy, "D"):
			s.DeletedFiles = append(s.DeletedFiles, path)
		case xy == "??" || strings.Contains(xy, "A"):
			s.AddedFiles = append(s.AddedFiles, path)
		default:
			s.ModifiedFiles = append(s.ModifiedFiles, path)
		}
	}
	s.finish()
	return s, nil
}

// gitCmd creates an exec.Cmd for git with standard environment settings.
func (r *execRepo) gitCmd(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(),
		"GIT_CONFIG_GLOBAL=/dev/null",
		"GIT_CONFIG_SYSTEM=/dev/null",
		"GIT_AUTHOR_NAME="+r.name,
		"GIT_AUTHOR_EMAIL="+r.email,
		"GIT_COMMITTER_NAME="+r.name,
		"GIT_COMMITTER_EMAIL="+r.email,
	)
	return cmd
}

// gitRun executes a git command using a detached context with timeout.
//
// The command is NOT tied to the caller's cancellation, so a commit completes
// even if the HTTP client disconnects.
func (r *execRepo) gitRun(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	return r.gitCmd(ctx, args...).Run()
}

// gitOutput executes a git command and returns its stdout.
func (r *execRepo) gitOutput(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	return r.gitCmd(ctx, args...).Output()
}

// gitCombinedOutput executes a git command and returns combined stdout/stderr.
func (r *execRepo) gitCombinedOutput(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	return r.gitCmd(ctx, args...).CombinedOutput()
}
