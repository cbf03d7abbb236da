// Package git versions book directories. Each book directory is its own
// repository and every mutation ends with a CommitAll.
package git

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// DefaultHistoryLimit is the number of commits History returns when n <= 0.
const DefaultHistoryLimit = 50

// maxHistoryLimit caps n in History.
const maxHistoryLimit = 1000

// gitignore is written to every new repository.
const gitignore = "*.tmp\n*.log\n"

// Backend is the version control collaborator used by the repositories.
type Backend interface {
	// Init initializes a repository in dir if there is none yet. A new
	// repository gets a .gitignore and an "Initial commit".
	Init(ctx context.Context, dir string) error
	// CommitAll stages every change under dir, deletions included, and commits
	// them with message. It succeeds without committing when nothing changed.
	CommitAll(ctx context.Context, dir, message string) error
	// History returns up to n commits, newest first. n <= 0 means
	// DefaultHistoryLimit.
	History(ctx context.Context, dir string, n int) ([]*Commit, error)
	// Status returns the uncommitted changes under dir.
	Status(ctx context.Context, dir string) (*Status, error)
}

// Kind selects which git implementation to use.
type Kind string

const (
	// KindGoGit uses go-git (pure Go, no git binary needed). This is the default.
	KindGoGit Kind = "gogit"
	// KindExec uses the git CLI via os/exec.
	KindExec Kind = "exec"
)

// Commit represents a commit in git history.
type Commit struct {
	Hash        string    `json:"hash"`
	ShortHash   string    `json:"shortHash"`
	Message     string    `json:"message"` // Subject line.
	Author      string    `json:"author"`
	AuthorEmail string    `json:"authorEmail"`
	Date        time.Time `json:"date"`
}

// Status lists uncommitted changes, paths relative to the repository root.
type Status struct {
	HasChanges    bool     `json:"hasChanges"`
	ModifiedFiles []string `json:"modifiedFiles"`
	AddedFiles    []string `json:"addedFiles"`
	DeletedFiles  []string `json:"deletedFiles"`
}

func (s *Status) finish() {
	slices.Sort(s.ModifiedFiles)
	slices.Sort(s.AddedFiles)
	slices.Sort(s.DeletedFiles)
	s.HasChanges = len(s.ModifiedFiles)+len(s.AddedFiles)+len(s.DeletedFiles) != 0
}

// repo is one repository handled by a Manager.
type repo interface {
	init(ctx context.Context) error
	commitAll(ctx context.Context, message string) error
	history(ctx context.Context, n int) ([]*Commit, error)
	status(ctx context.Context) (*Status, error)
}

// Manager implements Backend and caches one repository per directory.
//
// Calls on the same directory are serialized.
type Manager struct {
	kind  Kind
	name  string
	email string
	repos sync.Map // abs dir -> *entry
}

type entry struct {
	mu sync.Mutex
	r  repo
}

// New returns a Manager using the given implementation. Empty name and email
// default to "mdbooks" and "mdbooks@localhost".
func New(kind Kind, name, email string) (*Manager, error) {
	switch kind {
	case "":
		kind = KindGoGit
	case KindGoGit, KindExec:
	default:
		return nil, fmt.Errorf("unknown git backend %q", kind)
	}
	if name == "" {
		name = "mdbooks"
	}
	if email == "" {
		email = "mdbooks@localhost"
	}
	return &Manager{kind: kind, name: name, email: email}, nil
}

// Kind returns the implementation in use.
func (m *Manager) Kind() Kind {
	return m.kind
}

func (m *Manager) entry(dir string) (*entry, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if e, ok := m.repos.Load(abs); ok {
		return e.(*entry), nil
	}
	var r repo
	switch m.kind {
	case KindExec:
		r = &execRepo{dir: abs, name: m.name, email: m.email}
	default:
		r = &goGitRepo{dir: abs, name: m.name, email: m.email}
	}
	e, _ := m.repos.LoadOrStore(abs, &entry{r: r})
	return e.(*entry), nil
}

func (m *Manager) do(dir string, fn func(r repo) error) error {
	e, err := m.entry(dir)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.r)
}

// Init implements Backend.
func (m *Manager) Init(ctx context.Context, dir string) error {
	return m.do(dir, func(r repo) error { return r.init(ctx) })
}

// CommitAll implements Backend.
func (m *Manager) CommitAll(ctx context.Context, dir, message string) error {
	return m.do(dir, func(r repo) error { return r.commitAll(ctx, message) })
}

// History implements Backend.
func (m *Manager) History(ctx context.Context, dir string, n int) ([]*Commit, error) {
	if n <= 0 {
		n = DefaultHistoryLimit
	}
	n = min(n, maxHistoryLimit)
	var out []*Commit
	err := m.do(dir, func(r repo) error {
		var err error
		out, err = r.history(ctx, n)
		return err
	})
	return out, err
}

// Status implements Backend.
func (m *Manager) Status(ctx context.Context, dir string) (*Status, error) {
	var out *Status
	err := m.do(dir, func(r repo) error {
		var err error
		out, err = r.status(ctx)
		return err
	})
	return out, err
}

// Forget drops the cached state of dir, typically after the directory was
// removed.
func (m *Manager) Forget(dir string) {
	if abs, err := filepath.Abs(dir); err == nil {
		m.repos.Delete(abs)
	}
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
