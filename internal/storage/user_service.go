package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/maruel/ksid"
	"golang.org/x/crypto/bcrypt"

	apierrors "github.com/maruel/mdbooks/internal/errors"
	"github.com/maruel/mdbooks/internal/models"
)

const usersFile = "users.json"

// UserService handles user management and authentication.
//
// Users are stored as a JSON array in Config/users.json. Every call reads
// the file and every mutation rewrites it.
type UserService struct {
	store *FileStore
	path  string
	cost  int
	now   func() time.Time

	mu sync.Mutex
}

// NewUserService creates a user service storing users below the store root.
func NewUserService(store *FileStore) *UserService {
	return &UserService{
		store: store,
		path:  filepath.Join(ConfigDir, usersFile),
		cost:  bcrypt.DefaultCost,
		now:   time.Now,
	}
}

// List returns every user, sorted by username.
func (s *UserService) List() ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.read()
	if err != nil {
		return nil, err
	}
	slices.SortFunc(users, func(a, b *models.User) int {
		return strings.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username))
	})
	return users, nil
}

// Count returns the number of users.
func (s *UserService) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.read()
	return len(users), err
}

// GetByID retrieves a user by ID.
func (s *UserService) GetByID(id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.read()
	if err != nil {
		return nil, err
	}
	if i := indexByID(users, id); i >= 0 {
		return users[i], nil
	}
	return nil, apierrors.NotFound("user")
}

// GetByUsername retrieves a user by username, compared case insensitively.
func (s *UserService) GetByUsername(username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.read()
	if err != nil {
		return nil, err
	}
	if i := indexByUsername(users, username); i >= 0 {
		return users[i], nil
	}
	return nil, apierrors.NotFound("user")
}

// Create stores a new user with a bcrypt hash of password. The id and
// creation time are assigned.
func (s *UserService) Create(u *models.User, password string) (*models.User, error) {
	if strings.TrimSpace(u.Username) == "" {
		return nil, apierrors.MissingField("username")
	}
	if password == "" {
		return nil, apierrors.MissingField("password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, apierrors.InternalWithError("failed to hash password", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.read()
	if err != nil {
		return nil, err
	}
	if indexByUsername(users, u.Username) >= 0 {
		return nil, apierrors.Conflict(fmt.Sprintf("username %q already exists", u.Username))
	}
	n := *u
	n.ID = ksid.NewID().String()
	n.Username = strings.TrimSpace(n.Username)
	n.PasswordHash = string(hash)
	n.CreatedAt = models.ToTime(s.now())
	if n.AssignedBooks == nil {
		n.AssignedBooks = []string{}
	}
	if n.Preferences == (models.UserPreferences{}) {
		n.Preferences = models.DefaultUserPreferences()
	}
	users = append(users, &n)
	if err := s.write(users); err != nil {
		return nil, err
	}
	return &n, nil
}

// Update replaces the stored user with the same id. An empty PasswordHash
// keeps the stored one; so does CreatedAt. Renaming to a username already in
// use is a Conflict.
func (s *UserService) Update(u *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.read()
	if err != nil {
		return nil, err
	}
	i := indexByID(users, u.ID)
	if i < 0 {
		return nil, apierrors.NotFound("user")
	}
	if j := indexByUsername(users, u.Username); j >= 0 && j != i {
		return nil, apierrors.Conflict(fmt.Sprintf("username %q already exists", u.Username))
	}
	n := *u
	if n.PasswordHash == "" {
		n.PasswordHash = users[i].PasswordHash
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = users[i].CreatedAt
	}
	users[i] = &n
	if err := s.write(users); err != nil {
		return nil, err
	}
	return &n, nil
}

// Delete removes a user. It returns false if the user doesn't exist.
func (s *UserService) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.read()
	if err != nil {
		return false, err
	}
	i := indexByID(users, id)
	if i < 0 {
		return false, nil
	}
	users = slices.Delete(users, i, i+1)
	return true, s.write(users)
}

// Authenticate verifies the credentials and records the login time.
// Unknown users and wrong passwords are both Unauthorized.
func (s *UserService) Authenticate(username, password string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.read()
	if err != nil {
		return nil, err
	}
	i := indexByUsername(users, username)
	if i < 0 {
		return nil, apierrors.Unauthorized()
	}
	if bcrypt.CompareHashAndPassword([]byte(users[i].PasswordHash), []byte(password)) != nil {
		return nil, apierrors.Unauthorized()
	}
	users[i].LastLoginAt = models.ToTime(s.now())
	if err := s.write(users); err != nil {
		return nil, err
	}
	return users[i], nil
}

// ChangePassword replaces the password of a user after checking the current
// one.
func (s *UserService) ChangePassword(id, current, password string) error {
	if password == "" {
		return apierrors.MissingField("newPassword")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.read()
	if err != nil {
		return err
	}
	i := indexByID(users, id)
	if i < 0 {
		return apierrors.NotFound("user")
	}
	if bcrypt.CompareHashAndPassword([]byte(users[i].PasswordHash), []byte(current)) != nil {
		return apierrors.Unauthorized()
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return apierrors.InternalWithError("failed to hash password", err)
	}
	users[i].PasswordHash = string(hash)
	return s.write(users)
}

// EnsureDefaultAdmin creates the configured admin account when there are no
// users at all. It reports whether the account was created.
func (s *UserService) EnsureDefaultAdmin(ctx context.Context, cfg DefaultAdminConfig) (bool, error) {
	n, err := s.Count()
	if err != nil {
		return false, err
	}
	if n != 0 || cfg.Username == "" {
		return false, nil
	}
	u, err := s.Create(&models.User{Username: cfg.Username, Email: cfg.Email, Role: models.RoleAdmin}, cfg.Password)
	if err != nil {
		return false, err
	}
	slog.WarnContext(ctx, "Created default admin user, change its password", "username", u.Username, "id", u.ID)
	return true, nil
}

func (s *UserService) read() ([]*models.User, error) {
	data, err := s.store.ReadText(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apierrors.StorageWithError("failed to read users", err)
	}
	var users []*models.User
	if strings.TrimSpace(data) == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(data), &users); err != nil {
		return nil, apierrors.StorageWithError("failed to decode users", err)
	}
	return users, nil
}

func (s *UserService) write(users []*models.User) error {
	if users == nil {
		users = []*models.User{}
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return apierrors.InternalWithError("failed to encode users", err)
	}
	if err := s.store.WriteText(s.path, string(data)+"\n"); err != nil {
		return apierrors.StorageWithError("failed to write users", err)
	}
	return nil
}

func indexByID(users []*models.User, id string) int {
	return slices.IndexFunc(users, func(u *models.User) bool { return u.ID == id })
}

func indexByUsername(users []*models.User, username string) int {
	username = strings.TrimSpace(username)
	return slices.IndexFunc(users, func(u *models.User) bool { return strings.EqualFold(u.Username, username) })
}
