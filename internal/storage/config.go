// Manages server configuration stored in Config/settings.yaml.

package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/maruel/mdbooks/internal/storage/git"
)

// ConfigDir is the directory below the data root holding settings.yaml and
// users.json.
const ConfigDir = "Config"

// BooksDir is the directory below the data root holding the books.
const BooksDir = "Books"

const configFile = "settings.yaml"

// Config stores all server-wide configuration.
// Loaded from Config/settings.yaml, created with defaults if missing.
type Config struct {
	SiteName              string `yaml:"siteName"`
	AllowRegistration     bool   `yaml:"allowRegistration"`
	RequireAuthentication bool   `yaml:"requireAuthentication"`

	CodeExecution CodeExecutionConfig `yaml:"codeExecution"`
	Security      SecurityConfig      `yaml:"security"`
	Git           GitConfig           `yaml:"git"`

	// Reconcile selects how chapter lists are merged with chapter files.
	Reconcile ReconcileMode `yaml:"reconcile"`

	// DefaultAdmin is created at startup when there are no users.
	DefaultAdmin DefaultAdminConfig `yaml:"defaultAdmin"`

	// JWTSecret signs API tokens, hex encoded.
	// Auto-generated if empty on first load.
	JWTSecret string `yaml:"jwtSecret"`

	RateLimits RateLimitConfig `yaml:"rateLimits"`
}

// CodeExecutionConfig holds the defaults of the in-browser code runner.
type CodeExecutionConfig struct {
	Enabled               bool     `yaml:"enabled"`
	DefaultTimeoutSeconds int      `yaml:"defaultTimeoutSeconds"`
	MaxOutputLength       int      `yaml:"maxOutputLength"`
	AllowedLanguages      []string `yaml:"allowedLanguages"`
}

// SecurityConfig holds session and upload limits.
type SecurityConfig struct {
	SessionTimeoutMinutes  int      `yaml:"sessionTimeoutMinutes"`
	MaxFileUploadSizeMB    int      `yaml:"maxFileUploadSizeMB"`
	AllowedImageExtensions []string `yaml:"allowedImageExtensions"`
}

// GitConfig selects the version control implementation and its identity.
type GitConfig struct {
	Backend     git.Kind `yaml:"backend"`
	AuthorName  string   `yaml:"authorName"`
	AuthorEmail string   `yaml:"authorEmail"`
}

// DefaultAdminConfig is the account provisioned on an empty user store.
type DefaultAdminConfig struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// RateLimitConfig defines rate limiting configuration (requests per minute).
type RateLimitConfig struct {
	// LoginPerMin limits login attempts per client IP. 0 means unlimited.
	LoginPerMin int `yaml:"loginPerMin"`
}

// DefaultConfig returns the configuration written on first start.
func DefaultConfig() *Config {
	return &Config{
		SiteName:              "Open Books",
		RequireAuthentication: false,
		CodeExecution: CodeExecutionConfig{
			Enabled:               true,
			DefaultTimeoutSeconds: 30,
			MaxOutputLength:       10000,
			AllowedLanguages:      []string{"javascript", "python", "csharp"},
		},
		Security: SecurityConfig{
			SessionTimeoutMinutes:  480,
			MaxFileUploadSizeMB:    10,
			AllowedImageExtensions: []string{".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp"},
		},
		Git: GitConfig{
			Backend:     git.KindGoGit,
			AuthorName:  "mdbooks",
			AuthorEmail: "mdbooks@localhost",
		},
		Reconcile: ReconcileAlways,
		DefaultAdmin: DefaultAdminConfig{
			Username: "admin",
			Email:    "admin@localhost",
			Password: "admin123",
		},
		RateLimits: RateLimitConfig{LoginPerMin: 5},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwtSecret must be at least 32 characters")
	}
	if c.CodeExecution.DefaultTimeoutSeconds < 0 {
		return errors.New("codeExecution.defaultTimeoutSeconds must be non-negative")
	}
	if c.CodeExecution.MaxOutputLength < 0 {
		return errors.New("codeExecution.maxOutputLength must be non-negative")
	}
	if c.Security.SessionTimeoutMinutes < 0 {
		return errors.New("security.sessionTimeoutMinutes must be non-negative")
	}
	if c.Security.MaxFileUploadSizeMB < 0 {
		return errors.New("security.maxFileUploadSizeMB must be non-negative")
	}
	if c.RateLimits.LoginPerMin < 0 {
		return errors.New("rateLimits.loginPerMin must be non-negative")
	}
	switch c.Git.Backend {
	case "", git.KindGoGit, git.KindExec:
	default:
		return fmt.Errorf("git.backend: unknown backend %q", c.Git.Backend)
	}
	if err := c.Reconcile.Validate(); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from Config/settings.yaml below the store
// root. Creates the file with defaults if it doesn't exist.
// Auto-generates JWTSecret if empty.
func LoadConfig(store *FileStore) (*Config, error) {
	path := filepath.Join(ConfigDir, configFile)
	cfg := DefaultConfig()

	data, err := store.ReadText(path)
	missing := errors.Is(err, fs.ErrNotExist)
	if err != nil && !missing {
		return nil, fmt.Errorf("failed to read %s: %w", configFile, err)
	}
	if err == nil {
		if err := yaml.Unmarshal([]byte(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configFile, err)
		}
	}

	modified := missing
	if cfg.JWTSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.JWTSecret = hex.EncodeToString(b)
		modified = true
	}
	if modified {
		if err := cfg.Save(store); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", configFile, err)
	}
	return cfg, nil
}

// Save writes the configuration to Config/settings.yaml.
func (c *Config) Save(store *FileStore) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := store.WriteText(filepath.Join(ConfigDir, configFile), string(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", configFile, err)
	}
	return nil
}
