package models

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// UserRole is the role of a user on the whole site.
type UserRole int

const (
	// RoleReader can read public books and the private books they are allowed on.
	RoleReader UserRole = iota
	// RoleAdmin can manage books, chapters and users.
	RoleAdmin
)

// String implements fmt.Stringer.
func (r UserRole) String() string {
	switch r {
	case RoleReader:
		return "Reader"
	case RoleAdmin:
		return "Admin"
	default:
		return fmt.Sprintf("UserRole(%d)", int(r))
	}
}

// UnmarshalJSON accepts both the numeric and the named form of a role.
func (r *UserRole) UnmarshalJSON(b []byte) error {
	var i int
	if err := json.Unmarshal(b, &i); err == nil {
		*r = UserRole(i)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "reader":
		*r = RoleReader
	case "admin":
		*r = RoleAdmin
	default:
		return fmt.Errorf("unknown role %q", s)
	}
	return nil
}

// User is an account stored in Config/users.json.
type User struct {
	ID            string          `json:"id"`
	Username      string          `json:"username"`
	PasswordHash  string          `json:"passwordHash"`
	Email         string          `json:"email"`
	Role          UserRole        `json:"role"`
	AssignedBooks []string        `json:"assignedBooks"`
	Preferences   UserPreferences `json:"preferences"`
	CreatedAt     Time            `json:"createdAt"`
	LastLoginAt   Time            `json:"lastLoginAt"`
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Public returns a copy of u without its password hash.
func (u *User) Public() *User {
	c := *u
	c.PasswordHash = ""
	return &c
}

// UserPreferences are reader display preferences.
type UserPreferences struct {
	Theme               string `json:"theme"`
	FontSize            int    `json:"fontSize"`
	ShowTableOfContents bool   `json:"showTableOfContents"`
	EnableCodeExecution bool   `json:"enableCodeExecution"`
}

// DefaultUserPreferences returns the preferences of a new user.
func DefaultUserPreferences() UserPreferences {
	return UserPreferences{
		Theme:               "light",
		FontSize:            16,
		ShowTableOfContents: true,
	}
}

type contextKey int

// userKey is the context key for the authenticated user.
const userKey contextKey = 0

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// GetUser returns the authenticated user from the context, or nil.
func GetUser(ctx context.Context) *User {
	u, _ := ctx.Value(userKey).(*User)
	return u
}
