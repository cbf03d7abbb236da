package handlers

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maruel/mdbooks/internal/errors"
	"github.com/maruel/mdbooks/internal/models"
	"github.com/maruel/mdbooks/internal/storage"
)

// AuthHandler handles authentication requests.
type AuthHandler struct {
	userService *storage.UserService
	jwtSecret   []byte
	ttl         time.Duration
	now         func() time.Time
}

// NewAuthHandler creates a new auth handler issuing tokens valid for ttl.
func NewAuthHandler(userService *storage.UserService, jwtSecret string, ttl time.Duration) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		jwtSecret:   []byte(jwtSecret),
		ttl:         ttl,
		now:         time.Now,
	}
}

// LoginRequest is a request to log in.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is a response from logging in.
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// Login checks the credentials and returns a JWT token.
func (h *AuthHandler) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, errors.MissingField("username or password")
	}
	user, err := h.userService.Authenticate(req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	token, exp, err := h.generateToken(user)
	if err != nil {
		return nil, errors.InternalWithError("Failed to generate token", err)
	}
	return &LoginResponse{Token: token, ExpiresAt: exp, User: user.Public()}, nil
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(ctx context.Context, _ struct{}) (*models.User, error) {
	u := models.GetUser(ctx)
	if u == nil {
		return nil, errors.Unauthorized()
	}
	return u.Public(), nil
}

func (h *AuthHandler) generateToken(user *models.User) (string, time.Time, error) {
	now := h.now()
	exp := now.Add(h.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(h.jwtSecret)
	return s, exp.UTC(), err
}
