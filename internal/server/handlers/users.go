package handlers

import (
	"context"

	"github.com/maruel/mdbooks/internal/errors"
	"github.com/maruel/mdbooks/internal/models"
	"github.com/maruel/mdbooks/internal/storage"
)

// UserHandler handles user management requests.
type UserHandler struct {
	userService *storage.UserService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(userService *storage.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// ListUsersResponse is a response containing a list of users.
type ListUsersResponse struct {
	Users []*models.User `json:"users"`
}

// CreateUserRequest is a request to create a user.
type CreateUserRequest struct {
	Username      string          `json:"username"`
	Password      string          `json:"password"`
	Email         string          `json:"email"`
	Role          models.UserRole `json:"role"`
	AssignedBooks []string        `json:"assignedBooks"`
}

// UserRequest identifies a user by its path.
type UserRequest struct {
	ID string `path:"id"`
}

// ChangePasswordRequest is a request to change the password of the caller.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ListUsers returns all users, without their password hash.
func (h *UserHandler) ListUsers(ctx context.Context, _ struct{}) (*ListUsersResponse, error) {
	users, err := h.userService.List()
	if err != nil {
		return nil, err
	}
	out := make([]*models.User, len(users))
	for i, u := range users {
		out[i] = u.Public()
	}
	return &ListUsersResponse{Users: out}, nil
}

// CreateUser creates a user.
func (h *UserHandler) CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	u, err := h.userService.Create(&models.User{
		Username:      req.Username,
		Email:         req.Email,
		Role:          req.Role,
		AssignedBooks: req.AssignedBooks,
	}, req.Password)
	if err != nil {
		return nil, err
	}
	return u.Public(), nil
}

// DeleteUser deletes a user. Users can't delete themselves.
func (h *UserHandler) DeleteUser(ctx context.Context, req UserRequest) (*EmptyResponse, error) {
	if u := models.GetUser(ctx); u != nil && u.ID == req.ID {
		return nil, errors.BadRequest("Cannot delete yourself")
	}
	ok, err := h.userService.Delete(req.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound("user")
	}
	return &EmptyResponse{}, nil
}

// ChangePassword replaces the password of the caller.
func (h *UserHandler) ChangePassword(ctx context.Context, req ChangePasswordRequest) (*EmptyResponse, error) {
	u := models.GetUser(ctx)
	if u == nil {
		return nil, errors.Unauthorized()
	}
	if err := h.userService.ChangePassword(u.ID, req.CurrentPassword, req.NewPassword); err != nil {
		return nil, err
	}
	return &EmptyResponse{}, nil
}
