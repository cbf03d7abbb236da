// Package server exposes the books over a JSON HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/maruel/mdbooks/internal/server/handlers"
	"github.com/maruel/mdbooks/internal/storage"
)

// Services are the dependencies of the router.
type Services struct {
	Config   *storage.Config
	Books    *storage.BookRepository
	Chapters *storage.ChapterRepository
	Users    *storage.UserService
	Version  string
}

// NewRouter creates and configures the HTTP router.
//
// Background work of the router, like rate limiter cleanup, stops when ctx
// is canceled.
func NewRouter(ctx context.Context, s *Services) http.Handler {
	mux := http.NewServeMux()

	ttl := time.Duration(s.Config.Security.SessionTimeoutMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	authHandler := handlers.NewAuthHandler(s.Users, s.Config.JWTSecret, ttl)
	bookHandler := handlers.NewBookHandler(s.Books)
	chapterHandler := handlers.NewChapterHandler(s.Books, s.Chapters)
	userHandler := handlers.NewUserHandler(s.Users)
	var loginLimiter *limiter
	if n := s.Config.RateLimits.LoginPerMin; n > 0 {
		loginLimiter = newLimiter(ctx, n, time.Minute)
	}

	// Health check
	mux.Handle("GET /api/health", Wrap(handlers.Health(s.Version)))
	mux.Handle("GET /api/schema/book", Wrap(handlers.BookSchema))

	// Auth endpoints
	mux.Handle("POST /api/auth/login", rateLimit(loginLimiter, Wrap(authHandler.Login)))
	mux.Handle("GET /api/auth/me", requireUser(Wrap(authHandler.Me)))

	// Books endpoints
	mux.Handle("GET /api/books", Wrap(bookHandler.ListBooks))
	mux.Handle("GET /api/books/{id}", Wrap(bookHandler.GetBook))
	mux.Handle("POST /api/books", requireAdmin(Wrap(bookHandler.CreateBook)))
	mux.Handle("PUT /api/books/{id}", requireAdmin(Wrap(bookHandler.UpdateBook)))
	mux.Handle("DELETE /api/books/{id}", requireAdmin(Wrap(bookHandler.DeleteBook)))
	mux.Handle("GET /api/books/{id}/history", requireAdmin(Wrap(bookHandler.History)))
	mux.Handle("GET /api/books/{id}/status", requireAdmin(Wrap(bookHandler.Status)))
	mux.Handle("POST /api/books/{id}/sync", requireAdmin(Wrap(bookHandler.Sync)))

	// Chapters endpoints
	mux.Handle("GET /api/books/{id}/chapters", Wrap(chapterHandler.ListChapters))
	mux.Handle("GET /api/books/{id}/chapters/{cid}", Wrap(chapterHandler.GetChapter))
	mux.Handle("GET /api/books/{id}/chapters/by-order/{order}", Wrap(chapterHandler.GetChapterByOrder))
	mux.Handle("POST /api/books/{id}/chapters", requireAdmin(Wrap(chapterHandler.CreateChapter)))
	mux.Handle("PUT /api/books/{id}/chapters/{cid}", requireAdmin(Wrap(chapterHandler.UpdateChapter)))
	mux.Handle("DELETE /api/books/{id}/chapters/{cid}", requireAdmin(Wrap(chapterHandler.DeleteChapter)))
	mux.Handle("POST /api/books/{id}/chapters/reorder", requireAdmin(Wrap(chapterHandler.ReorderChapters)))

	// Users endpoints
	mux.Handle("GET /api/users", requireAdmin(Wrap(userHandler.ListUsers)))
	mux.Handle("POST /api/users", requireAdmin(Wrap(userHandler.CreateUser)))
	mux.Handle("DELETE /api/users/{id}", requireAdmin(Wrap(userHandler.DeleteUser)))
	mux.Handle("POST /api/users/me/password", requireUser(Wrap(userHandler.ChangePassword)))

	auth := &authenticator{
		users:    s.Users,
		secret:   []byte(s.Config.JWTSecret),
		required: s.Config.RequireAuthentication,
		now:      time.Now,
	}
	return auth.Middleware(mux)
}
