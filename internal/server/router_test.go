package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/maruel/mdbooks/internal/models"
	"github.com/maruel/mdbooks/internal/server/handlers"
	"github.com/maruel/mdbooks/internal/storage"
	"github.com/maruel/mdbooks/internal/storage/git"
)

type testServer struct {
	*httptest.Server
	books *storage.BookRepository
}

func newTestServer(t *testing.T, mutate func(*storage.Config)) *testServer {
	t.Helper()
	store, err := storage.NewFileStore(afero.NewOsFs(), t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}
	vcs, err := git.New(git.KindGoGit, "Test", "test@example.com")
	if err != nil {
		t.Fatalf("git.New() failed: %v", err)
	}
	books, err := storage.NewBookRepository(store, vcs, storage.BooksDir, nil)
	if err != nil {
		t.Fatalf("NewBookRepository() failed: %v", err)
	}
	cfg := storage.DefaultConfig()
	cfg.JWTSecret = strings.Repeat("ab", 32)
	if mutate != nil {
		mutate(cfg)
	}
	users := storage.NewUserService(store)
	if _, err := users.EnsureDefaultAdmin(t.Context(), cfg.DefaultAdmin); err != nil {
		t.Fatalf("EnsureDefaultAdmin() failed: %v", err)
	}
	if _, err := users.Create(&models.User{Username: "reader"}, "pw"); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	h := NewRouter(t.Context(), &Services{
		Config:   cfg,
		Books:    books,
		Chapters: storage.NewChapterRepository(books),
		Users:    users,
		Version:  "test",
	})
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, books: books}
}

// do sends a JSON request and decodes the response into out when it is not
// nil. It returns the status code.
func (ts *testServer) do(t *testing.T, method, path, token string, in, out any) int {
	t.Helper()
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequestWithContext(t.Context(), method, ts.URL+path, &body)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	var resp handlers.LoginResponse
	if code := ts.do(t, "POST", "/api/auth/login", "", handlers.LoginRequest{Username: username, Password: password}, &resp); code != http.StatusOK {
		t.Fatalf("login(%q) = %d", username, code)
	}
	if resp.Token == "" || resp.User == nil || resp.User.PasswordHash != "" {
		t.Fatalf("login(%q) = %+v", username, resp)
	}
	return resp.Token
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Details map[string]any `json:"details"`
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, func(c *storage.Config) { c.RequireAuthentication = true })
	var resp handlers.HealthResponse
	if code := ts.do(t, "GET", "/api/health", "", nil, &resp); code != http.StatusOK {
		t.Fatalf("GET /api/health = %d", code)
	}
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	token := ts.login(t, "admin", "admin123")

	var me models.User
	if code := ts.do(t, "GET", "/api/auth/me", token, nil, &me); code != http.StatusOK {
		t.Fatalf("GET /api/auth/me = %d", code)
	}
	if me.Username != "admin" || !me.IsAdmin() {
		t.Errorf("me = %+v", me)
	}

	var e errorResponse
	if code := ts.do(t, "POST", "/api/auth/login", "", handlers.LoginRequest{Username: "admin", Password: "nope"}, &e); code != http.StatusUnauthorized {
		t.Errorf("bad login = %d", code)
	}
	if e.Error.Code != "UNAUTHORIZED" {
		t.Errorf("error = %+v", e)
	}
	if code := ts.do(t, "GET", "/api/auth/me", "garbage", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("GET /api/auth/me with invalid token = %d", code)
	}
	if code := ts.do(t, "GET", "/api/auth/me", "", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("GET /api/auth/me anonymous = %d", code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, func(c *storage.Config) { c.RateLimits.LoginPerMin = 2 })
	bad := handlers.LoginRequest{Username: "admin", Password: "nope"}
	for range 2 {
		if code := ts.do(t, "POST", "/api/auth/login", "", bad, nil); code != http.StatusUnauthorized {
			t.Fatalf("login = %d", code)
		}
	}
	var e errorResponse
	if code := ts.do(t, "POST", "/api/auth/login", "", bad, &e); code != http.StatusTooManyRequests {
		t.Fatalf("third login = %d", code)
	}
	if e.Error.Code != "TOO_MANY_REQUESTS" || e.Details["retry_after"] == nil {
		t.Errorf("error = %+v", e)
	}
}

func TestBooksAndChapters(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	token := ts.login(t, "admin", "admin123")

	var book models.Book
	if code := ts.do(t, "POST", "/api/books", token, handlers.CreateBookRequest{Title: "Go Book", Author: "Gopher"}, &book); code != http.StatusOK {
		t.Fatalf("POST /api/books = %d", code)
	}
	if !strings.HasPrefix(book.ID, "go-book-") || book.Author != "Gopher" || !book.IsPublic {
		t.Fatalf("created book = %+v", book)
	}
	base := "/api/books/" + book.ID

	for _, title := range []string{"Intro", "Setup", "Outro"} {
		var c models.Chapter
		if code := ts.do(t, "POST", base+"/chapters", token, handlers.CreateChapterRequest{Title: title}, &c); code != http.StatusOK {
			t.Fatalf("POST chapter %q = %d", title, code)
		}
		if c.BookID != book.ID || !c.IsPublished {
			t.Errorf("created chapter = %+v", c)
		}
	}

	var c models.Chapter
	if code := ts.do(t, "GET", base+"/chapters/by-order/2", "", nil, &c); code != http.StatusOK {
		t.Fatalf("GET by-order = %d", code)
	}
	if c.ID != "setup" || c.FileName != "02-setup.md" || !strings.Contains(c.Content, "under construction") {
		t.Errorf("by-order 2 = %+v", c)
	}
	if code := ts.do(t, "GET", base+"/chapters/by-order/two", "", nil, nil); code != http.StatusBadRequest {
		t.Errorf("GET by-order/two = %d", code)
	}
	if code := ts.do(t, "GET", base+"/chapters/by-order/9", "", nil, nil); code != http.StatusNotFound {
		t.Errorf("GET by-order/9 = %d", code)
	}

	content := "# Setup\n\nInstall Go."
	if code := ts.do(t, "PUT", base+"/chapters/setup", token, handlers.UpdateChapterRequest{Content: &content}, &c); code != http.StatusOK {
		t.Fatalf("PUT chapter = %d", code)
	}
	if c.Title != "Setup" || c.Content != content || c.FileName != "02-setup.md" {
		t.Errorf("updated chapter = %+v", c)
	}

	var list handlers.ListChaptersResponse
	if code := ts.do(t, "POST", base+"/chapters/reorder", token, handlers.ReorderRequest{ChapterIDs: []string{"outro", "intro", "setup"}}, &list); code != http.StatusOK {
		t.Fatalf("reorder = %d", code)
	}
	var files []string
	for _, c := range list.Chapters {
		files = append(files, c.FileName)
	}
	if want := []string{"01-outro.md", "02-intro.md", "03-setup.md"}; !slices.Equal(files, want) {
		t.Errorf("files after reorder = %v, want %v", files, want)
	}
	if list.Chapters[2].Content != content {
		t.Errorf("content lost by reorder: %q", list.Chapters[2].Content)
	}
	var e errorResponse
	if code := ts.do(t, "POST", base+"/chapters/reorder", token, handlers.ReorderRequest{ChapterIDs: []string{"intro", "nope"}}, &e); code != http.StatusNotFound {
		t.Errorf("reorder unknown = %d", code)
	}

	if code := ts.do(t, "DELETE", base+"/chapters/intro", token, nil, nil); code != http.StatusOK {
		t.Errorf("DELETE chapter = %d", code)
	}
	if code := ts.do(t, "DELETE", base+"/chapters/intro", token, nil, nil); code != http.StatusNotFound {
		t.Errorf("DELETE chapter again = %d", code)
	}

	title := "Go, Second Edition"
	if code := ts.do(t, "PUT", base, token, handlers.UpdateBookRequest{Title: &title}, &book); code != http.StatusOK {
		t.Fatalf("PUT book = %d", code)
	}
	if book.Title != title || book.Author != "Gopher" || len(book.Chapters) != 2 {
		t.Errorf("updated book = %+v", book)
	}

	var hist handlers.HistoryResponse
	if code := ts.do(t, "GET", base+"/history?limit=3", token, nil, &hist); code != http.StatusOK {
		t.Fatalf("GET history = %d", code)
	}
	if len(hist.Commits) != 3 || !strings.HasPrefix(hist.Commits[0].Message, "Updated book metadata - ") || hist.Commits[1].Message != "Deleted chapter: Intro" {
		t.Errorf("history = %+v", hist.Commits)
	}
	var st git.Status
	if code := ts.do(t, "GET", base+"/status", token, nil, &st); code != http.StatusOK {
		t.Fatalf("GET status = %d", code)
	}
	if st.HasChanges {
		t.Errorf("status = %+v", st)
	}
	var sync handlers.SyncResponse
	if code := ts.do(t, "POST", base+"/sync", token, nil, &sync); code != http.StatusOK {
		t.Fatalf("POST sync = %d", code)
	}
	if sync.Changed {
		t.Error("sync changed a consistent book")
	}

	if code := ts.do(t, "DELETE", base, token, nil, nil); code != http.StatusOK {
		t.Errorf("DELETE book = %d", code)
	}
	if code := ts.do(t, "GET", base, token, nil, nil); code != http.StatusNotFound {
		t.Errorf("GET deleted book = %d", code)
	}
}

func TestUpdateChapter(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	token := ts.login(t, "admin", "admin123")
	ctx := t.Context()

	var book models.Book
	if code := ts.do(t, "POST", "/api/books", token, handlers.CreateBookRequest{Title: "Moves"}, &book); code != http.StatusOK {
		t.Fatalf("POST /api/books = %d", code)
	}
	base := "/api/books/" + book.ID
	for _, title := range []string{"Intro", "Setup"} {
		if code := ts.do(t, "POST", base+"/chapters", token, handlers.CreateChapterRequest{Title: title}, nil); code != http.StatusOK {
			t.Fatalf("POST chapter %q = %d", title, code)
		}
	}

	var c models.Chapter
	if code := ts.do(t, "PUT", base+"/chapters/setup", token, handlers.UpdateChapterRequest{Order: 5}, &c); code != http.StatusOK {
		t.Fatalf("PUT order = %d", code)
	}
	if c.FileName != "05-setup.md" || c.Order != 5 || c.Title != "Setup" || !strings.Contains(c.Content, "under construction") {
		t.Errorf("moved chapter = %+v", c)
	}
	if code := ts.do(t, "GET", base+"/chapters/by-order/5", "", nil, &c); code != http.StatusOK {
		t.Fatalf("GET by-order/5 = %d", code)
	}
	if c.ID != "setup" || !strings.Contains(c.Content, "under construction") {
		t.Errorf("by-order 5 = %+v", c)
	}
	var e errorResponse
	if code := ts.do(t, "PUT", base+"/chapters/nope", token, handlers.UpdateChapterRequest{Order: 3}, &e); code != http.StatusNotFound {
		t.Errorf("PUT unknown chapter = %d", code)
	}

	// A title derived from the content is shown but not stored.
	b, err := ts.books.GetByID(ctx, book.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	intro, _ := b.Chapter("intro")
	intro.Title = ""
	if _, err := ts.books.Update(ctx, b); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if code := ts.do(t, "GET", base+"/chapters/intro", "", nil, &c); code != http.StatusOK || c.Title != "Intro" {
		t.Errorf("GET intro = %d, %+v", code, c)
	}
	published := false
	if code := ts.do(t, "PUT", base+"/chapters/intro", token, handlers.UpdateChapterRequest{IsPublished: &published}, nil); code != http.StatusOK {
		t.Fatalf("PUT published = %d", code)
	}
	if b, err = ts.books.GetByID(ctx, book.ID); err != nil {
		t.Fatal(err)
	}
	if intro, _ = b.Chapter("intro"); intro.Title != "" || intro.IsPublished {
		t.Errorf("intro entry = %+v", intro)
	}
}

func TestAccess(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	admin := ts.login(t, "admin", "admin123")
	reader := ts.login(t, "reader", "pw")

	private := false
	var secret, shared models.Book
	if code := ts.do(t, "POST", "/api/books", admin, handlers.CreateBookRequest{Title: "Secret", IsPublic: &private}, &secret); code != http.StatusOK {
		t.Fatalf("POST secret = %d", code)
	}
	if code := ts.do(t, "POST", "/api/books", admin, handlers.CreateBookRequest{Title: "Shared", IsPublic: &private, AllowedUsers: []string{"Reader"}}, &shared); code != http.StatusOK {
		t.Fatalf("POST shared = %d", code)
	}
	if code := ts.do(t, "POST", "/api/books", admin, handlers.CreateBookRequest{Title: "Public"}, nil); code != http.StatusOK {
		t.Fatalf("POST public = %d", code)
	}

	titles := func(token string) []string {
		var resp handlers.ListBooksResponse
		if code := ts.do(t, "GET", "/api/books", token, nil, &resp); code != http.StatusOK {
			t.Fatalf("GET /api/books = %d", code)
		}
		var out []string
		for _, b := range resp.Books {
			out = append(out, b.Title)
		}
		return out
	}
	if got := titles(""); !slices.Equal(got, []string{"Public"}) {
		t.Errorf("anonymous books = %v", got)
	}
	if got := titles(reader); !slices.Equal(got, []string{"Public", "Shared"}) {
		t.Errorf("reader books = %v", got)
	}
	if got := titles(admin); !slices.Equal(got, []string{"Public", "Secret", "Shared"}) {
		t.Errorf("admin books = %v", got)
	}

	for _, tt := range []struct {
		name, token, path string
		want              int
	}{
		{"AnonymousPrivate", "", "/api/books/" + secret.ID, http.StatusUnauthorized},
		{"ReaderPrivate", reader, "/api/books/" + secret.ID, http.StatusForbidden},
		{"ReaderPrivateChapters", reader, "/api/books/" + secret.ID + "/chapters", http.StatusForbidden},
		{"ReaderShared", reader, "/api/books/" + shared.ID, http.StatusOK},
		{"AdminPrivate", admin, "/api/books/" + secret.ID, http.StatusOK},
		{"Unknown", reader, "/api/books/nope", http.StatusNotFound},
		{"ReaderHistory", reader, "/api/books/" + shared.ID + "/history", http.StatusForbidden},
		{"ReaderUsers", reader, "/api/users", http.StatusForbidden},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if code := ts.do(t, "GET", tt.path, tt.token, nil, nil); code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, code, tt.want)
			}
		})
	}

	if code := ts.do(t, "POST", "/api/books", reader, handlers.CreateBookRequest{Title: "Mine"}, nil); code != http.StatusForbidden {
		t.Errorf("reader POST /api/books = %d", code)
	}
	if code := ts.do(t, "POST", "/api/books", "", handlers.CreateBookRequest{Title: "Mine"}, nil); code != http.StatusUnauthorized {
		t.Errorf("anonymous POST /api/books = %d", code)
	}
	if code := ts.do(t, "DELETE", "/api/books/"+shared.ID, reader, nil, nil); code != http.StatusForbidden {
		t.Errorf("reader DELETE = %d", code)
	}
}

func TestRequireAuthentication(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, func(c *storage.Config) { c.RequireAuthentication = true })
	if code := ts.do(t, "GET", "/api/books", "", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("anonymous GET /api/books = %d", code)
	}
	token := ts.login(t, "reader", "pw")
	var resp handlers.ListBooksResponse
	if code := ts.do(t, "GET", "/api/books", token, nil, &resp); code != http.StatusOK {
		t.Errorf("GET /api/books = %d", code)
	}
	if resp.Books == nil {
		t.Error("books should be an empty array, not null")
	}
}

func TestUsers(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	admin := ts.login(t, "admin", "admin123")

	var u models.User
	if code := ts.do(t, "POST", "/api/users", admin, handlers.CreateUserRequest{Username: "bob", Password: "pw1", Email: "bob@example.com"}, &u); code != http.StatusOK {
		t.Fatalf("POST /api/users = %d", code)
	}
	if u.ID == "" || u.PasswordHash != "" || u.IsAdmin() {
		t.Errorf("created user = %+v", u)
	}
	if code := ts.do(t, "POST", "/api/users", admin, handlers.CreateUserRequest{Username: "BOB", Password: "x"}, nil); code != http.StatusConflict {
		t.Errorf("duplicate POST /api/users = %d", code)
	}
	var list handlers.ListUsersResponse
	if code := ts.do(t, "GET", "/api/users", admin, nil, &list); code != http.StatusOK {
		t.Fatalf("GET /api/users = %d", code)
	}
	if len(list.Users) != 3 || slices.ContainsFunc(list.Users, func(u *models.User) bool { return u.PasswordHash != "" }) {
		t.Errorf("users = %+v", list.Users)
	}

	bob := ts.login(t, "bob", "pw1")
	if code := ts.do(t, "POST", "/api/users/me/password", bob, handlers.ChangePasswordRequest{CurrentPassword: "bad", NewPassword: "pw2"}, nil); code != http.StatusUnauthorized {
		t.Errorf("change password with bad current = %d", code)
	}
	if code := ts.do(t, "POST", "/api/users/me/password", bob, handlers.ChangePasswordRequest{CurrentPassword: "pw1", NewPassword: "pw2"}, nil); code != http.StatusOK {
		t.Fatalf("change password = %d", code)
	}
	ts.login(t, "bob", "pw2")

	var me models.User
	ts.do(t, "GET", "/api/auth/me", admin, nil, &me)
	if code := ts.do(t, "DELETE", "/api/users/"+me.ID, admin, nil, nil); code != http.StatusBadRequest {
		t.Errorf("deleting yourself = %d", code)
	}
	if code := ts.do(t, "DELETE", "/api/users/"+u.ID, admin, nil, nil); code != http.StatusOK {
		t.Errorf("DELETE user = %d", code)
	}
	// The token of a deleted user is no longer accepted.
	if code := ts.do(t, "GET", "/api/auth/me", bob, nil, nil); code != http.StatusUnauthorized {
		t.Errorf("deleted user token = %d", code)
	}
}

func TestBookSchema(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	var schema map[string]any
	if code := ts.do(t, "GET", "/api/schema/book", "", nil, &schema); code != http.StatusOK {
		t.Fatalf("GET /api/schema/book = %d", code)
	}
	props, _ := schema["properties"].(map[string]any)
	if _, ok := props["chapters"]; !ok {
		t.Errorf("schema has no chapters property: %v", schema)
	}
}

func TestInvalidBody(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	token := ts.login(t, "admin", "admin123")
	var e errorResponse
	if code := ts.do(t, "POST", "/api/books", token, map[string]any{"title": "x", "unknown": 1}, &e); code != http.StatusBadRequest {
		t.Errorf("unknown field = %d", code)
	}
	if e.Error.Code != "VALIDATION_FAILED" {
		t.Errorf("error = %+v", e)
	}
	if code := ts.do(t, "POST", "/api/books", token, handlers.CreateBookRequest{}, &e); code != http.StatusBadRequest {
		t.Errorf("missing title = %d", code)
	}
	if e.Error.Code != "MISSING_FIELD" {
		t.Errorf("error = %+v", e)
	}
}
