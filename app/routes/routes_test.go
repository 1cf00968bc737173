package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"commentbox/app/captcha"
	"commentbox/app/controllers"
	"commentbox/app/repositories"
	"commentbox/app/services"
	"commentbox/app/views"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func setupTestRouter(t *testing.T, origins ...string) (*mux.Router, *captcha.Registry) {
	t.Helper()
	db := setupTestDB(t)
	registry := captcha.NewRegistry(nil, 32)
	service := services.NewCommentService(services.Options{
		Primary:     repositories.NewLocalRepository(db, repositories.LocalKeyPrefix),
		PrimaryKind: services.StoredLocal,
		Captcha:     registry,
	})
	renderer, err := views.NewRenderer(views.Options{})
	require.NoError(t, err)

	controller := controllers.NewCommentController(service, renderer, nil)
	return SetupRoutes(controller, Options{AllowedOrigins: origins}), registry
}

func TestSetupRoutes(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
		expectedHeader string
	}{
		{"post id", "GET", "/api/post-id?path=/a/b/", http.StatusOK, "application/json"},
		{"captcha", "GET", "/api/captcha", http.StatusOK, "application/json"},
		{"API comments", "GET", "/api/posts/2024_hello/comments", http.StatusOK, "application/json"},
		{"API comments with dotted id", "GET", "/api/posts/notes_v1.2/comments", http.StatusOK, "application/json"},
		{"API unknown route", "GET", "/api/posts", http.StatusNotFound, "application/json"},
		{"API wrong method", "DELETE", "/api/posts/home/comments", http.StatusMethodNotAllowed, "application/json"},
		{"web comments", "GET", "/posts/home/comments", http.StatusOK, "text/html; charset=utf-8"},
		{"web widget for path", "GET", "/comments?path=/", http.StatusOK, "text/html; charset=utf-8"},
		{"web unknown route", "GET", "/posts", http.StatusNotFound, "text/plain; charset=utf-8"},
		{"health", "GET", "/healthz", http.StatusOK, "text/plain; charset=utf-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedHeader, w.Header().Get("Content-Type"))
		})
	}
}

func TestCommentFlow(t *testing.T) {
	router, registry := setupTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/captcha", nil))
	var challenge controllers.ChallengeResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&challenge))
	c, ok := registry.Lookup(challenge.ID)
	require.True(t, ok)

	body := `{"author":"Ann","content":"Great post","challengeId":"` + challenge.ID + `","answer":"` + strconv.Itoa(c.Answer()) + `"}`
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/posts/2024_hello/comments", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created controllers.SubmitResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	assert.Equal(t, services.StoredLocal, created.Stored)
	assert.Positive(t, created.Comment.ID)
	assert.Equal(t, "2024_hello", created.Comment.PostID)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/posts/2024_hello/comments", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Great post")
	assert.NotContains(t, rr.Body.String(), "(stored locally)")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/posts/other/comments", nil))
	var other controllers.ListResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&other))
	assert.Empty(t, other.Comments)
}

func TestCommentPostIDNormalized(t *testing.T) {
	router, registry := setupTestRouter(t)

	c := registry.Issue()
	body := `{"author":"Ann","content":"Separators","challengeId":"` + c.ID + `","answer":"` + strconv.Itoa(c.Answer()) + `"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/posts/_a_b_/comments", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created controllers.SubmitResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	assert.Equal(t, "a_b", created.Comment.PostID)

	for _, path := range []string{"/api/posts/a_b/comments", "/api/posts/_a_b_/comments"} {
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
		var list controllers.ListResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
		assert.Equal(t, "a_b", list.PostID, path)
		require.Len(t, list.Comments, 1, path)
		assert.Equal(t, "Separators", list.Comments[0].Content)
	}
}

func TestCORSRoutes(t *testing.T) {
	router, _ := setupTestRouter(t, "https://blog.example")

	req := httptest.NewRequest("OPTIONS", "/api/posts/home/comments", nil)
	req.Header.Set("Origin", "https://blog.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://blog.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/api/captcha", nil)
	req.Header.Set("Origin", "https://blog.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://blog.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewServer(t *testing.T) {
	router, _ := setupTestRouter(t)
	srv := NewServer("127.0.0.1:0", router)

	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.NotZero(t, srv.ReadHeaderTimeout)
	assert.NotZero(t, srv.WriteTimeout)

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()
	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
