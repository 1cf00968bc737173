package routes

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"commentbox/app/controllers"
	"commentbox/app/middleware"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// postIDPattern matches ids produced by models.PostIDFromPath.
const postIDPattern = "{postId:[^/]+}"

// Options holds what SetupRoutes needs besides the controller.
type Options struct {
	Logger *zap.Logger
	// AllowedOrigins enables CORS for the listed origins.
	AllowedOrigins []string
}

// SetupRoutes defines the application's routes and returns a router.
func SetupRoutes(commentController *controllers.CommentController, opts Options) *mux.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()

	// Apply global middleware
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recoverer(logger))
	if len(opts.AllowedOrigins) > 0 {
		router.Use(middleware.CORS(opts.AllowedOrigins))
	}

	router.NotFoundHandler = http.HandlerFunc(notFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	// Web routes
	router.HandleFunc("/comments", commentController.ForPath).Methods("GET")
	posts := router.PathPrefix("/posts").Subrouter()
	posts.HandleFunc("/"+postIDPattern+"/comments", commentController.Index).Methods("GET")
	posts.HandleFunc("/"+postIDPattern+"/comments", commentController.Create).Methods("POST")

	// API routes with JSON content type
	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.ContentTypeJSON)
	api.HandleFunc("/post-id", commentController.PostID).Methods("GET")
	api.HandleFunc("/captcha", commentController.Captcha).Methods("GET")

	apiPosts := api.PathPrefix("/posts").Subrouter()
	apiPosts.HandleFunc("/"+postIDPattern+"/comments", commentController.Index).Methods("GET")
	apiPosts.HandleFunc("/"+postIDPattern+"/comments", commentController.Create).Methods("POST")

	// Preflight requests are answered by the CORS middleware.
	if len(opts.AllowedOrigins) > 0 {
		api.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	}).Methods("GET")

	return router
}

func notFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeJSONError(w, "Not found", http.StatusNotFound)
		return
	}
	http.NotFound(w, r)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// NewServer wraps router in an http.Server with conservative timeouts.
func NewServer(addr string, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
