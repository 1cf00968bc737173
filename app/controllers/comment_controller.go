package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"commentbox/app/captcha"
	"commentbox/app/models"
	"commentbox/app/services"
	"commentbox/app/views"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxBodyBytes caps JSON and form bodies; content is limited to 1000
// characters anyway.
const maxBodyBytes = 64 << 10

// CommentController handles HTTP requests for comments
type CommentController struct {
	commentService *services.CommentService
	renderer       *views.Renderer
	logger         *zap.Logger
}

// NewCommentController creates a new CommentController
func NewCommentController(service *services.CommentService, renderer *views.Renderer, logger *zap.Logger) *CommentController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommentController{
		commentService: service,
		renderer:       renderer,
		logger:         logger,
	}
}

// SetService sets the comment service for testing
func (cc *CommentController) SetService(service *services.CommentService) {
	cc.commentService = service
}

// ChallengeResponse is a challenge as sent to clients.
type ChallengeResponse struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

// ListResponse is the JSON body of a comment list.
type ListResponse struct {
	PostID   string            `json:"postId"`
	Comments []*models.Comment `json:"comments"`
	Source   string            `json:"source"`
	Message  string            `json:"message,omitempty"`
}

// SubmitRequest is the JSON body of a submission.
type SubmitRequest struct {
	Author      string `json:"author"`
	Content     string `json:"content"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	ChallengeID string `json:"challengeId"`
	Answer      string `json:"answer"`
}

// SubmitResponse is the JSON reply to a submission.
type SubmitResponse struct {
	Comment *models.Comment   `json:"comment,omitempty"`
	Stored  string            `json:"stored,omitempty"`
	Message string            `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
	Captcha ChallengeResponse `json:"captcha"`
}

func challengeResponse(c captcha.Challenge) ChallengeResponse {
	return ChallengeResponse{ID: c.ID, Question: c.Question()}
}

// PostID derives the post id of a page path.
func (cc *CommentController) PostID(w http.ResponseWriter, r *http.Request) {
	cc.sendJSON(w, http.StatusOK, map[string]string{
		"postId": models.PostIDFromPath(r.URL.Query().Get("path")),
	})
}

// Captcha issues a challenge. With ?refresh=<id> the old one is discarded.
func (cc *CommentController) Captcha(w http.ResponseWriter, r *http.Request) {
	var c captcha.Challenge
	if old := r.URL.Query().Get("refresh"); old != "" {
		c = cc.commentService.RefreshChallenge(old)
	} else {
		c = cc.commentService.IssueChallenge()
	}
	w.Header().Set("Cache-Control", "no-store")
	cc.sendJSON(w, http.StatusOK, challengeResponse(c))
}

// Index handles listing all comments for a post
func (cc *CommentController) Index(w http.ResponseWriter, r *http.Request) {
	postID := models.PostIDFromPath(mux.Vars(r)["postId"])
	list, err := cc.commentService.Load(r.Context(), postID)
	if err != nil {
		cc.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	if isAPI(r) {
		cc.sendJSON(w, http.StatusOK, ListResponse{
			PostID:   list.PostID,
			Comments: list.Comments(),
			Source:   list.Source,
			Message:  list.Message,
		})
		return
	}

	cc.renderWidget(w, r, http.StatusOK, list, views.Widget{
		PostID:  postID,
		Title:   r.URL.Query().Get("title"),
		URL:     r.URL.Query().Get("url"),
		Message: list.Message,
	}, cc.commentService.IssueChallenge())
}

// ForPath renders the widget of the post a page path belongs to.
func (cc *CommentController) ForPath(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	r = mux.SetURLVars(r, map[string]string{"postId": models.PostIDFromPath(path)})
	if r.URL.Query().Get("url") == "" {
		q := r.URL.Query()
		q.Set("url", path)
		r.URL.RawQuery = q.Encode()
	}
	cc.Index(w, r)
}

// Create handles creating a new comment
func (cc *CommentController) Create(w http.ResponseWriter, r *http.Request) {
	postID := models.PostIDFromPath(mux.Vars(r)["postId"])
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body SubmitRequest
	if isAPI(r) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			cc.sendError(w, r, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			cc.sendError(w, r, "Failed to parse form: "+err.Error(), http.StatusBadRequest)
			return
		}
		body = SubmitRequest{
			Author:      r.PostFormValue("author"),
			Content:     r.PostFormValue("content"),
			Title:       r.PostFormValue("title"),
			URL:         r.PostFormValue("url"),
			ChallengeID: r.PostFormValue("challenge_id"),
			Answer:      r.PostFormValue("answer"),
		}
	}

	page := models.Page{PostID: postID, Title: body.Title, URL: body.URL}
	result, err := cc.commentService.Submit(r.Context(), services.SubmitRequest{
		Page:        page,
		Author:      body.Author,
		Content:     body.Content,
		ChallengeID: body.ChallengeID,
		Answer:      body.Answer,
	})
	status := submitStatus(err)
	if status == http.StatusBadGateway {
		cc.logger.Error("Comment was not stored", zap.String("post_id", postID), zap.Error(err))
	}

	if isAPI(r) {
		resp := SubmitResponse{
			Comment: result.Comment,
			Stored:  result.Stored,
			Message: result.Message,
			Captcha: challengeResponse(result.Captcha),
		}
		if err != nil {
			resp.Error = result.Message
		}
		cc.sendJSON(w, status, resp)
		return
	}

	data := views.Widget{
		PostID:  postID,
		Title:   page.Title,
		URL:     page.URL,
		Message: result.Message,
	}
	if err != nil {
		data.Author = body.Author
		data.Content = body.Content
	}
	list := result.List
	if list == nil {
		list, err = cc.commentService.Load(r.Context(), postID)
		if err != nil {
			cc.sendError(w, r, err.Error(), http.StatusBadRequest)
			return
		}
	}
	cc.renderWidget(w, r, status, list, data, result.Captcha)
}

func submitStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusCreated
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrCaptcha):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (cc *CommentController) renderWidget(w http.ResponseWriter, r *http.Request, status int, list *services.CommentList, data views.Widget, c captcha.Challenge) {
	items, err := cc.renderer.Items(list.All())
	if err != nil {
		cc.sendError(w, r, "Template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	data.Comments = items
	data.ChallengeID = c.ID
	data.Question = c.Question()
	data.Action = "/posts/" + data.PostID + "/comments"

	render := cc.renderer.RenderWidget
	if r.URL.Query().Get("layout") == "page" {
		render = cc.renderer.RenderPage
		data.Action += "?layout=page"
	}

	var buf strings.Builder
	if err := render(&buf, data); err != nil {
		cc.sendError(w, r, "Template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(buf.String()))
}

// Helper methods for consistent response handling

func isAPI(r *http.Request) bool {
	return r.Header.Get("Accept") == "application/json" || strings.HasPrefix(r.URL.Path, "/api")
}

func (cc *CommentController) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (cc *CommentController) sendError(w http.ResponseWriter, r *http.Request, message string, status int) {
	if isAPI(r) {
		cc.sendJSON(w, status, map[string]string{"error": message})
	} else {
		http.Error(w, message, status)
	}
}
