package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"commentbox/app/captcha"
	"commentbox/app/models"
	"commentbox/app/repositories"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Where a comment or a list of comments lives.
const (
	StoredRemote = "remote"
	StoredLocal  = "local"
	StoredFile   = "file"
)

// User facing messages.
const (
	MsgPosted         = "Comment posted."
	MsgWrongCaptcha   = "Incorrect CAPTCHA answer. Please try again."
	MsgSavedLocally   = "Could not post to GitHub. Your comment was saved locally."
	MsgRateLimited    = "GitHub rate limit reached. Your comment was saved locally."
	MsgNotSaved       = "Your comment could not be saved. Please try again later."
	MsgLoadFailed     = "Comments could not be loaded."
	MsgShowingLocal   = "Could not load comments from GitHub. Showing comments stored locally."
	MsgCorruptStorage = "Stored comments could not be read."
)

var (
	ErrValidation = errors.New("validation failed")
	ErrCaptcha    = errors.New("captcha verification failed")
	ErrStorage    = errors.New("comment could not be stored")
)

// Options configures a CommentService.
type Options struct {
	// Primary is where comments are read from and written to.
	Primary repositories.CommentRepository
	// PrimaryKind is one of StoredRemote, StoredLocal or StoredFile.
	PrimaryKind string
	// Fallback, when set, keeps comments the primary could not take.
	Fallback repositories.CommentRepository
	Captcha  *captcha.Registry
	Logger   *zap.Logger
	// Timeout bounds each call to the primary repository. Zero means none.
	Timeout time.Duration
}

// CommentService is one comment widget: a post's list, its form and the
// challenge that guards it.
type CommentService struct {
	primary     repositories.CommentRepository
	primaryKind string
	fallback    repositories.CommentRepository
	captcha     *captcha.Registry
	logger      *zap.Logger
	timeout     time.Duration
	inflight    singleflight.Group
}

// NewCommentService creates a new CommentService
func NewCommentService(opts Options) *CommentService {
	s := &CommentService{
		primary:     opts.Primary,
		primaryKind: opts.PrimaryKind,
		fallback:    opts.Fallback,
		captcha:     opts.Captcha,
		logger:      opts.Logger,
		timeout:     opts.Timeout,
	}
	if s.primaryKind == "" {
		s.primaryKind = StoredLocal
	}
	if s.captcha == nil {
		s.captcha = captcha.NewRegistry(nil, captcha.DefaultCapacity)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Kind reports where the primary repository keeps comments.
func (s *CommentService) Kind() string {
	return s.primaryKind
}

// CommentList is a snapshot of a post's comments, newest first.
type CommentList struct {
	PostID string
	// Source is StoredRemote, StoredLocal or StoredFile.
	Source string
	// Message is set when the list is not what the primary store holds.
	Message  string
	comments []*models.Comment
}

// All yields the comments in order. It can be ranged over any number of
// times.
func (l *CommentList) All() iter.Seq[*models.Comment] {
	return func(yield func(*models.Comment) bool) {
		for _, c := range l.comments {
			if !yield(c) {
				return
			}
		}
	}
}

// Len returns the number of comments.
func (l *CommentList) Len() int {
	return len(l.comments)
}

// Comments returns the comments as a slice that is safe to modify.
func (l *CommentList) Comments() []*models.Comment {
	out := make([]*models.Comment, len(l.comments))
	copy(out, l.comments)
	return out
}

// Load reads the current comments of postID. Storage failures never fail
// the call; they degrade to the fallback list or an empty one with a message.
func (s *CommentService) Load(ctx context.Context, postID string) (*CommentList, error) {
	if postID == "" {
		return nil, fmt.Errorf("%w: post id is required", ErrValidation)
	}
	list := &CommentList{PostID: postID, Source: s.primaryKind, comments: []*models.Comment{}}

	pctx, cancel := s.withTimeout(ctx)
	comments, err := s.primary.List(pctx, postID)
	cancel()
	if err == nil {
		list.comments = comments
		return list, nil
	}

	if errors.Is(err, repositories.ErrMalformed) {
		s.logger.Error("Stored comments are malformed", zap.String("post_id", postID), zap.Error(err))
		list.Message = MsgCorruptStorage
		return list, nil
	}

	s.logger.Warn("Primary store failed to list comments", zap.String("post_id", postID), zap.Error(err))
	list.Message = MsgLoadFailed
	if s.fallback == nil {
		return list, nil
	}

	local, ferr := s.fallback.List(ctx, postID)
	if ferr != nil {
		s.logger.Error("Fallback store failed to list comments", zap.String("post_id", postID), zap.Error(ferr))
		return list, nil
	}
	for _, c := range local {
		c.Local = true
	}
	list.Source = StoredLocal
	list.Message = MsgShowingLocal
	list.comments = local
	return list, nil
}

// SubmitRequest is a filled in comment form.
type SubmitRequest struct {
	Page        models.Page
	Author      string
	Content     string
	ChallengeID string
	Answer      string
}

// SubmitResult is what the form shows after a submission.
type SubmitResult struct {
	// Comment is the stored comment, nil when nothing was stored.
	Comment *models.Comment
	// Stored is StoredRemote, StoredLocal or StoredFile.
	Stored  string
	Message string
	// Captcha is the challenge to show next.
	Captcha captcha.Challenge
	// List is the post's comments after the submission.
	List *CommentList
}

type stored struct {
	comment *models.Comment
	kind    string
	message string
	list    *CommentList
}

// Submit validates and stores a comment. The result is never nil; on error
// it carries the message and the challenge to show.
func (s *CommentService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	comment := &models.Comment{
		Author:  req.Author,
		Content: req.Content,
		PostID:  req.Page.PostID,
	}
	comment.Normalize()

	if err := comment.Validate(); err != nil {
		result := &SubmitResult{Message: validationMessage(err)}
		if c, ok := s.captcha.Lookup(req.ChallengeID); ok {
			result.Captcha = c
		} else {
			result.Captcha = s.captcha.Issue()
		}
		return result, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	next, err := s.captcha.Verify(req.ChallengeID, req.Answer)
	if err != nil {
		return &SubmitResult{Message: MsgWrongCaptcha, Captcha: next}, fmt.Errorf("%w: %v", ErrCaptcha, err)
	}

	page := req.Page
	page.PostID = comment.PostID
	key := strings.Join([]string{page.PostID, comment.Author, comment.Content}, "\x00")
	// Collapsed callers share this store; it outlives the caller that started it.
	detached := context.WithoutCancel(ctx)
	v, err, shared := s.inflight.Do(key, func() (interface{}, error) {
		return s.store(detached, page, comment)
	})
	if shared {
		s.logger.Debug("Collapsed duplicate submission", zap.String("post_id", page.PostID))
	}
	if err != nil {
		return &SubmitResult{Message: MsgNotSaved, Captcha: next}, err
	}

	out := v.(*stored)
	return &SubmitResult{
		Comment: out.comment,
		Stored:  out.kind,
		Message: out.message,
		Captcha: next,
		List:    out.list,
	}, nil
}

func (s *CommentService) store(ctx context.Context, page models.Page, comment *models.Comment) (*stored, error) {
	pctx, cancel := s.withTimeout(ctx)
	err := s.primary.Add(pctx, page, comment)
	cancel()
	if err == nil {
		list, _ := s.Load(ctx, page.PostID)
		return &stored{comment: comment, kind: s.primaryKind, message: MsgPosted, list: list}, nil
	}

	s.logger.Warn("Primary store failed to add comment",
		zap.String("post_id", page.PostID),
		zap.Bool("rate_limited", repositories.IsRateLimited(err)),
		zap.Error(err))
	if s.fallback == nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	local := &models.Comment{
		Author:  comment.Author,
		Content: comment.Content,
		PostID:  page.PostID,
		Local:   true,
	}
	if ferr := s.fallback.Add(ctx, page, local); ferr != nil {
		s.logger.Error("Fallback store failed to add comment", zap.String("post_id", page.PostID), zap.Error(ferr))
		return nil, fmt.Errorf("%w: %w", ErrStorage, errors.Join(err, ferr))
	}

	message := MsgSavedLocally
	if repositories.IsRateLimited(err) {
		message = MsgRateLimited
	}

	list := &CommentList{PostID: page.PostID, Source: StoredLocal, Message: message, comments: []*models.Comment{local}}
	if comments, lerr := s.fallback.List(ctx, page.PostID); lerr == nil {
		for _, c := range comments {
			c.Local = true
		}
		list.comments = comments
	}
	return &stored{comment: local, kind: StoredLocal, message: message, list: list}, nil
}

// IssueChallenge returns a new challenge for an empty form.
func (s *CommentService) IssueChallenge() captcha.Challenge {
	return s.captcha.Issue()
}

// RefreshChallenge replaces the challenge id with a new one.
func (s *CommentService) RefreshChallenge(id string) captcha.Challenge {
	return s.captcha.Refresh(id)
}

// Challenge returns the outstanding challenge id, if it is still valid.
func (s *CommentService) Challenge(id string) (captcha.Challenge, bool) {
	return s.captcha.Lookup(id)
}

func (s *CommentService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), models.ErrInvalidComment.Error()+": ")
	if msg == "" {
		return "Invalid comment."
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}
