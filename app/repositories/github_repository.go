package repositories

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"commentbox/app/models"

	"github.com/google/go-github/v66/github"
	"golang.org/x/sync/errgroup"
)

// GitHubMode selects how comments are laid out on the issue tracker.
type GitHubMode string

const (
	// ThreadMode keeps one issue per post and stores comments as issue comments.
	ThreadMode GitHubMode = "thread"
	// IssueMode opens one issue per comment; issue comments are replies.
	IssueMode GitHubMode = "issue"
)

const (
	CommentLabel     = "comment"
	BlogCommentLabel = "blog-comment"

	replyFetchLimit = 4
	perPage         = 100
	maxLabelLength  = 50
)

// ErrUnlabelablePost is returned for post ids that cannot form a GitHub
// label: label filters are comma separated and labels hold 50 characters.
var ErrUnlabelablePost = errors.New("post id cannot be used as a github label")

var authorPrefix = regexp.MustCompile(`^\*\*(.*?)\*\* says:\r?\n\r?\n`)

// PostLabel is the label that ties an issue to a post.
func PostLabel(postID string) string {
	return CommentLabel + ":" + postID
}

func checkPostLabel(postID string) error {
	if strings.Contains(postID, ",") || utf8.RuneCountInString(PostLabel(postID)) > maxLabelLength {
		return fmt.Errorf("%w: %q", ErrUnlabelablePost, postID)
	}
	return nil
}

// GitHubOptions configures a GitHubRepository.
type GitHubOptions struct {
	Owner      string
	Repo       string
	Token      string
	Mode       GitHubMode
	BaseURL    string
	HTTPClient *http.Client
}

// GitHubRepository implements CommentRepository on GitHub issues.
type GitHubRepository struct {
	client *github.Client
	owner  string
	repo   string
	mode   GitHubMode
}

// NewGitHubRepository creates a repository talking to the GitHub REST API.
func NewGitHubRepository(opts GitHubOptions) (*GitHubRepository, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, errors.New("github owner and repo are required")
	}

	client := github.NewClient(opts.HTTPClient)
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		client.BaseURL = u
	}

	mode := opts.Mode
	switch mode {
	case "":
		mode = ThreadMode
	case ThreadMode, IssueMode:
	default:
		return nil, fmt.Errorf("unknown github mode %q", mode)
	}

	return &GitHubRepository{
		client: client,
		owner:  opts.Owner,
		repo:   opts.Repo,
		mode:   mode,
	}, nil
}

// Mode returns the layout used on the tracker.
func (r *GitHubRepository) Mode() GitHubMode {
	return r.mode
}

// List returns the comments of postID, newest first.
func (r *GitHubRepository) List(ctx context.Context, postID string) ([]*models.Comment, error) {
	if checkPostLabel(postID) != nil {
		// No issue can carry the label, so there is nothing to list.
		return []*models.Comment{}, nil
	}
	if r.mode == IssueMode {
		return r.listIssues(ctx, postID)
	}

	thread, err := r.FindThread(ctx, postID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return []*models.Comment{}, nil
	}

	replies, err := r.listComments(ctx, thread.Number)
	if err != nil {
		return nil, err
	}

	comments := make([]*models.Comment, 0, len(replies))
	for i := len(replies) - 1; i >= 0; i-- {
		comments = append(comments, threadComment(postID, replies[i]))
	}
	return comments, nil
}

// Add posts comment to the tracker.
func (r *GitHubRepository) Add(ctx context.Context, page models.Page, comment *models.Comment) error {
	if err := comment.SetPage(page); err != nil {
		return err
	}
	if err := checkPostLabel(page.PostID); err != nil {
		return err
	}
	if r.mode == IssueMode {
		return r.addIssue(ctx, page, comment)
	}

	thread, err := r.EnsureThread(ctx, page)
	if err != nil {
		return err
	}

	body := FormatThreadComment(comment.Author, comment.Content)
	created, _, err := r.client.Issues.CreateComment(ctx, r.owner, r.repo, thread.Number, &github.IssueComment{Body: &body})
	if err != nil {
		return wrapGitHubError("create comment", err)
	}
	comment.ID = created.GetID()
	if ts := created.GetCreatedAt(); !ts.IsZero() {
		comment.Date = ts.UTC()
	}
	return nil
}

// FindThread returns the open thread of postID, or nil when none exists.
func (r *GitHubRepository) FindThread(ctx context.Context, postID string) (*models.Thread, error) {
	issues, _, err := r.client.Issues.ListByRepo(ctx, r.owner, r.repo, &github.IssueListByRepoOptions{
		State:  "open",
		Labels: []string{CommentLabel, PostLabel(postID)},
	})
	if err != nil {
		return nil, wrapGitHubError("find thread", err)
	}
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		return &models.Thread{
			Number: issue.GetNumber(),
			Title:  issue.GetTitle(),
			PostID: postID,
			URL:    issue.GetHTMLURL(),
		}, nil
	}
	return nil, nil
}

// EnsureThread locates the thread of the page's post, creating it if needed.
func (r *GitHubRepository) EnsureThread(ctx context.Context, page models.Page) (*models.Thread, error) {
	thread, err := r.FindThread(ctx, page.PostID)
	if err != nil || thread != nil {
		return thread, err
	}

	title := page.Title
	if title == "" {
		title = page.PostID
	}
	title = "Comments for: " + title
	body := fmt.Sprintf("Comment thread for %q.", title)
	if page.URL != "" {
		body += "\n\nPost: " + page.URL
	}
	labels := []string{CommentLabel, PostLabel(page.PostID)}

	issue, _, err := r.client.Issues.Create(ctx, r.owner, r.repo, &github.IssueRequest{
		Title:  &title,
		Body:   &body,
		Labels: &labels,
	})
	if err != nil {
		return nil, wrapGitHubError("create thread", err)
	}
	return &models.Thread{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		PostID: page.PostID,
		URL:    issue.GetHTMLURL(),
	}, nil
}

func (r *GitHubRepository) addIssue(ctx context.Context, page models.Page, comment *models.Comment) error {
	title := fmt.Sprintf("Comment by %s - %s", comment.Author, page.PostID)
	body := comment.Content
	labels := []string{PostLabel(page.PostID), BlogCommentLabel}

	issue, _, err := r.client.Issues.Create(ctx, r.owner, r.repo, &github.IssueRequest{
		Title:  &title,
		Body:   &body,
		Labels: &labels,
	})
	if err != nil {
		return wrapGitHubError("create comment issue", err)
	}
	comment.ID = issue.GetID()
	if ts := issue.GetCreatedAt(); !ts.IsZero() {
		comment.Date = ts.UTC()
	}
	return nil
}

func (r *GitHubRepository) listIssues(ctx context.Context, postID string) ([]*models.Comment, error) {
	issues, _, err := r.client.Issues.ListByRepo(ctx, r.owner, r.repo, &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      []string{PostLabel(postID)},
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	})
	if err != nil {
		return nil, wrapGitHubError("list comment issues", err)
	}

	var kept []*github.Issue
	for _, issue := range issues {
		if !issue.IsPullRequest() {
			kept = append(kept, issue)
		}
	}

	// Replies of a single issue that fail to load are left out.
	replies := make([][]*github.IssueComment, len(kept))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(replyFetchLimit)
	for i, issue := range kept {
		if issue.GetComments() == 0 {
			continue
		}
		g.Go(func() error {
			list, err := r.listComments(gctx, issue.GetNumber())
			if err != nil {
				return gctx.Err()
			}
			replies[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	comments := make([]*models.Comment, 0, len(kept))
	for i, issue := range kept {
		comments = append(comments, issueComment(postID, issue))
		for _, reply := range replies[i] {
			comments = append(comments, &models.Comment{
				ID:       reply.GetID(),
				Author:   reply.GetUser().GetLogin(),
				Content:  reply.GetBody(),
				Date:     reply.GetCreatedAt().UTC(),
				PostID:   postID,
				ParentID: issue.GetID(),
			})
		}
	}
	return comments, nil
}

func (r *GitHubRepository) listComments(ctx context.Context, number int) ([]*github.IssueComment, error) {
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	var all []*github.IssueComment
	for {
		page, resp, err := r.client.Issues.ListComments(ctx, r.owner, r.repo, number, opts)
		if err != nil {
			return nil, wrapGitHubError("list comments", err)
		}
		all = append(all, page...)
		if resp == nil || resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// FormatThreadComment renders the issue comment body used in thread mode.
func FormatThreadComment(author, content string) string {
	return fmt.Sprintf("**%s** says:\n\n%s", author, content)
}

// ParseThreadComment splits a thread mode body into author and content. ok
// is false when the body was not written by FormatThreadComment.
func ParseThreadComment(body string) (author, content string, ok bool) {
	m := authorPrefix.FindStringSubmatchIndex(body)
	if m == nil {
		return "", body, false
	}
	return body[m[2]:m[3]], body[m[1]:], true
}

func threadComment(postID string, c *github.IssueComment) *models.Comment {
	author, content, ok := ParseThreadComment(c.GetBody())
	if !ok {
		author = c.GetUser().GetLogin()
	}
	return &models.Comment{
		ID:      c.GetID(),
		Author:  author,
		Content: content,
		Date:    c.GetCreatedAt().UTC(),
		PostID:  postID,
	}
}

func issueComment(postID string, issue *github.Issue) *models.Comment {
	author := strings.TrimPrefix(issue.GetTitle(), "Comment by ")
	author, _, _ = strings.Cut(author, " - ")
	return &models.Comment{
		ID:      issue.GetID(),
		Author:  author,
		Content: issue.GetBody(),
		Date:    issue.GetCreatedAt().UTC(),
		PostID:  postID,
	}
}

// IsRateLimited reports whether err came from a rate limited API call.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var rle *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &abuse) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

func wrapGitHubError(op string, err error) error {
	if IsRateLimited(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ CommentRepository = (*GitHubRepository)(nil)
