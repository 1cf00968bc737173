package mock

import (
	"context"
	"sync"

	"commentbox/app/models"
	"commentbox/app/repositories"
)

// CommentRepository is an in-memory repositories.CommentRepository whose
// calls can be made to fail.
type CommentRepository struct {
	comments map[string][]*models.Comment
	nextID   int64
	mutex    sync.RWMutex

	// ListErr and AddErr, when set, are returned instead of touching the data.
	ListErr error
	AddErr  error

	Pages []models.Page
	Adds  int
}

func NewCommentRepository() *CommentRepository {
	return &CommentRepository{
		comments: make(map[string][]*models.Comment),
		nextID:   1,
	}
}

func (m *CommentRepository) Clear() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.comments = make(map[string][]*models.Comment)
	m.nextID = 1
	m.Pages = nil
	m.Adds = 0
}

func (m *CommentRepository) List(_ context.Context, postID string) ([]*models.Comment, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]*models.Comment, len(m.comments[postID]))
	copy(out, m.comments[postID])
	return out, nil
}

func (m *CommentRepository) Add(_ context.Context, page models.Page, comment *models.Comment) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.Adds++
	if m.AddErr != nil {
		return m.AddErr
	}
	if err := comment.SetPage(page); err != nil {
		return err
	}
	comment.ID = m.nextID
	m.nextID++
	m.Pages = append(m.Pages, page)
	m.comments[page.PostID] = append([]*models.Comment{comment}, m.comments[page.PostID]...)
	return nil
}

var _ repositories.CommentRepository = (*CommentRepository)(nil)
