package repositories

import (
	"context"

	"commentbox/app/models"
)

// CommentRepository defines the interface for comment data access.
// Implementations return comments newest first.
type CommentRepository interface {
	List(ctx context.Context, postID string) ([]*models.Comment, error)
	Add(ctx context.Context, page models.Page, comment *models.Comment) error
}
