package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Comment represents a comment on a blog post.
type Comment struct {
	ID       int64     `json:"id" validate:"gte=0"`
	Author   string    `json:"author" validate:"required,max=50"`
	Content  string    `json:"content" validate:"required,max=1000"`
	Date     time.Time `json:"date"`
	PostID   string    `json:"postId" validate:"required"`
	Local    bool      `json:"local,omitempty"`
	ParentID int64     `json:"parentId,omitempty"`
}

// Page identifies the page a comment is submitted from.
type Page struct {
	PostID string
	Title  string
	URL    string
}

// Thread is the remote discussion collecting the comments of one post.
type Thread struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	PostID string `json:"postId"`
	URL    string `json:"url,omitempty"`
}
