package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	MaxAuthorLength  = 50
	MaxContentLength = 1000
)

// ErrInvalidComment is wrapped by every validation failure.
var ErrInvalidComment = errors.New("invalid comment")

// Normalize trims surrounding whitespace from the user supplied fields.
func (c *Comment) Normalize() {
	c.Author = strings.TrimSpace(c.Author)
	c.Content = strings.TrimSpace(c.Content)
}

// Validate checks if the comment meets all validation requirements
func (c *Comment) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidComment, err)
	}
	return fmt.Errorf("%w: %s", ErrInvalidComment, describe(fieldErrs[0]))
}

// BeforeCreate sets up any necessary fields before creation
func (c *Comment) BeforeCreate(now time.Time) {
	if c.Date.IsZero() {
		c.Date = now.UTC()
	}
	if c.ID == 0 {
		c.ID = now.UnixMilli()
	}
}

// SetPage sets the partition the comment belongs to.
func (c *Comment) SetPage(page Page) error {
	if page.PostID == "" {
		return errors.New("post id cannot be empty")
	}
	c.PostID = page.PostID
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	if fe.Field() == "PostID" {
		field = "post id"
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
