package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"iter"
	"time"

	"commentbox/app/models"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

//go:embed templates/*.html
var templateFS embed.FS

// DefaultDateFormat is used when Options.DateFormat is empty.
const DefaultDateFormat = "Jan 2, 2006 15:04"

// Options controls how comments are rendered.
type Options struct {
	// Markdown renders comment content as sanitized Markdown instead of
	// plain text.
	Markdown   bool
	DateFormat string
	Location   *time.Location
}

// Renderer turns comments into HTML.
type Renderer struct {
	templates *template.Template
	md        goldmark.Markdown
	policy    *bluemonday.Policy
	dateFmt   string
	loc       *time.Location
	markdown  bool
}

// NewRenderer parses the embedded templates.
func NewRenderer(opts Options) (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	r := &Renderer{
		templates: tmpl,
		dateFmt:   opts.DateFormat,
		loc:       opts.Location,
		markdown:  opts.Markdown,
	}
	if r.dateFmt == "" {
		r.dateFmt = DefaultDateFormat
	}
	if r.loc == nil {
		r.loc = time.UTC
	}
	if r.markdown {
		// goldmark drops raw HTML unless WithUnsafe is set.
		r.md = goldmark.New()
		r.policy = bluemonday.UGCPolicy()
	}
	return r, nil
}

// Item is a comment prepared for a template.
type Item struct {
	ID     int64
	Author string
	Date   string
	Local  bool
	Text   string
	HTML   template.HTML
}

// Widget is everything the comment widget shows.
type Widget struct {
	PostID      string
	Title       string
	URL         string
	Action      string
	Message     string
	ChallengeID string
	Question    string
	// Author and Content refill the form after a rejected submission.
	Author     string
	Content    string
	MaxAuthor  int
	MaxContent int
	Comments   []Item
}

// Items converts comments for rendering, keeping their order.
func (r *Renderer) Items(comments iter.Seq[*models.Comment]) ([]Item, error) {
	items := []Item{}
	for c := range comments {
		item := Item{
			ID:     c.ID,
			Author: c.Author,
			Local:  c.Local,
		}
		if !c.Date.IsZero() {
			item.Date = c.Date.In(r.loc).Format(r.dateFmt)
		}
		if r.markdown {
			html, err := r.markdownHTML(c.Content)
			if err != nil {
				return nil, err
			}
			item.HTML = html
		} else {
			item.Text = c.Content
		}
		items = append(items, item)
	}
	return items, nil
}

// Render writes the list fragment for comments.
func (r *Renderer) Render(w io.Writer, comments iter.Seq[*models.Comment]) error {
	items, err := r.Items(comments)
	if err != nil {
		return err
	}
	return r.execute(w, "comments", items)
}

// RenderWidget writes the list and the form without a page around them.
func (r *Renderer) RenderWidget(w io.Writer, data Widget) error {
	return r.execute(w, "widget", r.defaults(data))
}

// RenderPage writes a standalone HTML page holding the widget.
func (r *Renderer) RenderPage(w io.Writer, data Widget) error {
	return r.execute(w, "layout", r.defaults(data))
}

func (r *Renderer) defaults(data Widget) Widget {
	if data.MaxAuthor == 0 {
		data.MaxAuthor = models.MaxAuthorLength
	}
	if data.MaxContent == 0 {
		data.MaxContent = models.MaxContentLength
	}
	if data.Comments == nil {
		data.Comments = []Item{}
	}
	return data
}

// execute renders into a buffer first so a failing template never leaves
// half a page on w.
func (r *Renderer) execute(w io.Writer, name string, data interface{}) error {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

func (r *Renderer) markdownHTML(content string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return template.HTML(r.policy.SanitizeBytes(buf.Bytes())), nil
}
