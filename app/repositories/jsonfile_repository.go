package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"commentbox/app/models"

	"github.com/fsnotify/fsnotify"
)

// commentsFileMode is used for a new comments file so the site build can read it.
const commentsFileMode = 0o644

// commentsDocument is the on-disk layout of the comments file.
type commentsDocument struct {
	Comments map[string][]*models.Comment `json:"comments"`
}

// JSONFileRepository implements CommentRepository on a single JSON file of
// the form {"comments": {"<postId>": [...]}} that a static site build reads.
type JSONFileRepository struct {
	path string
	now  func() time.Time

	mu     sync.Mutex
	cached *commentsDocument
	lastID int64
}

// NewJSONFileRepository creates a repository backed by the file at path.
// The file does not need to exist yet.
func NewJSONFileRepository(path string) *JSONFileRepository {
	return &JSONFileRepository{path: path, now: time.Now}
}

// Path returns the location of the comments file.
func (r *JSONFileRepository) Path() string {
	return r.path
}

// List returns the comments of postID. A missing file is an empty list; a
// malformed one is an empty list plus ErrMalformed.
func (r *JSONFileRepository) List(ctx context.Context, postID string) ([]*models.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc := r.cached
	if doc == nil {
		var err error
		doc, err = r.read()
		if err != nil {
			return []*models.Comment{}, err
		}
		r.cached = doc
	}

	comments := doc.Comments[postID]
	out := make([]*models.Comment, len(comments))
	copy(out, comments)
	return out, nil
}

// Add prepends comment to its post and rewrites the file.
func (r *JSONFileRepository) Add(ctx context.Context, page models.Page, comment *models.Comment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := comment.SetPage(page); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}

	now := r.now()
	comment.ID = now.UnixMilli()
	if comment.ID <= r.lastID {
		comment.ID = r.lastID + 1
	}
	r.lastID = comment.ID
	comment.BeforeCreate(now)

	doc.Comments[page.PostID] = prepend(doc.Comments[page.PostID], comment)
	if err := r.write(doc); err != nil {
		return err
	}
	r.cached = doc
	return nil
}

// Invalidate drops the cached document so the next List re-reads the file.
func (r *JSONFileRepository) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// Watch invalidates the cache whenever the file changes on disk, until ctx
// is done. The parent directory is watched so atomic replacements are seen.
func (r *JSONFileRepository) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create comments directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) == target {
				r.Invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
}

func (r *JSONFileRepository) read() (*commentsDocument, error) {
	doc := &commentsDocument{}
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		doc.Comments = map[string][]*models.Comment{}
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read comments file: %w", err)
	}
	if err := unmarshalEntity(data, doc); err != nil {
		return nil, err
	}
	if doc.Comments == nil {
		doc.Comments = map[string][]*models.Comment{}
	}
	return doc, nil
}

func (r *JSONFileRepository) write(doc *commentsDocument) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create comments directory: %w", err)
	}

	mode := os.FileMode(commentsFileMode)
	if info, err := os.Stat(r.path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "comments-*.json")
	if err != nil {
		return fmt.Errorf("create temp comments file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod temp comments file: %w", err)
	}

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode comments: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp comments file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist comments: %w", err)
	}
	return nil
}

var _ CommentRepository = (*JSONFileRepository)(nil)
