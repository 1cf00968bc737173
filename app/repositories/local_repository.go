package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commentbox/app/models"

	"github.com/dgraph-io/badger/v4"
)

// LocalRepository implements CommentRepository on a Badger key/value store.
// Each post is one key, <prefix><postId>, holding the JSON array of its
// comments, newest first.
type LocalRepository struct {
	db     *badger.DB
	prefix string
	now    func() time.Time
}

// NewLocalRepository creates a repository storing under prefix.
func NewLocalRepository(db *badger.DB, prefix string) *LocalRepository {
	return &LocalRepository{db: db, prefix: prefix, now: time.Now}
}

// Prefix returns the key prefix of this repository.
func (r *LocalRepository) Prefix() string {
	return r.prefix
}

func (r *LocalRepository) key(postID string) []byte {
	return []byte(r.prefix + postID)
}

// List returns the comments stored for postID. A value that cannot be
// decoded is reported as ErrMalformed together with an empty list.
func (r *LocalRepository) List(ctx context.Context, postID string) ([]*models.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var comments []*models.Comment
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.key(postID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return unmarshalEntity(val, &comments)
		})
	})
	if errors.Is(err, ErrMalformed) {
		return []*models.Comment{}, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read comments: %w", err)
	}
	if comments == nil {
		comments = []*models.Comment{}
	}
	return comments, nil
}

// Add stores comment at the head of its post's list and assigns its id.
// A malformed stored list is replaced.
func (r *LocalRepository) Add(ctx context.Context, page models.Page, comment *models.Comment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := comment.SetPage(page); err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		now := r.now()
		if !comment.Date.IsZero() {
			now = comment.Date
		}
		id, err := getNextID(txn, CommentSeqKey, now)
		if err != nil {
			return err
		}
		comment.ID = id
		comment.BeforeCreate(now)

		var existing []*models.Comment
		item, err := txn.Get(r.key(page.PostID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("failed to read comments: %w", err)
		default:
			err = item.Value(func(val []byte) error {
				return unmarshalEntity(val, &existing)
			})
			if err != nil && !errors.Is(err, ErrMalformed) {
				return err
			}
			if err != nil {
				existing = nil
			}
		}

		data, err := marshalEntity(prepend(existing, comment))
		if err != nil {
			return err
		}
		return txn.Set(r.key(page.PostID), data)
	})
}

// Posts returns the post ids that have at least one stored comment.
func (r *LocalRepository) Posts(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(r.prefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return ids, err
}

var _ CommentRepository = (*LocalRepository)(nil)
