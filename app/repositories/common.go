package repositories

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"commentbox/app/models"

	"github.com/dgraph-io/badger/v4"
)

const (
	// LocalKeyPrefix partitions the comments of the local backend.
	LocalKeyPrefix = "comments_"
	// FallbackKeyPrefix partitions comments saved after a remote failure.
	FallbackKeyPrefix = "local_comments_"

	// CommentSeqKey stores the last issued comment id.
	CommentSeqKey = "seq:comment"
)

var (
	// ErrMalformed reports stored comment data that could not be decoded.
	ErrMalformed = errors.New("malformed comment storage")
	// ErrRateLimited reports that the remote API refused the call for rate limiting.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// getNextID returns a millisecond timestamp id that is strictly greater than
// the last one issued for seqKey.
func getNextID(txn *badger.Txn, seqKey string, now time.Time) (int64, error) {
	id := now.UnixMilli()
	item, err := txn.Get([]byte(seqKey))
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return 0, fmt.Errorf("failed to get sequence: %w", err)
	}
	if err == nil {
		err = item.Value(func(val []byte) error {
			last, err := strconv.ParseInt(string(val), 10, 64)
			if err != nil {
				return fmt.Errorf("failed to parse sequence: %w", err)
			}
			if last >= id {
				id = last + 1
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	if err := txn.Set([]byte(seqKey), []byte(strconv.FormatInt(id, 10))); err != nil {
		return 0, fmt.Errorf("failed to update sequence: %w", err)
	}
	return id, nil
}

// marshalEntity marshals an entity to JSON
func marshalEntity(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity: %w", err)
	}
	return data, nil
}

// unmarshalEntity unmarshals JSON data into an entity
func unmarshalEntity(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// prepend inserts c at the head of list, keeping newest first.
func prepend(list []*models.Comment, c *models.Comment) []*models.Comment {
	out := make([]*models.Comment, 0, len(list)+1)
	out = append(out, c)
	return append(out, list...)
}
