package captcha

import (
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"
)

// DefaultCapacity bounds the number of outstanding challenges per registry.
const DefaultCapacity = 1024

// ErrWrongAnswer is returned for a wrong, non-numeric or unknown answer.
var ErrWrongAnswer = errors.New("captcha answer is wrong")

// Registry remembers issued challenges. Every
// challenge can be verified once.
type Registry struct {
	mu      sync.Mutex
	gen     *Generator
	pending *lru.Cache
}

// NewRegistry creates a registry holding at most capacity challenges; the
// least recently issued ones are forgotten first.
func NewRegistry(gen *Generator, capacity int) *Registry {
	if gen == nil {
		gen = NewGenerator(nil)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		gen:     gen,
		pending: lru.New(capacity),
	}
}

// Issue generates a challenge and records its answer.
func (r *Registry) Issue() Challenge {
	c := r.gen.Generate()
	c.ID = uuid.NewString()

	r.mu.Lock()
	r.pending.Add(c.ID, c)
	r.mu.Unlock()

	return c
}

// Verify checks input against the challenge id and consumes it. A fresh
// challenge is always returned so the form can be re-rendered.
func (r *Registry) Verify(id, input string) (Challenge, error) {
	issued, ok := r.take(id)
	next := r.Issue()
	if !ok {
		return next, ErrWrongAnswer
	}

	got, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || got != issued.Answer() {
		return next, ErrWrongAnswer
	}
	return next, nil
}

// Refresh discards the challenge id, if any, and issues a new one.
func (r *Registry) Refresh(id string) Challenge {
	r.take(id)
	return r.Issue()
}

// Len reports the number of outstanding challenges.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.Len()
}

// Lookup returns the outstanding challenge id without consuming it.
func (r *Registry) Lookup(id string) (Challenge, bool) {
	if id == "" {
		return Challenge{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.pending.Get(id)
	if !ok {
		return Challenge{}, false
	}
	return v.(Challenge), true
}

func (r *Registry) take(id string) (Challenge, bool) {
	if id == "" {
		return Challenge{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.pending.Get(id)
	if !ok {
		return Challenge{}, false
	}
	r.pending.Remove(id)
	return v.(Challenge), true
}
