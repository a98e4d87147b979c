// Package settings holds the user's detection mode and analyzer
// credentials. A Store persists them and announces changes; State is the
// live copy the annotator reads from.
package settings

import (
	"context"
	"sync"

	"github.com/menta2k/image-annotator/internal/queue"
)

// Stored keys
const (
	KeyAPIKey      = "apiKey"
	KeyAPIEndpoint = "apiEndpoint"
	KeyMode        = "mode"
	// KeyLegacyMode is the name older versions stored the mode under
	KeyLegacyMode = "key"
)

// AllKeys lists every key the annotator reads
var AllKeys = []string{KeyAPIKey, KeyAPIEndpoint, KeyMode, KeyLegacyMode}

// Change is the new state of one key
type Change struct {
	NewValue string `json:"newValue"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// ChangeSet is everything one write changed, keyed by setting name
type ChangeSet map[string]Change

// Store is a key-value settings store with change notification.
type Store interface {
	// Get returns the present keys only; absent keys are missing from the map
	Get(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
	// Subscribe delivers one ChangeSet per write until ctx is done
	Subscribe(ctx context.Context) (<-chan ChangeSet, error)
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	subs   map[*queue.Queue[ChangeSet]]struct{}
}

func NewMemoryStore(initial map[string]string) *MemoryStore {
	s := &MemoryStore{
		values: map[string]string{},
		subs:   map[*queue.Queue[ChangeSet]]struct{}{},
	}
	for k, v := range initial {
		s.values[k] = v
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, keys ...string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := ChangeSet{}
	for k, v := range values {
		s.values[k] = v
		cs[k] = Change{NewValue: v}
	}
	s.publish(cs)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := ChangeSet{}
	for _, k := range keys {
		if _, ok := s.values[k]; ok {
			delete(s.values, k)
			cs[k] = Change{Deleted: true}
		}
	}
	if len(cs) > 0 {
		s.publish(cs)
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context) (<-chan ChangeSet, error) {
	q := queue.New[ChangeSet]()
	s.mu.Lock()
	s.subs[q] = struct{}{}
	s.mu.Unlock()

	out := make(chan ChangeSet)
	go func() {
		defer close(out)
		defer func() {
			s.mu.Lock()
			delete(s.subs, q)
			s.mu.Unlock()
			q.Close()
		}()
		for {
			cs, err := q.Pop(ctx)
			if err != nil {
				return
			}
			select {
			case out <- cs:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// publish must be called with s.mu held
func (s *MemoryStore) publish(cs ChangeSet) {
	for q := range s.subs {
		q.Push(cs)
	}
}
