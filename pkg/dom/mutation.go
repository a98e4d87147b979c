package dom

import (
	"context"
	"iter"

	"golang.org/x/net/html"

	"github.com/menta2k/image-annotator/internal/queue"
)

// Batch is one mutation record: the root nodes inserted by a single operation
type Batch struct {
	Added []*html.Node
}

// Subscription is a live feed of insertion batches. Batches are queued
// without bound, so publishing never blocks the document owner.
type Subscription struct {
	doc *Document
	q   *queue.Queue[Batch]
}

// Subscribe starts a new feed. Only insertions after this call are delivered.
func (d *Document) Subscribe() *Subscription {
	s := &Subscription{doc: d, q: queue.New[Batch]()}
	d.subMu.Lock()
	d.subs[s] = struct{}{}
	d.subMu.Unlock()
	return s
}

func (d *Document) publish(b Batch) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for s := range d.subs {
		s.q.Push(b)
	}
}

// Next blocks until the next batch arrives
func (s *Subscription) Next(ctx context.Context) (Batch, error) {
	return s.q.Pop(ctx)
}

// All yields batches until ctx is cancelled or the subscription is closed
func (s *Subscription) All(ctx context.Context) iter.Seq[Batch] {
	return func(yield func(Batch) bool) {
		for {
			b, err := s.q.Pop(ctx)
			if err != nil {
				return
			}
			if !yield(b) {
				return
			}
		}
	}
}

// Close stops delivery. Batches already queued can still be drained.
func (s *Subscription) Close() {
	s.doc.subMu.Lock()
	delete(s.doc.subs, s)
	s.doc.subMu.Unlock()
	s.q.Close()
}

// Pending is the number of undelivered batches
func (s *Subscription) Pending() int {
	return s.q.Len()
}
