// Package notice delivers user-facing messages: the missing-credentials
// prompt and analysis failures.
package notice

import (
	"sync"

	"github.com/cyclopcam/logs"

	"github.com/menta2k/image-annotator/pkg/failure"
)

// MissingCredentials is shown when an analysis is attempted without an API key
const MissingCredentials = "Please set your Computer Vision API key in the annotator settings."

type Notice struct {
	Kind    failure.Kind
	Message string
	Source  string // image the notice is about, if any
}

type Notifier interface {
	Notify(Notice)
}

// Func adapts a function to Notifier
type Func func(Notice)

func (f Func) Notify(n Notice) { f(n) }

// Multi fans a notice out to several notifiers
type Multi []Notifier

func (m Multi) Notify(n Notice) {
	for _, x := range m {
		if x != nil {
			x.Notify(n)
		}
	}
}

// Log writes notices to a logger
type Log struct {
	Log logs.Log
}

func (l Log) Notify(n Notice) {
	if n.Kind == failure.KindConfig {
		l.Log.Warnf("Notice: %v", n.Message)
		return
	}
	l.Log.Errorf("Notice: %v (%v)", n.Message, n.Source)
}

// Recorder keeps every notice, for tests and for end-of-run summaries
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}
