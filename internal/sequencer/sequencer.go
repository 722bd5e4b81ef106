// Package sequencer issues asynchronous sanitize calls and delivers only
// the result of the most recently submitted call.
//
// Completion order of the underlying calls is not assumed to match issue
// order. Each Submit takes the next value of a counter; when a call
// completes its result is delivered only if no later Submit has happened
// since. Superseded calls run to completion and their results are dropped.
package sequencer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"linkcleaner/internal/metrics"
)

// Sanitizer turns raw text into sanitized text. Implementations may be
// slow and may fail; they must not reorder or insert characters.
type Sanitizer interface {
	Sanitize(ctx context.Context, text string) (string, error)
}

// SanitizeFunc adapts a function to Sanitizer.
type SanitizeFunc func(ctx context.Context, text string) (string, error)

// Sanitize implements Sanitizer.
func (f SanitizeFunc) Sanitize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Executor runs a continuation on the caller's logical thread. The
// staleness check and delivery both happen inside the continuation, so a
// caller that also submits from that thread observes a consistent counter.
type Executor func(func())

// Inline runs continuations on the completing goroutine.
func Inline(fn func()) { fn() }

// Result is delivered for the current request only.
type Result struct {
	RequestID uint64
	Source    string
	Text      string
	Err       error
}

// Sequencer owns the request counter for one editing surface.
type Sequencer struct {
	sanitizer Sanitizer
	exec      Executor
	logger    *slog.Logger
	metrics   *metrics.SyncMetrics

	counter atomic.Uint64
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithExecutor sets where results are delivered. Defaults to Inline.
func WithExecutor(exec Executor) Option {
	return func(s *Sequencer) { s.exec = exec }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

// New returns a Sequencer calling sanitizer.
func New(sanitizer Sanitizer, opts ...Option) *Sequencer {
	s := &Sequencer{
		sanitizer: sanitizer,
		exec:      Inline,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit starts sanitizing text and returns the request id. deliver is
// called at most once, through the executor, and only if the request is
// still current when it completes. Failures follow the same rule.
func (s *Sequencer) Submit(ctx context.Context, text string, deliver func(Result)) uint64 {
	id := s.counter.Add(1)
	s.metrics.RecordIssued()

	go func() {
		start := time.Now()
		out, err := s.sanitizer.Sanitize(ctx, text)
		elapsed := time.Since(start)

		s.exec(func() {
			if current := s.counter.Load(); id != current {
				s.logger.Debug("dropping stale result", "request_id", id, "current", current)
				s.metrics.RecordSanitize(elapsed, true, nil)
				return
			}
			s.metrics.RecordSanitize(elapsed, false, err)
			if err != nil {
				s.logger.Warn("sanitize failed", "request_id", id, "error", err)
			}
			deliver(Result{RequestID: id, Source: text, Text: out, Err: err})
		})
	}()

	return id
}

// Current returns the id of the most recent Submit, or 0 if none.
func (s *Sequencer) Current() uint64 {
	return s.counter.Load()
}

// IsCurrent reports whether id is still the freshest request.
func (s *Sequencer) IsCurrent(id uint64) bool {
	return id == s.counter.Load()
}
