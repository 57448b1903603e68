package cms

import (
	"crypto/rand"
	"io"
	"time"

	"go.uber.org/zap"
)

// Engine builds and extends signature containers. It holds only immutable
// collaborators and is safe for concurrent use; everything that varies per
// signature is passed as an Option on each call.
type Engine struct {
	logger *zap.Logger
	now    func() time.Time
	rand   io.Reader
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used for debug tracing. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the time source for the signing-time attribute.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRandom sets the randomness source for signatures and content keys.
func WithRandom(r io.Reader) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.rand = r
		}
	}
}

// NewEngine returns an Engine with the given options applied.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger: zap.NewNop(),
		now:    time.Now,
		rand:   rand.Reader,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}
