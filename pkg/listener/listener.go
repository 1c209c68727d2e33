// Package listener runs a single goroutine that drains a channel, handing
// every received value to a handler in arrival order.
package listener

import (
	"context"
	"log/slog"
	"sync"
)

// Job is a background worker with an explicit lifecycle.
type Job interface {
	Start(ctx context.Context)
	Stop()
}

// Listener consumes values from in one at a time. Values are handled in the
// order they were sent and never concurrently.
type Listener[T any] struct {
	handler     func(input T) error
	stopHandler func()

	in     <-chan T
	wg     sync.WaitGroup
	cancel func()
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger
}

var _ Job = (*Listener[int])(nil)

// New creates a listener over in. The optional stopHandler runs once after
// the consuming goroutine has exited.
func New[T any](
	in <-chan T,
	handler func(T) error,
	stopHandler ...func(),
) *Listener[T] {
	if len(stopHandler) == 0 {
		stopHandler = []func(){func() {}}
	}

	return &Listener[T]{
		in:          in,
		handler:     handler,
		cancel:      func() {},
		stopHandler: stopHandler[0],
		done:        make(chan struct{}),
		log:         slog.Default(),
	}
}

// WithLogger sets the logger used for handler failures.
func (l *Listener[T]) WithLogger(log *slog.Logger) *Listener[T] {
	if log != nil {
		l.log = log
	}
	return l
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			select {
			case inp, ok := <-l.in:
				if !ok {
					return
				}
				if err := l.handler(inp); err != nil {
					l.log.Error("listener handler failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Done is closed once Stop has been called.
func (l *Listener[T]) Done() <-chan struct{} {
	return l.done
}

// Stop cancels the consuming goroutine, waits for the value in flight and
// runs the stop handler. Values still queued in the channel are not handled.
func (l *Listener[T]) Stop() {
	l.once.Do(func() {
		close(l.done)
		l.cancel()
		l.wg.Wait()
		l.stopHandler()
	})
}
