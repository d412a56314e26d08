// Package dispatch is the delayed-task boundary used by keep-warm refresh.
//
// A Dispatcher accepts an opaque payload and runs the registered Handler with
// it after delay. Channels are priority lanes; how they are honored is up to
// the implementation. Delivery is at most once: a task lost to a crash is a
// refresh chain that ends early, which the cache tolerates.
package dispatch

import (
	"context"
	"errors"
	"time"
)

type Dispatcher interface {
	Enqueue(ctx context.Context, payload []byte, delay time.Duration, channel string) error
}

// Handler runs a due task. Returned errors are logged by the dispatcher, the
// task is not retried.
type Handler func(ctx context.Context, payload []byte) error

var ErrClosed = errors.New("dispatch: closed")

// Func adapts a plain function to Dispatcher.
type Func func(ctx context.Context, payload []byte, delay time.Duration, channel string) error

func (f Func) Enqueue(ctx context.Context, payload []byte, delay time.Duration, channel string) error {
	return f(ctx, payload, delay, channel)
}
