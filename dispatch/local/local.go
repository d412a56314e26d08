// Package local is an in-process Dispatcher: one timer per task, a bounded
// queue of due tasks and a fixed worker pool. Tasks die with the process.
//
//	d := local.New(cache.HandleRefresh, local.Options{Workers: 2})
//	defer d.Close()
//	cache, _ := slicecache.New(slicecache.Options{..., Dispatcher: d})
//
// The handler can be bound after construction with Bind when the handler's
// owner needs the dispatcher first.
package local

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unkn0wn-root/slicecache/dispatch"
)

var ErrQueueFull = errors.New("dispatch/local: queue full, task dropped")

type Options struct {
	Workers  int                             // 0 => 1
	QueueLen int                             // due tasks waiting for a worker; 0 => 1024
	OnError  func(channel string, err error) // handler errors and drops; nil ignores
}

type job struct {
	payload []byte
	channel string
}

type Dispatcher struct {
	opts Options

	mu      sync.Mutex
	handler dispatch.Handler
	timers  map[*time.Timer]struct{}
	closed  bool

	q      chan job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

func New(h dispatch.Handler, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueLen <= 0 {
		opts.QueueLen = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		opts:    opts,
		handler: h,
		timers:  make(map[*time.Timer]struct{}),
		q:       make(chan job, opts.QueueLen),
		ctx:     ctx,
		cancel:  cancel,
	}
	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.work()
	}
	return d
}

// Bind sets the handler for tasks that become due from now on.
func (d *Dispatcher) Bind(h dispatch.Handler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

func (d *Dispatcher) Enqueue(_ context.Context, payload []byte, delay time.Duration, channel string) error {
	j := job{payload: append([]byte(nil), payload...), channel: channel}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return dispatch.ErrClosed
	}
	var t *time.Timer
	t = time.AfterFunc(max(delay, 0), func() {
		d.mu.Lock()
		if _, live := d.timers[t]; !live {
			d.mu.Unlock()
			return
		}
		delete(d.timers, t)
		dropped := false
		select {
		case d.q <- j:
		default:
			dropped = true
		}
		d.mu.Unlock()
		if dropped {
			d.report(channel, ErrQueueFull)
		}
	})
	d.timers[t] = struct{}{}
	return nil
}

// Pending is the number of tasks whose delay has not elapsed.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.q {
		d.mu.Lock()
		h := d.handler
		d.mu.Unlock()
		if h == nil {
			d.report(j.channel, errors.New("dispatch/local: no handler bound"))
			continue
		}
		if err := h(d.ctx, j.payload); err != nil {
			d.report(j.channel, err)
		}
	}
}

func (d *Dispatcher) report(channel string, err error) {
	if d.opts.OnError != nil {
		d.opts.OnError(channel, err)
	}
}

// Close cancels pending timers, runs the tasks already due and stops the
// workers. Safe to call multiple times.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for t := range d.timers {
		t.Stop()
	}
	clear(d.timers)
	close(d.q)
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
}
