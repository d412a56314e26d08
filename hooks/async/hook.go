// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/slicecache"
//	"github.com/unkn0wn-root/slicecache/hooks/async"
//	"github.com/unkn0wn-root/slicecache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    HitEvery:  100, // sample logs: ~every 100th hit
//	    MissEvery: 10,
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := slicecache.New(slicecache.Options{
//	    Namespace: "svr2",
//	    Connect:   redisprovider.Connector(conns),
//	    Registry:  registry,
//	    Hooks:     hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/slicecache"
)

// Hooks forwards events to inner on worker goroutines. Events are dropped
// when the queue is full, so a slow sink never stalls a request.
type Hooks struct {
	inner slicecache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
	mu    sync.RWMutex
	done  bool
}

var _ slicecache.Hooks = (*Hooks)(nil)

func New(inner slicecache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events fired after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.done = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.done {
		return
	}
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SliceHit(k string, n int)   { h.try(func() { h.inner.SliceHit(k, n) }) }
func (h *Hooks) SliceMiss(k, reason string) { h.try(func() { h.inner.SliceMiss(k, reason) }) }
func (h *Hooks) StoreFailed(sel, op string, err error) {
	h.try(func() { h.inner.StoreFailed(sel, op, err) })
}
func (h *Hooks) RefreshArmed(sig string, cycles int64, every time.Duration) {
	h.try(func() { h.inner.RefreshArmed(sig, cycles, every) })
}
func (h *Hooks) RefreshCycle(sig string, cycle int64, outcome string) {
	h.try(func() { h.inner.RefreshCycle(sig, cycle, outcome) })
}
