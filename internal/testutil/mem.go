// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/slicecache/internal/kv"
	pr "github.com/unkn0wn-root/slicecache/provider"
)

// Mem is an in-memory provider with a manual clock. It counts round trips
// and can be told to fail the next batch.
type Mem struct {
	*kv.Engine
	store *kv.MapStore

	mu     sync.Mutex
	now    time.Time
	rounds int
	fail   error
}

var _ pr.Provider = (*Mem)(nil)

func NewMem() *Mem {
	m := &Mem{store: kv.NewMapStore(), now: time.Unix(1_700_000_000, 0)}
	m.Engine = kv.New(m.store)
	m.Engine.SetClock(m.clock)
	return m
}

func (m *Mem) clock() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward; entries whose TTL elapses expire.
func (m *Mem) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// FailNext makes the next Exec return err without touching the store.
func (m *Mem) FailNext(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// Rounds is the number of Exec calls that reached the store.
func (m *Mem) Rounds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rounds
}

func (m *Mem) Exec(ctx context.Context, cmds []pr.Cmd) ([]pr.Reply, error) {
	m.mu.Lock()
	if err := m.fail; err != nil {
		m.fail = nil
		m.mu.Unlock()
		return nil, err
	}
	m.rounds++
	m.mu.Unlock()
	return m.Engine.Exec(ctx, cmds)
}

// Keys lists live and expired keys alike.
func (m *Mem) Keys() []string { return m.store.Keys() }

// Delete drops key directly, simulating backend expiry of a single key.
func (m *Mem) Delete(key string) { m.store.Delete(key) }

// Raw returns the stored bytes of a string key.
func (m *Mem) Raw(key string) ([]byte, bool) {
	e, ok := m.store.Load(key)
	if !ok || e.IsSet {
		return nil, false
	}
	return e.Str, true
}

// TTL returns the remaining lifetime of key, 0 when it has none.
func (m *Mem) TTL(key string) time.Duration {
	e, ok := m.store.Load(key)
	if !ok || e.Expires.IsZero() {
		return 0
	}
	return e.Expires.Sub(m.clock())
}
