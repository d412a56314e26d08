// Package pipeline batches backend commands into single round trips.
//
// A Store is the handle for one (connection, db) selection. Each Pipeline
// taken from it moves through open -> queue... -> execute exactly once;
// calls out of that order fail with *StateError. Closing or replacing the
// Store invalidates every pipeline still in flight.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/slicecache/provider"
)

// Selector names a logical connection and database index.
type Selector struct {
	Connection string
	DB         int
}

func (s Selector) String() string { return s.Connection + "/" + strconv.Itoa(s.DB) }

var ErrPipelineState = errors.New("slicecache: pipeline used out of sequence")

// StateError reports a pipeline call made in the wrong state.
type StateError struct {
	Op     string
	Reason string
	Err    error // selection failure, if any
}

func (e *StateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("pipeline %s: %s", e.Op, e.Reason)
}

func (e *StateError) Is(target error) bool { return target == ErrPipelineState }

func (e *StateError) Unwrap() error { return e.Err }

// Store is safe for concurrent use; pipelines are not.
type Store struct {
	sel Selector
	p   pr.Provider
	err error

	mu     sync.RWMutex
	epoch  uint64
	closed bool
}

func NewStore(sel Selector, p pr.Provider) *Store {
	return &Store{sel: sel, p: p}
}

// FailedStore records a selection that could not be established. Every
// pipeline opened on it fails.
func FailedStore(sel Selector, err error) *Store {
	if err == nil {
		err = errors.New("selection failed")
	}
	return &Store{sel: sel, err: err}
}

func (s *Store) Selector() Selector { return s.sel }

// Err is the selection failure, nil for a healthy store.
func (s *Store) Err() error { return s.err }

func (s *Store) Pipeline() *Pipeline { return &Pipeline{s: s} }

// Close invalidates in-flight pipelines and closes the provider.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.epoch++
	s.mu.Unlock()
	if s.p == nil {
		return nil
	}
	return s.p.Close(ctx)
}

func (s *Store) current() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.err != nil:
		return 0, s.err
	case s.closed:
		return 0, pr.ErrClosed
	}
	return s.epoch, nil
}

type state uint8

const (
	idle state = iota
	open
	done
)

// Pipeline accumulates commands for one round trip.
type Pipeline struct {
	s     *Store
	st    state
	epoch uint64
	cmds  []pr.Cmd
}

// Open begins batching. A pipeline can be reopened after Execute.
func (p *Pipeline) Open() error {
	if p.st == open {
		return &StateError{Op: "open", Reason: "already open"}
	}
	epoch, err := p.s.current()
	if err != nil {
		return &StateError{Op: "open", Reason: "store " + p.s.sel.String() + " unavailable", Err: err}
	}
	p.st, p.epoch, p.cmds = open, epoch, p.cmds[:0]
	return nil
}

// Len is the number of queued commands.
func (p *Pipeline) Len() int { return len(p.cmds) }

func (p *Pipeline) queue(c pr.Cmd) (int, error) {
	if p.st != open {
		return -1, &StateError{Op: "queue " + c.Op.String(), Reason: "pipeline not open"}
	}
	p.cmds = append(p.cmds, c)
	return len(p.cmds) - 1, nil
}

func (p *Pipeline) QueueGet(key string) (int, error) {
	return p.queue(pr.Cmd{Op: pr.OpGet, Key: key})
}

func (p *Pipeline) QueueSet(key string, value []byte, ttl time.Duration) (int, error) {
	return p.queue(pr.Cmd{Op: pr.OpSet, Key: key, Value: value, TTL: ttl})
}

func (p *Pipeline) QueueSetNX(key string, value []byte, ttl time.Duration) (int, error) {
	return p.queue(pr.Cmd{Op: pr.OpSetNX, Key: key, Value: value, TTL: ttl})
}

func (p *Pipeline) QueueExpire(key string, ttl time.Duration) (int, error) {
	return p.queue(pr.Cmd{Op: pr.OpExpire, Key: key, TTL: ttl})
}

func (p *Pipeline) QueueDel(key string) (int, error) {
	return p.queue(pr.Cmd{Op: pr.OpDel, Key: key})
}

func (p *Pipeline) QueueIncr(key string) (int, error) {
	return p.queue(pr.Cmd{Op: pr.OpIncr, Key: key})
}

func (p *Pipeline) QueueSAdd(key string, members ...string) (int, error) {
	return p.queue(pr.Cmd{Op: pr.OpSAdd, Key: key, Members: members})
}

func (p *Pipeline) QueueSMembers(key string) (int, error) {
	return p.queue(pr.Cmd{Op: pr.OpSMembers, Key: key})
}

// Execute sends the batch and returns one reply per queued command in
// submission order. An empty batch costs no round trip.
func (p *Pipeline) Execute(ctx context.Context) ([]pr.Reply, error) {
	if p.st != open {
		reason := "pipeline not open"
		if p.st == done {
			reason = "already executed"
		}
		return nil, &StateError{Op: "execute", Reason: reason}
	}
	p.st = done
	epoch, err := p.s.current()
	if err != nil || epoch != p.epoch {
		return nil, &StateError{Op: "execute", Reason: "store " + p.s.sel.String() + " changed since open", Err: err}
	}
	if len(p.cmds) == 0 {
		return nil, nil
	}
	replies, err := p.s.p.Exec(ctx, p.cmds)
	if err != nil {
		return nil, err
	}
	if len(replies) != len(p.cmds) {
		return nil, fmt.Errorf("pipeline execute: %d replies for %d commands", len(replies), len(p.cmds))
	}
	return replies, nil
}
