// Package kv interprets provider commands on top of an in-process store.
// Every batch runs under one lock, which is what makes INCR, SETNX and SADD
// atomic for the local providers.
package kv

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/slicecache/provider"
)

// Entry is a stored value: either a string or a set.
type Entry struct {
	Str     []byte
	Set     map[string]struct{}
	IsSet   bool
	Expires time.Time // zero => no expiry
}

func (e Entry) expired(now time.Time) bool {
	return !e.Expires.IsZero() && !now.Before(e.Expires)
}

// Store is the minimal surface a local backend provides.
type Store interface {
	Load(key string) (Entry, bool)
	// Save returns pr.ErrRejected when the store dropped the write.
	Save(key string, e Entry) error
	Delete(key string) bool
	Close() error
}

// Engine runs command batches against a Store.
type Engine struct {
	mu     sync.Mutex
	s      Store
	now    func() time.Time
	closed bool
}

var _ pr.Provider = (*Engine)(nil)

func New(s Store) *Engine { return &Engine{s: s, now: time.Now} }

// SetClock overrides the time source (tests).
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

func (e *Engine) Exec(ctx context.Context, cmds []pr.Cmd) ([]pr.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, pr.ErrClosed
	}
	now := e.now()
	out := make([]pr.Reply, len(cmds))
	for i, c := range cmds {
		out[i] = e.run(c, now)
	}
	return out, nil
}

func (e *Engine) Close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.s.Close()
}

func (e *Engine) load(key string, now time.Time) (Entry, bool) {
	ent, ok := e.s.Load(key)
	if !ok {
		return Entry{}, false
	}
	if ent.expired(now) {
		e.s.Delete(key)
		return Entry{}, false
	}
	return ent, true
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (e *Engine) run(c pr.Cmd, now time.Time) pr.Reply {
	switch c.Op {
	case pr.OpGet:
		ent, ok := e.load(c.Key, now)
		if !ok {
			return pr.Reply{Nil: true}
		}
		if ent.IsSet {
			return pr.Reply{Err: pr.ErrWrongType}
		}
		return pr.Reply{Value: append([]byte(nil), ent.Str...)}

	case pr.OpSet:
		val := append([]byte(nil), c.Value...)
		if err := e.s.Save(c.Key, Entry{Str: val, Expires: expiry(now, c.TTL)}); err != nil {
			return pr.Reply{Err: err}
		}
		return pr.Reply{OK: true}

	case pr.OpSetNX:
		if _, ok := e.load(c.Key, now); ok {
			return pr.Reply{OK: false}
		}
		val := append([]byte(nil), c.Value...)
		if err := e.s.Save(c.Key, Entry{Str: val, Expires: expiry(now, c.TTL)}); err != nil {
			return pr.Reply{Err: err}
		}
		return pr.Reply{OK: true}

	case pr.OpExpire:
		ent, ok := e.load(c.Key, now)
		if !ok {
			return pr.Reply{OK: false}
		}
		if c.TTL <= 0 {
			e.s.Delete(c.Key)
			return pr.Reply{OK: true}
		}
		ent.Expires = now.Add(c.TTL)
		if err := e.s.Save(c.Key, ent); err != nil {
			return pr.Reply{Err: err}
		}
		return pr.Reply{OK: true}

	case pr.OpDel:
		if _, ok := e.load(c.Key, now); !ok {
			return pr.Reply{Int: 0, OK: true}
		}
		e.s.Delete(c.Key)
		return pr.Reply{Int: 1, OK: true}

	case pr.OpIncr:
		ent, ok := e.load(c.Key, now)
		var n int64
		if ok {
			if ent.IsSet {
				return pr.Reply{Err: pr.ErrWrongType}
			}
			v, err := strconv.ParseInt(string(ent.Str), 10, 64)
			if err != nil {
				return pr.Reply{Err: pr.ErrNotInteger}
			}
			n = v
		}
		n++
		ent.Str = []byte(strconv.FormatInt(n, 10))
		if err := e.s.Save(c.Key, ent); err != nil {
			return pr.Reply{Err: err}
		}
		return pr.Reply{Int: n, OK: true}

	case pr.OpSAdd:
		ent, ok := e.load(c.Key, now)
		if ok && !ent.IsSet {
			return pr.Reply{Err: pr.ErrWrongType}
		}
		set := make(map[string]struct{}, len(ent.Set)+len(c.Members))
		for m := range ent.Set {
			set[m] = struct{}{}
		}
		var added int64
		for _, m := range c.Members {
			if _, dup := set[m]; !dup {
				set[m] = struct{}{}
				added++
			}
		}
		if err := e.s.Save(c.Key, Entry{Set: set, IsSet: true, Expires: ent.Expires}); err != nil {
			return pr.Reply{Err: err}
		}
		return pr.Reply{Int: added, OK: true}

	case pr.OpSMembers:
		ent, ok := e.load(c.Key, now)
		if !ok {
			return pr.Reply{Members: []string{}}
		}
		if !ent.IsSet {
			return pr.Reply{Err: pr.ErrWrongType}
		}
		members := make([]string, 0, len(ent.Set))
		for m := range ent.Set {
			members = append(members, m)
		}
		return pr.Reply{Members: members}
	}
	return pr.Reply{Err: fmt.Errorf("kv: unsupported op %s", c.Op)}
}
