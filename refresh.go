package slicecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/slicecache/keyspace"
	"github.com/unkn0wn-root/slicecache/pipeline"
	pr "github.com/unkn0wn-root/slicecache/provider"
)

// Keep-warm
//
// A recompute with KeepWarm(minutes) arms a chain of refresh cycles:
//
//	maxEach  = floor(minutes*60 / (ttl - advance))   cycles allowed
//	maxDelay = floor(minutes*60 / maxEach)           seconds between cycles
//
// The arm is SETNX <ns>:210:<signature> "1" with a TTL covering the whole
// window, queued in the same pipeline as the chunk writes. Only the request
// that created the counter enqueues cycle 1, so concurrent arms start one
// chain. Each cycle INCRs the counter and runs only while the new value is
// in [2, maxEach+1]; a value of 1 means the window expired and the counter
// was recreated. A granted cycle recomputes with Flush and, when the result
// was stored and is non-empty, enqueues the next cycle. Anything else ends
// the chain.

var errNotStored = errors.New("recomputed set was not stored")

// RefreshPlan is the payload carried between cycles.
type RefreshPlan struct {
	Call        CallSpec `msgpack:"call"`
	MaxEachSize int64    `msgpack:"max_each"`
	MaxDelaySec int64    `msgpack:"max_delay"`
	Cycle       int64    `msgpack:"cycle"`
}

// PlanRefresh computes the cycle budget for keeping an entry warm for
// keepMin minutes. maxEach == 0 means the window is shorter than one cycle
// and nothing should be armed.
func PlanRefresh(keepMin int, ttl, advance time.Duration) (maxEach, maxDelay int64, err error) {
	ttlSec, advSec := int64(ttl/time.Second), int64(advance/time.Second)
	if advSec >= ttlSec {
		return 0, 0, &TTLConfigurationError{TTL: ttl, Advance: advance}
	}
	if keepMin <= 0 {
		return 0, 0, nil
	}
	window := int64(keepMin) * 60
	maxEach = window / (ttlSec - advSec)
	if maxEach == 0 {
		return 0, 0, nil
	}
	return maxEach, window / maxEach, nil
}

func (c *Cache) planArm(spec CallSpec, keepMin int) (*refreshArm, error) {
	maxEach, maxDelay, err := PlanRefresh(keepMin, spec.TTL, c.advance)
	if err != nil {
		return nil, err
	}
	if maxEach == 0 {
		return nil, nil
	}
	if c.dispatch == nil {
		return nil, ErrNoDispatcher
	}
	sig, err := spec.Signature()
	if err != nil {
		return nil, fmt.Errorf("slicecache: refresh signature: %w", err)
	}
	counter, err := c.keys.Generate(sig, keyspace.RefreshFlush)
	if err != nil {
		return nil, err
	}
	return &refreshArm{
		sig:      sig,
		counter:  counter,
		maxEach:  maxEach,
		maxDelay: maxDelay,
		window:   time.Duration(keepMin)*time.Minute + spec.TTL,
	}, nil
}

// arm enqueues cycle 1 when this request created the counter.
func (c *Cache) arm(ctx context.Context, p *plan, setnx pr.Reply) bool {
	a := p.refresh
	if setnx.Err != nil {
		c.storeFailed(p.sel, "write", fmt.Errorf("refresh counter %s: %w", a.counter, setnx.Err))
		return false
	}
	if !setnx.OK {
		c.log.Debug("keep-warm already armed", Fields{"key": p.base, "signature": a.sig})
		return false
	}
	next := RefreshPlan{Call: p.spec, MaxEachSize: a.maxEach, MaxDelaySec: a.maxDelay, Cycle: 1}
	if err := c.enqueue(ctx, next); err != nil {
		c.log.Error("keep-warm enqueue failed", Fields{"key": p.base, "signature": a.sig, "err": err})
		return false
	}
	every := time.Duration(a.maxDelay) * time.Second
	c.log.Info("keep-warm armed", Fields{"key": p.base, "signature": a.sig, "cycles": a.maxEach, "every": every})
	c.hooks.RefreshArmed(a.sig, a.maxEach, every)
	return true
}

func (c *Cache) enqueue(ctx context.Context, rp RefreshPlan) error {
	b, err := msgpack.Marshal(rp)
	if err != nil {
		return fmt.Errorf("encode refresh plan: %w", err)
	}
	return c.dispatch.Enqueue(ctx, b, time.Duration(rp.MaxDelaySec)*time.Second, c.channel)
}

// HandleRefresh runs one refresh cycle. Register it as the dispatcher's
// handler. Only malformed payloads return an error; every other failure ends
// the chain quietly.
func (c *Cache) HandleRefresh(ctx context.Context, payload []byte) error {
	var rp RefreshPlan
	if err := msgpack.Unmarshal(payload, &rp); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshPayload, err)
	}
	if rp.MaxEachSize <= 0 || rp.MaxDelaySec <= 0 {
		return fmt.Errorf("%w: empty cycle budget", ErrRefreshPayload)
	}
	spec := rp.Call
	sig, err := spec.Signature()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshPayload, err)
	}
	fields := Fields{"signature": sig, "cycle": rp.Cycle}
	end := func(outcome string, err error) error {
		if err != nil {
			fields["err"] = err
			c.log.Warn("refresh cycle ended", fields)
		} else {
			c.log.Debug("refresh cycle "+outcome, fields)
		}
		c.hooks.RefreshCycle(sig, rp.Cycle, outcome)
		return nil
	}

	counter, err := c.keys.Generate(sig, keyspace.RefreshFlush)
	if err != nil {
		return end("failed", err)
	}
	sel := pipeline.Selector{Connection: spec.Connection, DB: spec.DB}
	n, err := c.incr(ctx, c.store(sel), counter)
	if err != nil {
		c.storeFailed(sel, "refresh", err)
		return end("failed", err)
	}
	switch {
	case n == 1:
		// The window expired and INCR recreated the counter without a TTL.
		_ = c.del(ctx, c.store(sel), counter)
		return end("expired", nil)
	case n > rp.MaxEachSize+1:
		return end("exhausted", nil)
	}

	req := c.fromSpec(spec).Flush()
	res, err := req.Execute(ctx)
	if err != nil {
		return end("failed", err)
	}
	if !res.Stored {
		return end("failed", errNotStored)
	}
	if len(res.Records) == 0 {
		return end("empty", nil)
	}

	rp.Cycle++
	if err := c.enqueue(ctx, rp); err != nil {
		return end("failed", err)
	}
	return end("rescheduled", nil)
}

// fromSpec rebuilds a request from its serialized identity.
func (c *Cache) fromSpec(s CallSpec) Request {
	r := Request{c: c, spec: s}
	if s.Producer.Static {
		r.static = true
	} else {
		r.instance = true
	}
	if r.spec.Args == nil {
		r.spec.Args = []any{}
	}
	return r
}

func (c *Cache) incr(ctx context.Context, st *pipeline.Store, key string) (int64, error) {
	pl := st.Pipeline()
	if err := pl.Open(); err != nil {
		return 0, err
	}
	if _, err := pl.QueueIncr(key); err != nil {
		return 0, err
	}
	r, err := pl.Execute(ctx)
	if err != nil {
		return 0, err
	}
	if r[0].Err != nil {
		return 0, r[0].Err
	}
	return r[0].Int, nil
}

func (c *Cache) del(ctx context.Context, st *pipeline.Store, key string) error {
	pl := st.Pipeline()
	if err := pl.Open(); err != nil {
		return err
	}
	if _, err := pl.QueueDel(key); err != nil {
		return err
	}
	_, err := pl.Execute(ctx)
	return err
}
