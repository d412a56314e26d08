package slicecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/slicecache/chunk"
	"github.com/unkn0wn-root/slicecache/codec"
	"github.com/unkn0wn-root/slicecache/dispatch"
	"github.com/unkn0wn-root/slicecache/internal/tree"
	"github.com/unkn0wn-root/slicecache/internal/wire"
	"github.com/unkn0wn-root/slicecache/keyspace"
	"github.com/unkn0wn-root/slicecache/pipeline"
	pr "github.com/unkn0wn-root/slicecache/provider"
)

// Cache serves producer results from sliced storage. Safe for concurrent use.
type Cache struct {
	keys     *keyspace.Codec
	slicer   *chunk.Slicer
	connect  pr.Connector
	registry *Registry
	dispatch dispatch.Dispatcher
	log      Logger
	hooks    Hooks

	defaultTTL  time.Duration
	defaultConn string
	defaultSfx  string
	maxSlices   int
	module      keyspace.Module
	advance     time.Duration
	channel     string

	flight singleflight.Group

	mu     sync.Mutex
	stores map[pipeline.Selector]*pipeline.Store
	closed bool
}

func newCache(opts Options) (*Cache, error) {
	if opts.Connect == nil {
		return nil, fmt.Errorf("slicecache: connector is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("slicecache: producer registry is required")
	}
	keys, err := keyspace.New(opts.Namespace, opts.Modules...)
	if err != nil {
		return nil, fmt.Errorf("slicecache: %w", err)
	}

	inner := coalesce[codec.Codec[any]](opts.Codec, codec.Default())
	if opts.MaxChunkBytes > 0 {
		inner = codec.LimitCodec[any]{Inner: inner, MaxEncode: opts.MaxChunkBytes, MaxDecode: opts.MaxChunkBytes}
	}

	c := &Cache{
		keys:     keys,
		slicer:   &chunk.Slicer{Keys: keys, Codec: wire.New(inner), Rand: opts.Rand},
		connect:  opts.Connect,
		registry: opts.Registry,
		dispatch: opts.Dispatcher,
		stores:   make(map[pipeline.Selector]*pipeline.Store),
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.defaultTTL = coalesce(opts.DefaultTTL, defaultTTL)
	c.defaultConn = coalesce(opts.DefaultConnection, defaultConnection)
	c.defaultSfx = coalesce(opts.DefaultSuffix, defaultSuffix)
	c.maxSlices = coalesce(opts.DefaultMaxSlices, defaultMaxSlices)
	c.module = coalesce(opts.DefaultModule, defaultModule)
	c.advance = coalesce(opts.RefreshAdvance, defaultAdvance)
	c.channel = coalesce(opts.RefreshChannel, defaultChannel)

	if err := keys.Check(c.module); err != nil {
		return nil, err
	}
	return c, nil
}

// Request returns a builder preloaded with the cache defaults.
func (c *Cache) Request() Request {
	return Request{c: c, spec: CallSpec{
		TTL:        c.defaultTTL,
		Suffix:     c.defaultSfx,
		Connection: c.defaultConn,
		Module:     c.module,
		MaxSlices:  c.maxSlices,
	}}
}

// Keys exposes the key codec, e.g. to locate chunks written by this cache.
func (c *Cache) Keys() *keyspace.Codec { return c.keys }

// store returns the handle for sel, dialing on first use. Failed dials are
// not cached so the next request retries.
func (c *Cache) store(sel pipeline.Selector) *pipeline.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pipeline.FailedStore(sel, ErrClosed)
	}
	if s, ok := c.stores[sel]; ok {
		return s
	}
	p, err := c.connect(sel.Connection, sel.DB)
	if err != nil {
		c.log.Error("store selection failed", Fields{"selector": sel.String(), "err": err})
		return pipeline.FailedStore(sel, err)
	}
	s := pipeline.NewStore(sel, p)
	c.stores[sel] = s
	return s
}

// plan is a validated request, ready for I/O.
type plan struct {
	spec    CallSpec
	fn      Func
	tpl     tree.Template
	sel     pipeline.Selector
	base    string // <ns>:<module>:<suffix>
	flush   bool
	refresh *refreshArm
}

type refreshArm struct {
	sig      string
	counter  string
	maxEach  int64
	maxDelay int64
	window   time.Duration
}

// prepare checks everything that can be checked without I/O.
func (c *Cache) prepare(r Request) (*plan, error) {
	spec := r.Spec()
	if r.instance && r.static {
		return nil, &MissingProducerError{Producer: spec.Producer, Reason: "instance and static forms are mutually exclusive"}
	}
	fn, err := c.registry.resolve(spec.Producer, spec.Args)
	if err != nil {
		return nil, err
	}
	tpl := tree.Template(spec.Template)
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	if spec.TTL < 0 {
		return nil, fmt.Errorf("slicecache: negative ttl %v", spec.TTL)
	}
	spec.TTL = coalesce(spec.TTL, c.defaultTTL)
	spec.Suffix = coalesce(spec.Suffix, c.defaultSfx)
	spec.Connection = coalesce(spec.Connection, c.defaultConn)
	if spec.MaxSlices < 1 {
		spec.MaxSlices = c.maxSlices
	}
	base, err := c.keys.Generate(spec.Suffix, spec.Module)
	if err != nil {
		return nil, err
	}

	p := &plan{
		spec:  spec,
		fn:    fn,
		tpl:   tpl,
		sel:   pipeline.Selector{Connection: spec.Connection, DB: spec.DB},
		base:  base,
		flush: r.flush,
	}
	if r.keepMin > 0 {
		if p.refresh, err = c.planArm(spec, r.keepMin); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (c *Cache) execute(ctx context.Context, r Request) (*Result, error) {
	p, err := c.prepare(r)
	if err != nil {
		return nil, err
	}
	st := c.store(p.sel)

	if p.flush {
		c.hooks.SliceMiss(p.base, "flush")
	} else if recs, ok := c.read(ctx, st, p); ok {
		return &Result{Records: recs, Key: p.base, Hit: true}, nil
	}

	// Concurrent misses on one key share a single recompute. A keep-warm
	// request only joins recomputes that arm the same chain.
	key := p.sel.String() + "|" + p.base
	if p.refresh != nil {
		key += "|warm:" + p.refresh.sig
	}
	// The shared recompute must not die with whichever caller started it.
	ch := c.flight.DoChan(key, func() (any, error) {
		return c.recompute(context.WithoutCancel(ctx), st, p)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return nil, out.Err
		}
		res := *out.Val.(*Result)
		if out.Shared {
			res.Records = cloneRecords(res.Records)
		}
		return &res, nil
	}
}

// cloneRecords deep-copies records handed to more than one caller.
func cloneRecords(recs []Record) []Record {
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i], _ = tree.Clone(r).(map[string]any)
	}
	return out
}

func (c *Cache) read(ctx context.Context, st *pipeline.Store, p *plan) ([]Record, bool) {
	pl := st.Pipeline()
	if err := pl.Open(); err != nil {
		c.storeFailed(p.sel, "read", err)
		c.hooks.SliceMiss(p.base, "store")
		return nil, false
	}
	rd, err := c.slicer.QueueRead(pl, chunk.Target{Suffix: p.spec.Suffix, Limit: p.spec.MaxSlices, Module: p.spec.Module})
	if err != nil {
		c.storeFailed(p.sel, "read", err)
		c.hooks.SliceMiss(p.base, "store")
		return nil, false
	}
	replies, err := pl.Execute(ctx)
	if err != nil {
		c.storeFailed(p.sel, "read", err)
		c.hooks.SliceMiss(p.base, "store")
		return nil, false
	}
	rows, out := rd.Collect(replies)
	if out != chunk.OutcomeHit {
		c.hooks.SliceMiss(p.base, out.String())
		return nil, false
	}
	recs := make([]Record, len(rows))
	for i, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			c.hooks.SliceMiss(p.base, chunk.OutcomeCorrupt.String())
			return nil, false
		}
		recs[i] = m
	}
	c.hooks.SliceHit(p.base, len(recs))
	return recs, true
}

// recompute runs the producer, projects, and stores the result in one
// pipeline together with the keep-warm arm. Store failures are logged and
// the produced records are returned anyway.
func (c *Cache) recompute(ctx context.Context, st *pipeline.Store, p *plan) (*Result, error) {
	produced, err := p.fn.Call(ctx, p.spec.Args)
	if err != nil {
		return nil, &ProducerError{Producer: p.spec.Producer, Err: err}
	}
	recs := make([]Record, len(produced))
	rows := make([]any, len(produced))
	for i, rec := range produced {
		norm, _ := tree.Normalize(rec).(map[string]any)
		if norm == nil {
			norm = map[string]any{}
		}
		norm = tree.Project(norm, p.tpl)
		recs[i], rows[i] = norm, norm
	}
	res := &Result{Records: recs, Key: p.base}

	pl := st.Pipeline()
	if err := pl.Open(); err != nil {
		c.storeFailed(p.sel, "write", err)
		return res, nil
	}
	w, err := c.slicer.QueueWrite(pl, chunk.Write{
		Records: rows,
		Suffix:  p.spec.Suffix,
		Limit:   p.spec.MaxSlices,
		Module:  p.spec.Module,
		TTL:     p.spec.TTL,
		Jitter:  p.spec.Jitter,
		Group:   p.spec.Group,
	})
	if err != nil {
		c.storeFailed(p.sel, "write", err)
		return res, nil
	}
	armAt := -1
	if p.refresh != nil {
		if armAt, err = pl.QueueSetNX(p.refresh.counter, []byte("1"), p.refresh.window); err != nil {
			c.storeFailed(p.sel, "write", err)
			return res, nil
		}
	}
	replies, err := pl.Execute(ctx)
	if err != nil {
		c.storeFailed(p.sel, "write", err)
		return res, nil
	}
	for i := range w.Keys {
		if replies[i].Err != nil {
			c.storeFailed(p.sel, "write", fmt.Errorf("chunk %s: %w", w.Keys[i], replies[i].Err))
			return res, nil
		}
	}
	c.log.Debug("slice set stored", Fields{"key": p.base, "chunks": len(w.Keys), "records": len(recs), "ttl": w.TTL})
	res.Stored = true

	if armAt >= 0 {
		res.Armed = c.arm(ctx, p, replies[armAt])
	}
	return res, nil
}

func (c *Cache) storeFailed(sel pipeline.Selector, op string, err error) {
	c.log.Warn("store "+op+" failed", Fields{"selector": sel.String(), "err": err})
	c.hooks.StoreFailed(sel.String(), op, err)
}

// Clear deletes every chunk written under group on the given selection.
func (c *Cache) Clear(ctx context.Context, connection string, db int, group string) (int, error) {
	sel := pipeline.Selector{Connection: coalesce(connection, c.defaultConn), DB: db}
	n, err := c.slicer.Clear(ctx, c.store(sel), group)
	if err != nil {
		c.storeFailed(sel, "clear", err)
		return 0, err
	}
	c.log.Info("key list cleared", Fields{"group": group, "selector": sel.String(), "removed": n})
	return n, nil
}

// Close closes every store opened by the cache. In-flight pipelines fail
// with a pipeline state error.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stores := c.stores
	c.stores = nil
	c.mu.Unlock()

	var errs []error
	for _, s := range stores {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Selector(), err))
		}
	}
	return errors.Join(errs...)
}
