package slicecache

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/unkn0wn-root/slicecache/keyspace"
)

// CallSpec is the serializable identity of a request: everything needed to
// rebuild it inside a refresh cycle.
type CallSpec struct {
	Producer   ProducerID        `msgpack:"producer"`
	Args       []any             `msgpack:"args"`
	TTL        time.Duration     `msgpack:"ttl"`
	Jitter     bool              `msgpack:"jitter"`
	Suffix     string            `msgpack:"suffix"`
	Connection string            `msgpack:"conn"`
	DB         int               `msgpack:"db"`
	Module     keyspace.Module   `msgpack:"module"`
	MaxSlices  int               `msgpack:"max_slices"`
	Template   map[string]string `msgpack:"template,omitempty"`
	Group      string            `msgpack:"group,omitempty"`
}

// Signature hashes the whole call identity. It keys the keep-warm counter
// and is stable across a msgpack round trip of the spec.
func (s CallSpec) Signature() (string, error) {
	if len(s.Args) == 0 {
		s.Args = []any{}
	}
	if len(s.Template) == 0 {
		s.Template = nil
	}
	return keyspace.Signature(s)
}

// Request is an immutable builder. Every setter returns a modified copy, so
// a base request can be shared and specialized without aliasing.
//
//	recs, err := c.Request().
//	    Call("tasks", "panels").
//	    Args(projectID, userID).
//	    Suffix(fmt.Sprintf("panels:%d", projectID)).
//	    TTL(10*time.Minute, true).
//	    KeepWarm(60).
//	    Prepare().Output(ctx)
type Request struct {
	c        *Cache
	spec     CallSpec
	keepMin  int
	flush    bool
	instance bool
	static   bool
}

// TTL sets the base lifetime of written chunks. With jitter each write adds
// a random 60s..3600s.
func (r Request) TTL(d time.Duration, jitter bool) Request {
	r.spec.TTL, r.spec.Jitter = d, jitter
	return r
}

func (r Request) Suffix(s string) Request {
	r.spec.Suffix = s
	return r
}

// Connection selects a logical connection by name.
func (r Request) Connection(name string) Request {
	r.spec.Connection = name
	return r
}

func (r Request) Database(db int) Request {
	r.spec.DB = db
	return r
}

func (r Request) Module(m keyspace.Module) Request {
	r.spec.Module = m
	return r
}

// MaxSlices bounds the number of chunks one result set is split into. Reads
// probe this many chunks, so it must not shrink between a write and the
// reads that should see it.
func (r Request) MaxSlices(n int) Request {
	r.spec.MaxSlices = n
	return r
}

// Args sets the positional producer arguments. Args() with no values
// configures an empty argument list.
func (r Request) Args(args ...any) Request {
	r.spec.Args = append(make([]any, 0, len(args)), args...)
	return r
}

// Call selects an instance producer.
func (r Request) Call(target, method string) Request {
	r.spec.Producer = ProducerID{Target: target, Method: method}
	r.instance = true
	return r
}

// CallStatic selects a static producer. It is exclusive with Call.
func (r Request) CallStatic(target, method string) Request {
	r.spec.Producer = ProducerID{Target: target, Method: method, Static: true}
	r.static = true
	return r
}

// Template reshapes every produced record: source dot-path -> destination
// dot-path, destinations up to three levels deep.
func (r Request) Template(t map[string]string) Request {
	r.spec.Template = maps.Clone(t)
	return r
}

// KeepWarm keeps the entry refreshed for the given number of minutes after a
// recompute. Zero disables.
func (r Request) KeepWarm(minutes int) Request {
	r.keepMin = minutes
	return r
}

// Flush skips the read and recomputes.
func (r Request) Flush() Request {
	r.flush = true
	return r
}

// Group records written chunk keys in a named key list for Cache.Clear.
func (r Request) Group(name string) Request {
	r.spec.Group = name
	return r
}

// Spec returns a copy of the request's call identity as built. Requests
// from Cache.Request start from the cache defaults; fields cleared since
// then are filled in only when the request runs.
func (r Request) Spec() CallSpec {
	s := r.spec
	s.Args = append([]any(nil), r.spec.Args...)
	if r.spec.Args != nil && s.Args == nil {
		s.Args = []any{}
	}
	s.Template = maps.Clone(r.spec.Template)
	return s
}

// Execute runs the request once.
func (r Request) Execute(ctx context.Context) (*Result, error) {
	return r.Prepare().Result(ctx)
}

// Prepare binds the request to a Call that runs at most once.
func (r Request) Prepare() *Call {
	return &Call{req: r}
}

// Result is the outcome of one execution.
type Result struct {
	Records []Record
	Key     string // base storage key
	Hit     bool
	Stored  bool // a recompute wrote the set back; false on hits and degraded writes
	Armed   bool // this execution started a keep-warm chain
}

// Call memoizes one execution of a Request.
type Call struct {
	req  Request
	once sync.Once
	res  *Result
	err  error
}

// Result executes on first use and returns the memoized outcome afterwards.
func (c *Call) Result(ctx context.Context) (*Result, error) {
	c.once.Do(func() {
		if c.req.c == nil {
			c.err = ErrClosed
			return
		}
		c.res, c.err = c.req.c.execute(ctx, c.req)
	})
	return c.res, c.err
}

// Exec reports whether execution produced a non-empty result.
func (c *Call) Exec(ctx context.Context) (bool, error) {
	res, err := c.Result(ctx)
	if err != nil {
		return false, err
	}
	return len(res.Records) > 0, nil
}

func (c *Call) Output(ctx context.Context) ([]Record, error) {
	res, err := c.Result(ctx)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}
