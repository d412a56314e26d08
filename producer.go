package slicecache

import (
	"context"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Record is one mapping-shaped row of a produced result set.
type Record = map[string]any

// Producer computes a result set from positional arguments.
type Producer func(ctx context.Context, args []any) ([]Record, error)

// ProducerID names a registered producer. Static and instance producers with
// the same target and method are distinct registrations.
type ProducerID struct {
	Target string `msgpack:"t"`
	Method string `msgpack:"m"`
	Static bool   `msgpack:"s"`
}

func (id ProducerID) String() string {
	if id.Static {
		return id.Target + "::" + id.Method
	}
	return id.Target + "->" + id.Method
}

// Func is a producer with its declared arity. Arity -1 accepts any count.
type Func struct {
	Arity int
	Call  Producer
}

// Variadic wraps p without arity checks.
func Variadic(p Producer) Func { return Func{Arity: -1, Call: p} }

func Func0(fn func(context.Context) ([]Record, error)) Func {
	return Func{Arity: 0, Call: func(ctx context.Context, _ []any) ([]Record, error) {
		return fn(ctx)
	}}
}

func Func1[A any](fn func(context.Context, A) ([]Record, error)) Func {
	return Func{Arity: 1, Call: func(ctx context.Context, args []any) ([]Record, error) {
		a, err := arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a)
	}}
}

func Func2[A, B any](fn func(context.Context, A, B) ([]Record, error)) Func {
	return Func{Arity: 2, Call: func(ctx context.Context, args []any) ([]Record, error) {
		a, err := arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := arg[B](args, 1)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, b)
	}}
}

func Func3[A, B, C any](fn func(context.Context, A, B, C) ([]Record, error)) Func {
	return Func{Arity: 3, Call: func(ctx context.Context, args []any) ([]Record, error) {
		a, err := arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := arg[B](args, 1)
		if err != nil {
			return nil, err
		}
		c, err := arg[C](args, 2)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, b, c)
	}}
}

// arg converts args[i] to T. Arguments that went through a refresh payload
// come back as generic msgpack values, so anything not already a T takes a
// msgpack round trip into T.
func arg[T any](args []any, i int) (T, error) {
	var out T
	if v, ok := args[i].(T); ok {
		return v, nil
	}
	b, err := msgpack.Marshal(args[i])
	if err != nil {
		return out, fmt.Errorf("argument %d: %w", i, err)
	}
	if err := msgpack.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("argument %d: cannot convert %T to %T: %w", i, args[i], out, err)
	}
	return out, nil
}

// Registry maps producer ids to functions. Register at startup; lookups are
// safe for concurrent use.
type Registry struct {
	mu sync.RWMutex
	m  map[ProducerID]Func
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[ProducerID]Func)}
}

func (r *Registry) Register(id ProducerID, f Func) error {
	if id.Target == "" || id.Method == "" {
		return fmt.Errorf("slicecache: producer id needs target and method, got %q", id.String())
	}
	if f.Call == nil {
		return fmt.Errorf("slicecache: producer %s has no function", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.m[id]; dup {
		return fmt.Errorf("slicecache: producer %s already registered", id)
	}
	r.m[id] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(id ProducerID, f Func) {
	if err := r.Register(id, f); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(id ProducerID) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.m[id]
	return f, ok
}

// resolve returns the producer for id after checking args against its arity.
func (r *Registry) resolve(id ProducerID, args []any) (Func, error) {
	if id.Target == "" || id.Method == "" {
		return Func{}, &MissingProducerError{Reason: "no producer configured"}
	}
	f, ok := r.Lookup(id)
	if !ok {
		return Func{}, &MissingProducerError{Producer: id, Reason: "not registered"}
	}
	if args == nil {
		return Func{}, &MissingProducerError{Producer: id, Reason: "arguments not configured"}
	}
	if f.Arity >= 0 && len(args) != f.Arity {
		return Func{}, &MissingProducerError{
			Producer: id,
			Reason:   fmt.Sprintf("takes %d arguments, got %d", f.Arity, len(args)),
		}
	}
	return f, nil
}
