package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/slicecache/internal/kv"
	pr "github.com/unkn0wn-root/slicecache/provider"
)

// Provider is an in-process backend on ristretto. Expiry is enforced both by
// ristretto's TTL and by the command engine, so a read never sees an expired
// chunk even between ristretto's cleanup ticks.
type Provider struct {
	*kv.Engine
	c *rc.Cache
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64 // bytes, cost = len(value)
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{Engine: kv.New(store{c: c}), c: c}, nil
}

// Connector returns one independent cache per (connection, db) pair.
func Connector(cfg Config) pr.Connector {
	return func(string, int) (pr.Provider, error) { return New(cfg) }
}

// Metrics exposes ristretto's counters (nil unless Config.Metrics).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }

func (p *Provider) Close(ctx context.Context) error { return p.Engine.Close(ctx) }

type store struct{ c *rc.Cache }

func (s store) Load(key string) (kv.Entry, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return kv.Entry{}, false
	}
	e, ok := v.(kv.Entry)
	if !ok {
		// self-heal: drop unexpected entry shape
		s.c.Del(key)
		return kv.Entry{}, false
	}
	return e, true
}

func (s store) Save(key string, e kv.Entry) error {
	cost := int64(len(e.Str))
	for m := range e.Set {
		cost += int64(len(m))
	}
	if cost == 0 {
		cost = 1
	}
	var ttl time.Duration
	if !e.Expires.IsZero() {
		if ttl = time.Until(e.Expires); ttl <= 0 {
			s.c.Del(key)
			return nil
		}
	}
	if !s.c.SetWithTTL(key, e, cost, ttl) {
		return pr.ErrRejected
	}
	// Sets are buffered; wait so the next command in the batch sees this one.
	s.c.Wait()
	if _, ok := s.c.Get(key); !ok {
		return pr.ErrRejected
	}
	return nil
}

func (s store) Delete(key string) bool {
	_, ok := s.c.Get(key)
	s.c.Del(key)
	return ok
}

func (s store) Close() error {
	s.c.Wait()
	s.c.Close()
	return nil
}
