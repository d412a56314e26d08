package bigcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bc "github.com/allegro/bigcache/v3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/slicecache/internal/kv"
	pr "github.com/unkn0wn-root/slicecache/provider"
)

// Provider is an in-process backend on bigcache. bigcache has no per-entry
// TTL (only the global LifeWindow), so each value carries its own deadline:
//
//	expires(i64 unix nanos, 0 = none) | kind(1: 0=string 1=set) | payload
//
// LifeWindow must be at least the longest TTL you write, otherwise bigcache
// evicts chunks before their deadline.
type Provider struct {
	*kv.Engine
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Provider, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Provider{Engine: kv.New(store{c: c})}, nil
}

// Connector returns one independent cache per (connection, db) pair.
func Connector(cfg Config) pr.Connector {
	return func(string, int) (pr.Provider, error) { return New(cfg) }
}

const (
	kindString byte = 0
	kindSet    byte = 1
	header          = 8 + 1
)

type store struct{ c *bc.BigCache }

func (s store) Load(key string) (kv.Entry, bool) {
	b, err := s.c.Get(key)
	if err != nil {
		return kv.Entry{}, false
	}
	e, err := decode(b)
	if err != nil {
		_ = s.c.Delete(key)
		return kv.Entry{}, false
	}
	return e, true
}

func (s store) Save(key string, e kv.Entry) error {
	b, err := encode(e)
	if err != nil {
		return err
	}
	if err := s.c.Set(key, b); err != nil {
		return fmt.Errorf("%w: %v", pr.ErrRejected, err)
	}
	return nil
}

func (s store) Delete(key string) bool {
	return s.c.Delete(key) == nil
}

func (s store) Close() error { return s.c.Close() }

func encode(e kv.Entry) ([]byte, error) {
	var exp int64
	if !e.Expires.IsZero() {
		exp = e.Expires.UnixNano()
	}
	payload := e.Str
	kind := kindString
	if e.IsSet {
		kind = kindSet
		members := make([]string, 0, len(e.Set))
		for m := range e.Set {
			members = append(members, m)
		}
		b, err := msgpack.Marshal(members)
		if err != nil {
			return nil, err
		}
		payload = b
	}
	out := make([]byte, header, header+len(payload))
	binary.BigEndian.PutUint64(out[:8], uint64(exp))
	out[8] = kind
	return append(out, payload...), nil
}

var errCorrupt = errors.New("bigcache provider: corrupt entry")

func decode(b []byte) (kv.Entry, error) {
	if len(b) < header {
		return kv.Entry{}, errCorrupt
	}
	var e kv.Entry
	if exp := int64(binary.BigEndian.Uint64(b[:8])); exp != 0 {
		e.Expires = time.Unix(0, exp)
	}
	payload := b[header:]
	switch b[8] {
	case kindString:
		e.Str = append([]byte(nil), payload...)
	case kindSet:
		var members []string
		if err := msgpack.Unmarshal(payload, &members); err != nil {
			return kv.Entry{}, errCorrupt
		}
		e.IsSet = true
		e.Set = make(map[string]struct{}, len(members))
		for _, m := range members {
			e.Set[m] = struct{}{}
		}
	default:
		return kv.Entry{}, errCorrupt
	}
	return e, nil
}
