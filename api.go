package slicecache

import (
	"time"

	c "github.com/unkn0wn-root/slicecache/codec"
	"github.com/unkn0wn-root/slicecache/dispatch"
	"github.com/unkn0wn-root/slicecache/keyspace"
	pr "github.com/unkn0wn-root/slicecache/provider"
)

// Options configure a Cache.
// Only Namespace, Connect and Registry are required; others have sensible defaults.
type Options struct {
	// Required
	Namespace string       // key prefix, e.g. "svr2"; must not contain ':'
	Connect   pr.Connector // opens the provider for a (connection, db) pair
	Registry  *Registry

	Dispatcher dispatch.Dispatcher // nil disables keep-warm
	Logger     Logger              // if nil, NopLogger is used
	Hooks      Hooks               // if nil, NopHooks is used
	Codec      c.Codec[any]        // composite payloads; nil => msgpack
	Modules    []keyspace.Module   // extra modules beyond the built-in enumeration

	// MaxChunkBytes caps the encoded size of one chunk. Writes with a larger
	// chunk are skipped (the producer output is still returned) and larger
	// chunks read back are treated as corrupt. 0 disables.
	MaxChunkBytes int

	DefaultTTL        time.Duration   // 0 => 5m
	DefaultConnection string          // "" => "default"
	DefaultSuffix     string          // "" => "slice"
	DefaultMaxSlices  int             // 0 => 40
	DefaultModule     keyspace.Module // 0 => keyspace.Common; use Request.Module(keyspace.Other) for Other
	RefreshAdvance    time.Duration   // 0 => 100s; refresh starts this long before expiry
	RefreshChannel    string          // "" => "high"

	Rand func(n int64) int64 // jitter source, uniform in [0, n); nil => math/rand/v2
}

func New(opts Options) (*Cache, error) {
	return newCache(opts)
}
