package slicecache

import (
	"time"

	"github.com/unkn0wn-root/slicecache/keyspace"
)

const (
	defaultTTL        = 5 * time.Minute
	defaultConnection = "default"
	defaultSuffix     = "slice"
	defaultMaxSlices  = 40
	defaultModule     = keyspace.Common
	defaultAdvance    = 100 * time.Second
	defaultChannel    = "high"
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
