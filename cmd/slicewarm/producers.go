package main

import (
	"context"
	"time"

	"github.com/unkn0wn-root/slicecache"
)

const (
	echoTarget = "slicewarm"
	echoMethod = "echo"
)

// registerProducers installs the producers this binary can refresh. Refresh
// payloads only name producers, so the worker must register every producer
// that requests elsewhere arm keep-warm for.
func registerProducers(r *slicecache.Registry) {
	r.MustRegister(slicecache.ProducerID{Target: echoTarget, Method: echoMethod, Static: true},
		slicecache.Variadic(echo))
}

// echo returns one record per argument, stamped with the production time.
func echo(_ context.Context, args []any) ([]slicecache.Record, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	out := make([]slicecache.Record, len(args))
	for i, a := range args {
		out[i] = slicecache.Record{"index": i, "value": a, "produced_at": now}
	}
	return out, nil
}
