package slicecache

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A complete slice set was served from the store.
	SliceHit(storageKey string, records int)

	// A read did not produce a usable slice set and the producer ran.
	// reason ∈ {"absent", "partial", "corrupt", "failed", "empty", "flush", "store"}
	SliceMiss(storageKey, reason string)

	// A pipeline against selector failed. op ∈ {"read", "write", "refresh", "clear"}
	StoreFailed(selector, op string, err error)

	// Keep-warm was armed for a call signature.
	RefreshArmed(signature string, cycles int64, every time.Duration)

	// A refresh cycle finished.
	// outcome ∈ {"rescheduled", "exhausted", "expired", "failed", "empty"}
	RefreshCycle(signature string, cycle int64, outcome string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SliceHit(string, int)                      {}
func (NopHooks) SliceMiss(string, string)                  {}
func (NopHooks) StoreFailed(string, string, error)         {}
func (NopHooks) RefreshArmed(string, int64, time.Duration) {}
func (NopHooks) RefreshCycle(string, int64, string)        {}
