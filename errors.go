package slicecache

import (
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/slicecache/internal/tree"
	"github.com/unkn0wn-root/slicecache/internal/wire"
	"github.com/unkn0wn-root/slicecache/keyspace"
	"github.com/unkn0wn-root/slicecache/pipeline"
)

var (
	ErrMissingProducer  = errors.New("slicecache: producer not configured")
	ErrTTLConfiguration = errors.New("slicecache: refresh advance must be below ttl")
	ErrNoDispatcher     = errors.New("slicecache: keep-warm requires a dispatcher")
	ErrRefreshPayload   = errors.New("slicecache: malformed refresh payload")
	ErrClosed           = errors.New("slicecache: closed")

	ErrInvalidModule = keyspace.ErrInvalidModule
	ErrPipelineState = pipeline.ErrPipelineState
	ErrPathDepth     = tree.ErrPathDepth
	ErrSerialization = wire.ErrCorrupt
	ErrReservedKey   = keyspace.ErrReservedSuffix
)

type (
	InvalidModuleError = keyspace.InvalidModuleError
	PipelineStateError = pipeline.StateError
)

// MissingProducerError is returned before any I/O when the request cannot
// name a callable producer with its arguments.
type MissingProducerError struct {
	Producer ProducerID
	Reason   string
}

func (e *MissingProducerError) Error() string {
	if e.Producer == (ProducerID{}) {
		return "slicecache: missing producer: " + e.Reason
	}
	return fmt.Sprintf("slicecache: missing producer %s: %s", e.Producer, e.Reason)
}

func (e *MissingProducerError) Is(target error) bool { return target == ErrMissingProducer }

// TTLConfigurationError rejects keep-warm when the refresh advance does not
// leave room before expiry.
type TTLConfigurationError struct {
	TTL     time.Duration
	Advance time.Duration
}

func (e *TTLConfigurationError) Error() string {
	return fmt.Sprintf("slicecache: refresh advance %v must be below ttl %v", e.Advance, e.TTL)
}

func (e *TTLConfigurationError) Is(target error) bool { return target == ErrTTLConfiguration }

// ProducerError wraps a failure returned by the producer itself.
type ProducerError struct {
	Producer ProducerID
	Err      error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("slicecache: producer %s: %v", e.Producer, e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }
