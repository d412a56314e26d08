// Package provider defines the KV backend boundary used by slicecache.
//
// A Provider executes a batch of commands in one round trip and returns one
// Reply per command, in submission order. Values are opaque bytes and must be
// returned byte-for-byte as they were written.
//
// Important: keys under "<ns>:<module>:" are owned by slicecache. External
// writes there may be treated as corrupt chunks and ignored.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Op is a backend verb.
type Op uint8

const (
	OpGet Op = iota + 1
	OpSet
	OpSetNX
	OpExpire
	OpDel
	OpIncr
	OpSAdd
	OpSMembers
)

func (o Op) String() string {
	switch o {
	case OpGet:
		return "GET"
	case OpSet:
		return "SET"
	case OpSetNX:
		return "SETNX"
	case OpExpire:
		return "EXPIRE"
	case OpDel:
		return "DEL"
	case OpIncr:
		return "INCR"
	case OpSAdd:
		return "SADD"
	case OpSMembers:
		return "SMEMBERS"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Cmd is one queued command. TTL <= 0 on SET means no expiry.
type Cmd struct {
	Op      Op
	Key     string
	Value   []byte
	TTL     time.Duration
	Members []string
}

// Reply is the result of one Cmd.
//
//	GET      Value, or Nil on miss
//	SET      OK
//	SETNX    OK=true when the key was created
//	EXPIRE   OK=true when the key exists
//	DEL      Int = number of keys removed
//	INCR     Int = value after increment
//	SADD     Int = number of members added
//	SMEMBERS Members
type Reply struct {
	Value   []byte
	Int     int64
	OK      bool
	Members []string
	Nil     bool
	Err     error
}

var (
	// ErrRejected marks a write the store refused under pressure.
	ErrRejected = errors.New("provider: write rejected")
	// ErrNotInteger is returned by INCR on a value that is not a decimal integer.
	ErrNotInteger = errors.New("provider: value is not an integer")
	// ErrWrongType is returned when a set command hits a string key or vice versa.
	ErrWrongType = errors.New("provider: operation against a key holding the wrong kind of value")
	ErrClosed    = errors.New("provider: closed")
)

// Provider is a batched KV store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Exec runs cmds as one batch. A transport failure returns err != nil;
	// per-command failures are reported in Reply.Err.
	Exec(ctx context.Context, cmds []Cmd) ([]Reply, error)

	// Close releases resources.
	Close(ctx context.Context) error
}

// Connector opens the provider for a logical connection name and database index.
type Connector func(connection string, db int) (Provider, error)
