// Package keyspace builds storage keys of the form
//
//	<namespace>:<module>:<suffix>[:<chunk>]
//
// Module partitions the key space by logical domain. The set of valid
// modules is closed per Codec: a module outside it is a configuration error
// and no key is produced.
//
// Scalar raw keys are identified by their text, so 1 and "1" name the same
// key. Composite raw keys become "h:" plus a content hash; a string raw key
// of that exact shape is rejected so it cannot alias a composite.
package keyspace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/unkn0wn-root/slicecache/codec"
	"github.com/unkn0wn-root/slicecache/internal/tree"
)

// Module is the enumerated tag that partitions the key space.
type Module int

const (
	Other              Module = 0
	ProjectFile        Module = 1
	PublicUser         Module = 2
	EnterpriseUser     Module = 3
	TaskPanels         Module = 4
	TaskPanelsCalendar Module = 5
	Common             Module = 6
	Statistics         Module = 7
	GlobalFilter       Module = 10
	LinkVisit          Module = 12
	Request            Module = 15
	StatisticalAsync   Module = 21
	Link               Module = 30
	FlyBookLogin       Module = 50
	ThirdPartyTicket   Module = 62
	GlobalLabelInit    Module = 100
	RequestLimit       Module = 101
	Command            Module = 111
	ThirdPartyToken    Module = 120
	// RefreshFlush holds keep-warm in-flight counters.
	RefreshFlush Module = 210
	ShareList    Module = 321
	GlobalLabel  Module = 713
	// KeyList holds the sets of chunk keys written under a group.
	KeyList Module = 9999
)

var builtin = []Module{
	Other, ProjectFile, PublicUser, EnterpriseUser, TaskPanels, TaskPanelsCalendar,
	Common, Statistics, GlobalFilter, LinkVisit, Request, StatisticalAsync, Link,
	FlyBookLogin, ThirdPartyTicket, GlobalLabelInit, RequestLimit, Command,
	ThirdPartyToken, RefreshFlush, ShareList, GlobalLabel, KeyList,
}

// Builtin returns the built-in enumeration in ascending order.
func Builtin() []Module {
	out := append([]Module(nil), builtin...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var ErrInvalidModule = errors.New("slicecache: module type undefined")

type InvalidModuleError struct {
	Module Module
}

func (e *InvalidModuleError) Error() string {
	return fmt.Sprintf("slicecache: module type %d undefined", int(e.Module))
}

func (e *InvalidModuleError) Is(target error) bool { return target == ErrInvalidModule }

// hashLen is the number of hex chars kept from the SHA-256 of a composite key.
const hashLen = 32

// hashTag prefixes composite suffixes.
const hashTag = "h:"

var ErrReservedSuffix = errors.New("keyspace: raw key has the reserved composite form")

var canonical = codec.MustCBOR[any](true)

// Codec generates namespaced keys. Safe for concurrent use; immutable after New.
type Codec struct {
	ns      string
	modules map[Module]struct{}
}

// New returns a Codec accepting the built-in modules plus extra.
func New(namespace string, extra ...Module) (*Codec, error) {
	if namespace == "" {
		return nil, fmt.Errorf("keyspace: namespace is required")
	}
	if strings.Contains(namespace, ":") {
		return nil, fmt.Errorf("keyspace: namespace %q must not contain ':'", namespace)
	}
	m := make(map[Module]struct{}, len(builtin)+len(extra))
	for _, b := range builtin {
		m[b] = struct{}{}
	}
	for _, e := range extra {
		m[e] = struct{}{}
	}
	return &Codec{ns: namespace, modules: m}, nil
}

func (c *Codec) Namespace() string { return c.ns }

// Valid reports whether m belongs to the enumeration.
func (c *Codec) Valid(m Module) bool {
	_, ok := c.modules[m]
	return ok
}

// Check returns *InvalidModuleError for modules outside the enumeration.
func (c *Codec) Check(m Module) error {
	if !c.Valid(m) {
		return &InvalidModuleError{Module: m}
	}
	return nil
}

// Generate returns <ns>:<module>:<suffix>. Scalar raw keys are formatted
// as-is; composite ones (maps, slices, structs) are replaced by "h:" and a
// fixed-width hash of their canonical encoding.
func (c *Codec) Generate(raw any, m Module) (string, error) {
	if err := c.Check(m); err != nil {
		return "", err
	}
	suffix, err := Suffix(raw)
	if err != nil {
		return "", err
	}
	return c.ns + ":" + strconv.Itoa(int(m)) + ":" + suffix, nil
}

// Chunk returns the key of chunk index under suffix.
func (c *Codec) Chunk(suffix string, m Module, index int) (string, error) {
	k, err := c.Generate(suffix, m)
	if err != nil {
		return "", err
	}
	return k + ":" + strconv.Itoa(index), nil
}

// Suffix renders raw as a key suffix.
func Suffix(raw any) (string, error) {
	switch v := tree.Normalize(raw).(type) {
	case nil:
		return "", fmt.Errorf("keyspace: raw key is nil")
	case string:
		if hashForm(v) {
			return "", fmt.Errorf("%w: %q", ErrReservedSuffix, v)
		}
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		sig, err := Signature(v)
		if err != nil {
			return "", err
		}
		return hashTag + sig, nil
	}
}

func hashForm(s string) bool {
	if len(s) != len(hashTag)+hashLen || !strings.HasPrefix(s, hashTag) {
		return false
	}
	_, err := hex.DecodeString(s[len(hashTag):])
	return err == nil
}

// Signature is the content hash of v: SHA-256 over its deterministic CBOR
// encoding, truncated to 32 hex chars. Map key order does not matter.
func Signature(v any) (string, error) {
	b, err := canonical.Encode(tree.Normalize(v))
	if err != nil {
		return "", fmt.Errorf("keyspace: canonical encode: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:hashLen], nil
}
