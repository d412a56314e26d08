// Package chunk stores ordered record sets as bounded slices under
// consecutive keys and reassembles them on read.
//
//	<ns>:<module>:<suffix>:0 .. <ns>:<module>:<suffix>:<n-1>
//
// Every chunk carries the chunk count of its write, so a reader can tell a
// complete set from one that partially expired. Partial sets are misses.
package chunk

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/unkn0wn-root/slicecache/internal/wire"
	"github.com/unkn0wn-root/slicecache/keyspace"
	"github.com/unkn0wn-root/slicecache/pipeline"
	pr "github.com/unkn0wn-root/slicecache/provider"
)

const (
	JitterMin  = 60 * time.Second
	JitterMax  = 3600 * time.Second
	KeyListTTL = 24 * time.Hour
)

const (
	fieldOf   = "of"
	fieldRows = "rows"
)

// Plan partitions records into at most limit contiguous chunks of
// ceil(n/limit) records each. An empty set is one empty chunk.
func Plan(records []any, limit int) [][]any {
	n := len(records)
	if n == 0 {
		return [][]any{{}}
	}
	if limit < 1 {
		limit = 1
	}
	size := (n + limit - 1) / limit
	out := make([][]any, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		out = append(out, records[lo:hi:hi])
	}
	return out
}

// Slicer reads and writes chunk sets. The zero Rand uses math/rand/v2.
type Slicer struct {
	Keys  *keyspace.Codec
	Codec wire.Codec
	Rand  func(n int64) int64 // uniform in [0, n)
}

// Write describes one chunk-set write.
type Write struct {
	Records []any
	Suffix  string
	Limit   int
	Module  keyspace.Module
	TTL     time.Duration
	Jitter  bool
	Group   string // key-list name; empty skips bookkeeping
}

// Written reports what QueueWrite put into the pipeline.
type Written struct {
	Keys []string
	TTL  time.Duration
}

// TTL returns base plus, with jitter, one uniform draw from
// [JitterMin, JitterMax] at whole-second granularity.
func (s *Slicer) TTL(base time.Duration, jitter bool) time.Duration {
	if !jitter {
		return base
	}
	span := int64((JitterMax - JitterMin) / time.Second)
	rnd := s.Rand
	if rnd == nil {
		rnd = rand.Int64N
	}
	return base + JitterMin + time.Duration(rnd(span+1))*time.Second
}

// QueueWrite queues one SET per chunk. Nothing is queued when a key or a
// chunk cannot be built. The caller executes the pipeline.
func (s *Slicer) QueueWrite(p *pipeline.Pipeline, w Write) (Written, error) {
	parts := Plan(w.Records, w.Limit)
	ttl := s.TTL(w.TTL, w.Jitter)

	keys := make([]string, len(parts))
	vals := make([][]byte, len(parts))
	for i, rows := range parts {
		k, err := s.Keys.Chunk(w.Suffix, w.Module, i)
		if err != nil {
			return Written{}, err
		}
		b, err := s.Codec.Encode(map[string]any{fieldOf: len(parts), fieldRows: rows})
		if err != nil {
			return Written{}, fmt.Errorf("chunk %d of %q: %w", i, w.Suffix, err)
		}
		keys[i], vals[i] = k, b
	}
	var list string
	if w.Group != "" {
		var err error
		if list, err = s.Keys.Generate(w.Group, keyspace.KeyList); err != nil {
			return Written{}, err
		}
	}

	for i := range keys {
		if _, err := p.QueueSet(keys[i], vals[i], ttl); err != nil {
			return Written{}, err
		}
	}
	if list != "" {
		if _, err := p.QueueSAdd(list, keys...); err != nil {
			return Written{}, err
		}
		if _, err := p.QueueExpire(list, KeyListTTL); err != nil {
			return Written{}, err
		}
	}
	return Written{Keys: keys, TTL: ttl}, nil
}

// Target addresses a chunk set for reading.
type Target struct {
	Suffix string
	Limit  int
	Module keyspace.Module
}

// Outcome classifies a read.
type Outcome uint8

const (
	OutcomeHit Outcome = iota
	OutcomeAbsent
	OutcomePartial
	OutcomeCorrupt
	OutcomeFailed
	OutcomeEmpty
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "hit"
	case OutcomeAbsent:
		return "absent"
	case OutcomePartial:
		return "partial"
	case OutcomeCorrupt:
		return "corrupt"
	case OutcomeFailed:
		return "failed"
	case OutcomeEmpty:
		return "empty"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// Read is a queued chunk-set read awaiting the pipeline's replies.
type Read struct {
	s     *Slicer
	first int
	n     int
}

// QueueRead queues GETs for indices 0..Limit-1. Readers must probe at least
// as many indices as the largest write used; a chunk count beyond the probed
// range reads as partial.
func (s *Slicer) QueueRead(p *pipeline.Pipeline, t Target) (*Read, error) {
	limit := max(t.Limit, 1)
	r := &Read{s: s, first: -1, n: limit}
	for i := 0; i < limit; i++ {
		k, err := s.Keys.Chunk(t.Suffix, t.Module, i)
		if err != nil {
			return nil, err
		}
		idx, err := p.QueueGet(k)
		if err != nil {
			return nil, err
		}
		if r.first < 0 {
			r.first = idx
		}
	}
	return r, nil
}

// Collect reassembles the set from the pipeline replies. Anything short of
// a complete, non-empty set is a miss.
func (r *Read) Collect(replies []pr.Reply) ([]any, Outcome) {
	if r.first < 0 || r.first+r.n > len(replies) {
		return nil, OutcomeFailed
	}
	replies = replies[r.first : r.first+r.n]

	head, out := r.chunk(replies[0])
	if out != OutcomeHit {
		if out == OutcomeAbsent && anyPresent(replies[1:]) {
			return nil, OutcomePartial
		}
		return nil, out
	}
	of := head.of
	if of > r.n {
		return nil, OutcomePartial
	}
	records := append([]any(nil), head.rows...)
	for i := 1; i < of; i++ {
		c, out := r.chunk(replies[i])
		switch {
		case out == OutcomeAbsent:
			return nil, OutcomePartial
		case out != OutcomeHit:
			return nil, out
		case c.of != of:
			return nil, OutcomeCorrupt
		}
		records = append(records, c.rows...)
	}
	if len(records) == 0 {
		return nil, OutcomeEmpty
	}
	return records, OutcomeHit
}

type decoded struct {
	of   int
	rows []any
}

func (r *Read) chunk(rep pr.Reply) (decoded, Outcome) {
	switch {
	case rep.Err != nil:
		return decoded{}, OutcomeFailed
	case rep.Nil:
		return decoded{}, OutcomeAbsent
	}
	v, err := r.s.Codec.DecodeStrict(rep.Value)
	if err != nil {
		return decoded{}, OutcomeCorrupt
	}
	m, ok := v.(map[string]any)
	if !ok {
		return decoded{}, OutcomeCorrupt
	}
	of, ok := m[fieldOf].(int64)
	if !ok || of < 1 {
		return decoded{}, OutcomeCorrupt
	}
	var rows []any
	switch x := m[fieldRows].(type) {
	case []any:
		rows = x
	case nil:
	default:
		return decoded{}, OutcomeCorrupt
	}
	return decoded{of: int(of), rows: rows}, OutcomeHit
}

func anyPresent(replies []pr.Reply) bool {
	for _, r := range replies {
		if r.Err == nil && !r.Nil {
			return true
		}
	}
	return false
}

// Clear deletes every chunk recorded under group, and the list itself.
// It returns the number of keys removed.
func (s *Slicer) Clear(ctx context.Context, st *pipeline.Store, group string) (int, error) {
	list, err := s.Keys.Generate(group, keyspace.KeyList)
	if err != nil {
		return 0, err
	}
	p := st.Pipeline()
	if err := p.Open(); err != nil {
		return 0, err
	}
	if _, err := p.QueueSMembers(list); err != nil {
		return 0, err
	}
	r, err := p.Execute(ctx)
	if err != nil {
		return 0, err
	}
	if r[0].Err != nil {
		return 0, fmt.Errorf("read key list %q: %w", list, r[0].Err)
	}

	if err := p.Open(); err != nil {
		return 0, err
	}
	for _, k := range append(r[0].Members, list) {
		if _, err := p.QueueDel(k); err != nil {
			return 0, err
		}
	}
	r, err = p.Execute(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, rep := range r[:len(r)-1] {
		removed += int(rep.Int)
	}
	return removed, nil
}
