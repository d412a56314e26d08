package chunk

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/unkn0wn-root/slicecache/internal/testutil"
	"github.com/unkn0wn-root/slicecache/internal/wire"
	"github.com/unkn0wn-root/slicecache/keyspace"
	"github.com/unkn0wn-root/slicecache/pipeline"
)

const limit = 4

type harness struct {
	mem   *testutil.Mem
	store *pipeline.Store
	s     *Slicer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	keys, err := keyspace.New("svr2")
	if err != nil {
		t.Fatal(err)
	}
	mem := testutil.NewMem()
	return &harness{
		mem:   mem,
		store: pipeline.NewStore(pipeline.Selector{Connection: "default"}, mem),
		s:     &Slicer{Keys: keys, Codec: wire.New(nil)},
	}
}

func (h *harness) write(t *testing.T, w Write) Written {
	t.Helper()
	p := h.store.Pipeline()
	if err := p.Open(); err != nil {
		t.Fatal(err)
	}
	out, err := h.s.QueueWrite(p, w)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	return out
}

func (h *harness) read(t *testing.T, tg Target) ([]any, Outcome) {
	t.Helper()
	p := h.store.Pipeline()
	if err := p.Open(); err != nil {
		t.Fatal(err)
	}
	r, err := h.s.QueueRead(p, tg)
	if err != nil {
		t.Fatal(err)
	}
	replies, err := p.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return r.Collect(replies)
}

func records(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = map[string]any{"id": int64(i), "name": "row"}
	}
	return out
}

func TestPlan(t *testing.T) {
	cases := []struct {
		n, limit int
		sizes    []int
	}{
		{0, 4, []int{0}},
		{1, 4, []int{1}},
		{3, 4, []int{1, 1, 1}},
		{4, 4, []int{1, 1, 1, 1}},
		{5, 4, []int{2, 2, 1}},
		{40, 4, []int{10, 10, 10, 10}},
		{7, 1, []int{7}},
		{7, 0, []int{7}},
	}
	for _, tc := range cases {
		parts := Plan(records(tc.n), tc.limit)
		got := make([]int, len(parts))
		for i, p := range parts {
			got[i] = len(p)
		}
		if !reflect.DeepEqual(got, tc.sizes) {
			t.Fatalf("Plan(n=%d, limit=%d) sizes=%v want %v", tc.n, tc.limit, got, tc.sizes)
		}
	}
}

func TestPlanPartitionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 500).Draw(t, "n")
		lim := rapid.IntRange(1, 64).Draw(t, "limit")
		recs := make([]any, n)
		for i := range recs {
			recs[i] = i
		}
		parts := Plan(recs, lim)
		if len(parts) > lim && n > 0 {
			t.Fatalf("%d chunks exceed limit %d", len(parts), lim)
		}
		var flat []any
		for _, p := range parts {
			flat = append(flat, p...)
		}
		if len(flat) != n {
			t.Fatalf("partition lost records: %d vs %d", len(flat), n)
		}
		for i, v := range flat {
			if v != i {
				t.Fatalf("order broken at %d", i)
			}
		}
	})
}

func TestWriteReadLossless(t *testing.T) {
	for _, n := range []int{1, limit - 1, limit, limit + 1, 10 * limit} {
		h := newHarness(t)
		want := records(n)
		h.write(t, Write{Records: want, Suffix: "s", Limit: limit, Module: keyspace.Common, TTL: 5 * time.Minute})
		got, out := h.read(t, Target{Suffix: "s", Limit: limit, Module: keyspace.Common})
		if out != OutcomeHit {
			t.Fatalf("n=%d: outcome %s", n, out)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("n=%d: got %v want %v", n, got, want)
		}
	}
}

func TestEmptySetWritesOneChunkAndReadsAsMiss(t *testing.T) {
	h := newHarness(t)
	w := h.write(t, Write{Suffix: "s", Limit: limit, Module: keyspace.Common, TTL: time.Minute})
	if len(w.Keys) != 1 || w.Keys[0] != "svr2:6:s:0" {
		t.Fatalf("unexpected keys %v", w.Keys)
	}
	if _, ok := h.mem.Raw("svr2:6:s:0"); !ok {
		t.Fatalf("empty chunk not stored")
	}
	if got, out := h.read(t, Target{Suffix: "s", Limit: limit, Module: keyspace.Common}); out != OutcomeEmpty || got != nil {
		t.Fatalf("empty set: got %v outcome %s", got, out)
	}
}

func TestAllOrNothing(t *testing.T) {
	tg := Target{Suffix: "s", Limit: limit, Module: keyspace.Common}
	for _, drop := range []int{0, 1, 3} {
		h := newHarness(t)
		h.write(t, Write{Records: records(4 * limit), Suffix: "s", Limit: limit, Module: keyspace.Common, TTL: time.Minute})
		key, _ := h.s.Keys.Chunk("s", keyspace.Common, drop)
		h.mem.Delete(key)
		if got, out := h.read(t, tg); out != OutcomePartial || got != nil {
			t.Fatalf("drop %d: got %d records outcome %s", drop, len(got), out)
		}
	}

	h := newHarness(t)
	h.write(t, Write{Records: records(2), Suffix: "s", Limit: limit, Module: keyspace.Common, TTL: time.Minute})
	h.mem.Advance(2 * time.Minute)
	if _, out := h.read(t, tg); out != OutcomeAbsent {
		t.Fatalf("expired set: outcome %s", out)
	}
}

func TestCorruptChunkIsMiss(t *testing.T) {
	h := newHarness(t)
	h.write(t, Write{Records: records(8), Suffix: "s", Limit: limit, Module: keyspace.Common, TTL: time.Minute})
	key, _ := h.s.Keys.Chunk("s", keyspace.Common, 2)

	p := h.store.Pipeline()
	_ = p.Open()
	_, _ = p.QueueSet(key, []byte("not a chunk"), time.Minute)
	if _, err := p.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, out := h.read(t, Target{Suffix: "s", Limit: limit, Module: keyspace.Common}); out != OutcomeCorrupt {
		t.Fatalf("outcome %s", out)
	}
}

func TestSmallerProbeIsPartial(t *testing.T) {
	h := newHarness(t)
	h.write(t, Write{Records: records(8), Suffix: "s", Limit: limit, Module: keyspace.Common, TTL: time.Minute})
	if _, out := h.read(t, Target{Suffix: "s", Limit: 2, Module: keyspace.Common}); out != OutcomePartial {
		t.Fatalf("outcome %s", out)
	}
}

func TestShrunkRewriteIgnoresTrailingChunks(t *testing.T) {
	h := newHarness(t)
	tg := Target{Suffix: "s", Limit: limit, Module: keyspace.Common}
	h.write(t, Write{Records: records(8), Suffix: "s", Limit: limit, Module: keyspace.Common, TTL: time.Hour})
	want := records(2)
	h.write(t, Write{Records: want, Suffix: "s", Limit: limit, Module: keyspace.Common, TTL: time.Hour})
	got, out := h.read(t, tg)
	if out != OutcomeHit || !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v outcome %s", got, out)
	}
}

func TestJitterBounds(t *testing.T) {
	h := newHarness(t)
	base := 300 * time.Second

	w := h.write(t, Write{Records: records(3), Suffix: "plain", Limit: limit, Module: keyspace.Common, TTL: base})
	for _, k := range w.Keys {
		if got := h.mem.TTL(k); got != base {
			t.Fatalf("no jitter: ttl %v want %v", got, base)
		}
	}

	for _, draw := range []int64{0, 3540} {
		h.s.Rand = func(n int64) int64 {
			if n != 3541 {
				t.Fatalf("jitter span %d", n)
			}
			return draw
		}
		w := h.write(t, Write{Records: records(3), Suffix: "edge", Limit: limit, Module: keyspace.Common, TTL: base, Jitter: true})
		want := base + JitterMin + time.Duration(draw)*time.Second
		for _, k := range w.Keys {
			if got := h.mem.TTL(k); got != want {
				t.Fatalf("draw %d: ttl %v want %v", draw, got, want)
			}
		}
	}

	h.s.Rand = nil
	for i := 0; i < 200; i++ {
		ttl := h.s.TTL(base, true)
		if ttl < 360*time.Second || ttl > 3900*time.Second {
			t.Fatalf("jittered ttl %v out of [360s, 3900s]", ttl)
		}
	}
}

func TestInvalidModuleQueuesNothing(t *testing.T) {
	h := newHarness(t)
	p := h.store.Pipeline()
	_ = p.Open()
	_, err := h.s.QueueWrite(p, Write{Records: records(3), Suffix: "s", Limit: limit, Module: keyspace.Module(4242), TTL: time.Minute})
	if !errors.Is(err, keyspace.ErrInvalidModule) || p.Len() != 0 {
		t.Fatalf("err=%v queued=%d", err, p.Len())
	}
	if _, err := h.s.QueueRead(p, Target{Suffix: "s", Limit: limit, Module: keyspace.Module(4242)}); !errors.Is(err, keyspace.ErrInvalidModule) {
		t.Fatalf("read err=%v", err)
	}
}

func TestGroupBookkeepingAndClear(t *testing.T) {
	h := newHarness(t)
	a := h.write(t, Write{Records: records(8), Suffix: "a", Limit: limit, Module: keyspace.Common, TTL: time.Hour, Group: "panels"})
	b := h.write(t, Write{Records: records(1), Suffix: "b", Limit: limit, Module: keyspace.TaskPanels, TTL: time.Hour, Group: "panels"})
	list, _ := h.s.Keys.Generate("panels", keyspace.KeyList)
	if ttl := h.mem.TTL(list); ttl != KeyListTTL {
		t.Fatalf("key list ttl %v", ttl)
	}

	n, err := h.s.Clear(context.Background(), h.store, "panels")
	if err != nil {
		t.Fatal(err)
	}
	if n != len(a.Keys)+len(b.Keys) {
		t.Fatalf("removed %d want %d", n, len(a.Keys)+len(b.Keys))
	}
	left := h.mem.Keys()
	sort.Strings(left)
	if len(left) != 0 {
		t.Fatalf("keys survived clear: %v", left)
	}
}
