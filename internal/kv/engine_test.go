package kv

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	pr "github.com/unkn0wn-root/slicecache/provider"
)

func newEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	e := New(NewMapStore())
	e.SetClock(func() time.Time { return now })
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e, &now
}

func exec(t *testing.T, e *Engine, cmds ...pr.Cmd) []pr.Reply {
	t.Helper()
	r, err := e.Exec(context.Background(), cmds)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(r) != len(cmds) {
		t.Fatalf("got %d replies for %d cmds", len(r), len(cmds))
	}
	return r
}

func TestEngineBatchOrderAndTTL(t *testing.T) {
	e, now := newEngine(t)
	r := exec(t, e,
		pr.Cmd{Op: pr.OpGet, Key: "a"},
		pr.Cmd{Op: pr.OpSet, Key: "a", Value: []byte("1"), TTL: time.Minute},
		pr.Cmd{Op: pr.OpGet, Key: "a"},
		pr.Cmd{Op: pr.OpIncr, Key: "a"},
		pr.Cmd{Op: pr.OpGet, Key: "a"},
	)
	if !r[0].Nil || !r[1].OK || string(r[2].Value) != "1" || r[3].Int != 2 || string(r[4].Value) != "2" {
		t.Fatalf("unexpected replies: %+v", r)
	}

	*now = now.Add(61 * time.Second)
	if r := exec(t, e, pr.Cmd{Op: pr.OpGet, Key: "a"}); !r[0].Nil {
		t.Fatalf("INCR must keep the TTL; key should have expired, got %+v", r[0])
	}
}

func TestEngineSetNXAndExpire(t *testing.T) {
	e, now := newEngine(t)
	r := exec(t, e,
		pr.Cmd{Op: pr.OpSetNX, Key: "lock", Value: []byte("1"), TTL: time.Second},
		pr.Cmd{Op: pr.OpSetNX, Key: "lock", Value: []byte("2"), TTL: time.Second},
		pr.Cmd{Op: pr.OpExpire, Key: "lock", TTL: time.Hour},
		pr.Cmd{Op: pr.OpExpire, Key: "missing", TTL: time.Hour},
	)
	if !r[0].OK || r[1].OK || !r[2].OK || r[3].OK {
		t.Fatalf("unexpected replies: %+v", r)
	}
	*now = now.Add(time.Minute)
	if r := exec(t, e, pr.Cmd{Op: pr.OpGet, Key: "lock"}); string(r[0].Value) != "1" {
		t.Fatalf("EXPIRE should have extended the key, got %+v", r[0])
	}
}

func TestEngineSets(t *testing.T) {
	e, _ := newEngine(t)
	r := exec(t, e,
		pr.Cmd{Op: pr.OpSAdd, Key: "s", Members: []string{"x", "y"}},
		pr.Cmd{Op: pr.OpSAdd, Key: "s", Members: []string{"y", "z"}},
		pr.Cmd{Op: pr.OpSMembers, Key: "s"},
		pr.Cmd{Op: pr.OpGet, Key: "s"},
		pr.Cmd{Op: pr.OpDel, Key: "s"},
		pr.Cmd{Op: pr.OpSMembers, Key: "s"},
	)
	if r[0].Int != 2 || r[1].Int != 1 {
		t.Fatalf("SADD counts: %+v %+v", r[0], r[1])
	}
	got := append([]string(nil), r[2].Members...)
	sort.Strings(got)
	if len(got) != 3 || got[0] != "x" || got[2] != "z" {
		t.Fatalf("SMEMBERS=%v", got)
	}
	if !errors.Is(r[3].Err, pr.ErrWrongType) {
		t.Fatalf("GET on a set should be WRONGTYPE, got %+v", r[3])
	}
	if r[4].Int != 1 || len(r[5].Members) != 0 {
		t.Fatalf("DEL/SMEMBERS after delete: %+v %+v", r[4], r[5])
	}
}

func TestEngineIncrNotInteger(t *testing.T) {
	e, _ := newEngine(t)
	r := exec(t, e,
		pr.Cmd{Op: pr.OpSet, Key: "k", Value: []byte("abc")},
		pr.Cmd{Op: pr.OpIncr, Key: "k"},
	)
	if !errors.Is(r[1].Err, pr.ErrNotInteger) {
		t.Fatalf("expected ErrNotInteger, got %+v", r[1])
	}
}

func TestEngineClosed(t *testing.T) {
	e, _ := newEngine(t)
	_ = e.Close(context.Background())
	if _, err := e.Exec(context.Background(), []pr.Cmd{{Op: pr.OpGet, Key: "k"}}); !errors.Is(err, pr.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
