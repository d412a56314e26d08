package keyspace

import (
	"errors"
	"strings"
	"testing"
)

func mustCodec(t *testing.T, extra ...Module) *Codec {
	t.Helper()
	c, err := New("svr2", extra...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGenerateScalar(t *testing.T) {
	c := mustCodec(t)
	cases := []struct {
		raw  any
		want string
	}{
		{"slice", "svr2:6:slice"},
		{42, "svr2:6:42"},
		{int8(-3), "svr2:6:-3"},
		{true, "svr2:6:true"},
	}
	for _, tc := range cases {
		got, err := c.Generate(tc.raw, Common)
		if err != nil {
			t.Fatalf("Generate(%v): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("Generate(%v)=%q want %q", tc.raw, got, tc.want)
		}
	}
}

func TestGenerateDeterministicAndSeparated(t *testing.T) {
	c := mustCodec(t)
	k1, _ := c.Generate("s", ProjectFile)
	k2, _ := c.Generate("s", TaskPanels)
	if k1 == k2 {
		t.Fatalf("keys for different modules collide: %q", k1)
	}
	for i := 0; i < 5; i++ {
		again, _ := c.Generate("s", ProjectFile)
		if again != k1 {
			t.Fatalf("unstable key: %q vs %q", again, k1)
		}
	}
}

func TestGenerateCompositeCanonical(t *testing.T) {
	c := mustCodec(t)
	a := map[string]any{"project": 7, "filters": []string{"open", "mine"}, "page": 1}
	b := map[string]any{"page": int64(1), "filters": []any{"open", "mine"}, "project": uint8(7)}

	ka, err := c.Generate(a, Common)
	if err != nil {
		t.Fatal(err)
	}
	kb, err := c.Generate(b, Common)
	if err != nil {
		t.Fatal(err)
	}
	if ka != kb {
		t.Fatalf("equal composites hash differently: %q vs %q", ka, kb)
	}
	if suffix := strings.TrimPrefix(ka, "svr2:6:h:"); len(suffix) != hashLen {
		t.Fatalf("composite suffix should be %d hex chars, got %q", hashLen, suffix)
	}

	kc, _ := c.Generate(map[string]any{"project": 8}, Common)
	if kc == ka {
		t.Fatalf("distinct composites collide")
	}
	// sequence order is significant
	k1, _ := c.Generate([]any{1, 2}, Common)
	k2, _ := c.Generate([]any{2, 1}, Common)
	if k1 == k2 {
		t.Fatalf("sequence order must matter")
	}
}

func TestCompositeCannotBeSpelledAsString(t *testing.T) {
	c := mustCodec(t)
	comp, err := c.Generate(map[string]any{"project": 7}, Common)
	if err != nil {
		t.Fatal(err)
	}
	hash := strings.TrimPrefix(comp, "svr2:6:h:")

	plain, err := c.Generate(hash, Common)
	if err != nil || plain == comp {
		t.Fatalf("bare digest string %q aliases composite key %q (err %v)", plain, comp, err)
	}
	if _, err := c.Generate("h:"+hash, Common); !errors.Is(err, ErrReservedSuffix) {
		t.Fatalf("expected ErrReservedSuffix, got %v", err)
	}
	if k, err := c.Generate("h:users", Common); err != nil || k != "svr2:6:h:users" {
		t.Fatalf("ordinary h: prefix rejected: %q %v", k, err)
	}
}

func TestGenerateInvalidModule(t *testing.T) {
	c := mustCodec(t)
	_, err := c.Generate("s", Module(4242))
	if !errors.Is(err, ErrInvalidModule) {
		t.Fatalf("expected ErrInvalidModule, got %v", err)
	}
	var ime *InvalidModuleError
	if !errors.As(err, &ime) || ime.Module != 4242 {
		t.Fatalf("expected *InvalidModuleError{4242}, got %#v", err)
	}

	ext := mustCodec(t, Module(4242))
	if _, err := ext.Generate("s", Module(4242)); err != nil {
		t.Fatalf("declared module rejected: %v", err)
	}
}

func TestChunkKey(t *testing.T) {
	c := mustCodec(t)
	got, err := c.Chunk("s1", Common, 0)
	if err != nil {
		t.Fatal(err)
	}
	other, _ := c.Chunk("s", Common, 10)
	if got != "svr2:6:s1:0" || got == other {
		t.Fatalf("unexpected chunk key %q (other %q)", got, other)
	}
}

func TestNewValidatesNamespace(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("empty namespace must fail")
	}
	if _, err := New("a:b"); err == nil {
		t.Fatalf("namespace with ':' must fail")
	}
}
