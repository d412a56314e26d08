package tree

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestNormalizeWidensNestedValues(t *testing.T) {
	type tag string
	in := map[string]any{
		"i":    7,
		"u8":   uint8(3),
		"f":    float32(1.5),
		"tags": []string{"a", "b"},
		"meta": map[string]int{"n": 2},
		"num":  json.Number("12"),
		"kind": tag("x"),
		"nil":  nil,
	}
	want := map[string]any{
		"i":    int64(7),
		"u8":   int64(3),
		"f":    float64(1.5),
		"tags": []any{"a", "b"},
		"meta": map[string]any{"n": int64(2)},
		"num":  int64(12),
		"kind": "x",
		"nil":  nil,
	}
	if got := Normalize(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("Normalize:\n got=%#v\nwant=%#v", got, want)
	}
}

func TestNormalizeStructUsesMsgpackTags(t *testing.T) {
	type user struct {
		ID   int    `msgpack:"id"`
		Name string `msgpack:"name"`
	}
	got := Normalize(user{ID: 1, Name: "Ada"})
	want := map[string]any{"id": int64(1), "name": "Ada"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%#v want=%#v", got, want)
	}
}

func TestFind(t *testing.T) {
	rec := map[string]any{
		"user": map[string]any{"id": int64(7), "name": "Ada"},
		"meta": map[string]any{"tags": []any{"first", "second"}},
		"id":   int64(99),
		"gone": nil,
	}
	cases := []struct {
		path string
		want any
	}{
		{"user.name", "Ada"},
		{"meta.tags.1", "second"},
		{"meta.tags.5", []any{"first", "second"}},
		{"missing", nil},
		{"gone", nil},
		// top-level "id" shadows the nested one
		{"user.id", int64(99)},
		{"account.id", int64(99)},
	}
	for _, tc := range cases {
		if got := Find(rec, tc.path); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Find(%q)=%#v want %#v", tc.path, got, tc.want)
		}
	}
}

func TestFindTriesBothLevelsPerSegment(t *testing.T) {
	rec := map[string]any{"a": map[string]any{"a": int64(5)}}
	if got := Find(rec, "a"); got != int64(5) {
		t.Fatalf("Find(a)=%#v want 5", got)
	}
	rec = map[string]any{"user": map[string]any{"name": "Ada"}}
	if got := Find(rec, "user.name"); got != "Ada" {
		t.Fatalf("Find(user.name)=%#v want Ada", got)
	}
}

func TestSetDepths(t *testing.T) {
	out := map[string]any{}
	for _, p := range []string{"a", "b.c", "d.e.f"} {
		if err := Set(out, p, 1); err != nil {
			t.Fatalf("Set(%q): %v", p, err)
		}
	}
	want := map[string]any{
		"a": 1,
		"b": map[string]any{"c": 1},
		"d": map[string]any{"e": map[string]any{"f": 1}},
	}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got=%#v want=%#v", out, want)
	}
	if err := Set(out, "w.x.y.z", 1); !errors.Is(err, ErrPathDepth) {
		t.Fatalf("expected ErrPathDepth, got %v", err)
	}
}

func TestProjectReshapes(t *testing.T) {
	rec := map[string]any{"user": map[string]any{"id": int64(7)}, "noise": true}
	got := Project(rec, Template{"user.id": "uid", "missing": "meta.x"})
	want := map[string]any{"uid": int64(7), "meta": map[string]any{"x": nil}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%#v want=%#v", got, want)
	}
	if same := Project(rec, nil); !reflect.DeepEqual(same, rec) {
		t.Fatalf("empty template must return record unchanged")
	}
}

func TestTemplateValidate(t *testing.T) {
	if err := (Template{"a.b": "x.y.z"}).Validate(); err != nil {
		t.Fatalf("valid template rejected: %v", err)
	}
	for _, tpl := range []Template{
		{"a": "w.x.y.z"},
		{"a": ""},
		{"": "a"},
		{"a..b": "c"},
	} {
		if err := tpl.Validate(); !errors.Is(err, ErrPathDepth) {
			t.Fatalf("template %v: expected ErrPathDepth, got %v", tpl, err)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	src := map[string]any{"tags": []any{"a", map[string]any{"k": int64(1)}}, "raw": []byte("x")}
	cp := Clone(src).(map[string]any)
	cp["tags"].([]any)[1].(map[string]any)["k"] = int64(2)
	cp["raw"].([]byte)[0] = 'y'
	cp["new"] = true

	if got := src["tags"].([]any)[1].(map[string]any)["k"]; got != int64(1) {
		t.Fatalf("nested map shared: %v", got)
	}
	if string(src["raw"].([]byte)) != "x" || len(src) != 2 {
		t.Fatalf("source mutated: %#v", src)
	}
}
