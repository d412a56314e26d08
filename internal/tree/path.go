package tree

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxDepth bounds destination paths of a projection.
const MaxDepth = 3

var ErrPathDepth = errors.New("slicecache: template path must have 1 to 3 segments")

// Template maps a source dot-path in a produced record to a destination
// dot-path in the projected record, e.g. {"user.id": "uid", "meta.tags.0": "tag"}.
type Template map[string]string

// Validate rejects empty paths and destinations deeper than MaxDepth.
func (t Template) Validate() error {
	for src, dst := range t {
		if src == "" || hasEmptySegment(src) {
			return fmt.Errorf("%w: source %q", ErrPathDepth, src)
		}
		if n := len(strings.Split(dst, ".")); dst == "" || hasEmptySegment(dst) || n > MaxDepth {
			return fmt.Errorf("%w: destination %q", ErrPathDepth, dst)
		}
	}
	return nil
}

func hasEmptySegment(p string) bool {
	for _, s := range strings.Split(p, ".") {
		if s == "" {
			return true
		}
	}
	return false
}

// Find resolves path against record. For each segment the top level of the
// record is tried first, then the value found so far is descended into, so
// a top-level key shadows a nested one of the same name:
//
//	Find({"user":{"id":7},"id":9}, "user.id") == 9
//	Find({"a":{"a":5}}, "a")                  == 5
//
// Nil values count as absent.
func Find(record any, path string) any {
	var val any
	for _, seg := range strings.Split(path, ".") {
		if v, ok := child(record, seg); ok {
			val = v
		}
		if v, ok := child(val, seg); ok {
			val = v
		}
	}
	return val
}

func child(v any, seg string) (any, bool) {
	switch x := v.(type) {
	case map[string]any:
		c, ok := x[seg]
		return c, ok && c != nil
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(x) {
			return nil, false
		}
		return x[i], x[i] != nil
	}
	return nil, false
}

// Set writes v at path inside out, creating intermediate maps. Intermediate
// values that are not maps are replaced.
func Set(out map[string]any, path string, v any) error {
	segs := strings.Split(path, ".")
	if path == "" || len(segs) > MaxDepth {
		return fmt.Errorf("%w: %q", ErrPathDepth, path)
	}
	cur := out
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
	return nil
}

// Project builds a new record holding only the template destinations.
// Sources are applied in sorted order so overlapping destinations resolve
// the same way on every run. An empty template returns record unchanged.
func Project(record map[string]any, t Template) map[string]any {
	if len(t) == 0 {
		return record
	}
	srcs := make([]string, 0, len(t))
	for s := range t {
		srcs = append(srcs, s)
	}
	sort.Strings(srcs)

	out := make(map[string]any, len(t))
	for _, s := range srcs {
		// Validate ran at configuration time; a bad path here is skipped.
		_ = Set(out, t[s], Find(record, s))
	}
	return out
}
