// Package dotpath reads and writes values in nested JSON-like trees using
// dotted keys such as "address.city" or "items.0.name".
package dotpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotTraversable is returned when a write meets an intermediate value that is not a map.
var ErrNotTraversable = errors.New("path segment is not an object")

// appendSuffix marks a final segment whose value is appended to a slice.
const appendSuffix = "[]"

// Split breaks a dotted path into segments. The empty path has none.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Get resolves path in obj. Map keys and slice indexes are both walked.
// The empty path returns obj itself.
func Get(obj any, path string) (any, bool) {
	cur := obj
	for _, seg := range Split(path) {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Value is Get without the presence flag.
func Value(obj any, path string) any {
	v, _ := Get(obj, path)
	return v
}

// Set writes value at path inside obj, creating intermediate maps as needed.
// Intermediate slices are walked by numeric segment like Get does.
// A final segment ending in "[]" appends value to the slice stored there.
func Set(obj map[string]any, path string, value any) error {
	segs := Split(path)
	if len(segs) == 0 {
		return fmt.Errorf("set: empty path")
	}
	_, err := assign(obj, segs, 0, path, value, false)
	return err
}

// SetCopy returns a copy of obj with value written at path. Every map and
// slice along the path is cloned, so obj and its nested values are never mutated.
func SetCopy(obj map[string]any, path string, value any) (map[string]any, error) {
	segs := Split(path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("set: empty path")
	}
	out, err := assign(obj, segs, 0, path, value, true)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// assign writes value at segs[i:] below node and returns the node to store
// in its parent: node itself, or its clone when cow is set.
func assign(node any, segs []string, i int, path string, value any, cow bool) (any, error) {
	last := i == len(segs)-1
	key, appendTo := segs[i], false
	if last && strings.HasSuffix(key, appendSuffix) {
		key, appendTo = strings.TrimSuffix(key, appendSuffix), true
	}

	var child any
	var put func(v any)
	switch n := node.(type) {
	case map[string]any:
		if cow {
			n = shallowMap(n)
		}
		child, node = n[key], n
		put = func(v any) { n[key] = v }
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(n) {
			return nil, notTraversable(path, segs[:i])
		}
		if cow {
			n = append([]any(nil), n...)
		}
		child, node = n[idx], n
		put = func(v any) { n[idx] = v }
	default:
		return nil, notTraversable(path, segs[:i])
	}

	switch {
	case appendTo:
		arr, _ := child.([]any)
		next := make([]any, len(arr), len(arr)+1)
		copy(next, arr)
		put(append(next, value))
	case last:
		put(value)
	default:
		if child == nil {
			child = make(map[string]any)
		}
		v, err := assign(child, segs, i+1, path, value, cow)
		if err != nil {
			return nil, err
		}
		put(v)
	}
	return node, nil
}

func notTraversable(path string, at []string) error {
	return fmt.Errorf("set %q at %q: %w", path, strings.Join(at, "."), ErrNotTraversable)
}

// Copy makes a one-level copy: slices are resliced into new backing arrays and
// maps are shallow-merged into a new map. Other values are returned as is.
func Copy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return shallowMap(t)
	case []any:
		out := make([]any, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// Clone deep-copies every map and slice in v.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}

func shallowMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
