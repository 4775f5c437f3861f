package store

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"github.com/artpar/livesync/core/dotpath"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortKey orders SortBy by one dotted key. Order -1 sorts descending.
type SortKey struct {
	Key   string
	Order int
}

// Push appends data to the array at path, creating the array if absent.
func (s *Store) Push(path string, data any, opts ...Options) error {
	return s.insert("push", path, -1, data, mergeOptions(opts))
}

// Unshift prepends data to the array at path, creating the array if absent.
func (s *Store) Unshift(path string, data any, opts ...Options) error {
	return s.insert("unshift", path, 0, data, mergeOptions(opts))
}

// Insert places data at index in the array at path. Index -1 appends.
func (s *Store) Insert(path string, index int, data any, opts ...Options) error {
	return s.insert("insert", path, index, data, mergeOptions(opts))
}

func (s *Store) insert(op, path string, index int, data any, o Options) error {
	s.mu.Lock()
	dataset, found := dotpath.Get(s.properties, path)

	var err error
	switch arr := dataset.(type) {
	case []any:
		err = s.writePath(path, insertAt(arr, index, data))
	default:
		switch {
		case path == "" && (s.properties == nil || isEmptyMap(s.properties)):
			s.properties = []any{data}
		case (!found || dataset == nil) && path != "":
			err = s.writePath(path, []any{data})
		default:
			err = fmt.Errorf("%s %q: %w", op, path, ErrNotArray)
		}
	}
	if err == nil {
		s.version++
	}
	props := s.properties
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg(op + " requires an array")
		return err
	}

	if !o.Silent {
		s.Emit("item.insert", path, index, data)
		s.Emit("data.change", props)
	}
	s.sync(o, "insert", path, index, data)
	return nil
}

// Remove deletes the element at index from the array at path and returns it.
// Nothing is emitted when no element is removed.
func (s *Store) Remove(path string, index int, opts ...Options) (any, error) {
	o := mergeOptions(opts)

	s.mu.Lock()
	dataset, found := dotpath.Get(s.properties, path)
	arr, ok := dataset.([]any)
	if !ok {
		s.mu.Unlock()
		if !found || dataset == nil {
			return nil, nil
		}
		err := fmt.Errorf("remove %q: %w", path, ErrNotArray)
		s.logger.Error().Err(err).Str("path", path).Msg("remove requires an array")
		return nil, err
	}
	if index < 0 || index >= len(arr) {
		s.mu.Unlock()
		return nil, nil
	}

	removed := arr[index]
	next := make([]any, 0, len(arr)-1)
	next = append(next, arr[:index]...)
	next = append(next, arr[index+1:]...)
	if err := s.writePath(path, next); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.version++
	props := s.properties
	s.mu.Unlock()

	if !o.Silent {
		s.Emit("item.remove", path, index, removed)
		s.Emit("data.change", props)
	}
	s.sync(o, "remove", path, index)
	return removed, nil
}

// Modify merges data into one element of the array at path. match is either
// an int index or a query map as used by Search. It reports whether an
// element was modified.
func (s *Store) Modify(path string, match any, data map[string]any, opts ...Options) bool {
	o := mergeOptions(opts)

	s.mu.Lock()
	arr, _ := dotpath.Value(s.properties, path).([]any)
	idx := -1
	if i, ok := ToIndex(match); ok {
		if i >= 0 && i < len(arr) {
			idx = i
		}
	} else if q, ok := match.(map[string]any); ok {
		idx = searchIndex(arr, q)
	}

	var target map[string]any
	if idx >= 0 {
		target, _ = arr[idx].(map[string]any)
	}
	if target == nil {
		s.mu.Unlock()
		return false
	}

	// Copy-on-write: Get callers may hold the current element.
	old := target
	updated := make(map[string]any, len(target)+len(data))
	for k, v := range target {
		updated[k] = v
	}
	for k, v := range data {
		updated[k] = v
	}
	next := make([]any, len(arr))
	copy(next, arr)
	next[idx] = updated
	if err := s.writePath(path, next); err != nil {
		s.mu.Unlock()
		s.logger.Error().Err(err).Str("path", path).Msg("modify failed")
		return false
	}
	s.version++
	props := s.properties
	s.mu.Unlock()

	if !o.Silent {
		s.Emit("data.modify", path, match, data, old)
		s.Emit("data.change", props)
	}
	s.sync(o, "modify", path, match, data)
	return true
}

// Search returns the first element of the array at path for which every
// query key holds a non-empty value strictly equal to the queried one.
func (s *Store) Search(path string, query map[string]any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return search(s.properties, path, query)
}

func search(root any, path string, query map[string]any) any {
	arr, _ := dotpath.Value(root, path).([]any)
	if i := searchIndex(arr, query); i >= 0 {
		return arr[i]
	}
	return nil
}

func searchIndex(arr []any, query map[string]any) int {
	if len(query) == 0 {
		return -1
	}
	for i, el := range arr {
		if Match(el, query) {
			return i
		}
	}
	return -1
}

// Match reports whether item is an object whose every query key holds a
// non-empty value strictly equal to the queried one. An empty query never matches.
func Match(item any, query map[string]any) bool {
	m, ok := item.(map[string]any)
	if !ok || len(query) == 0 {
		return false
	}
	for k, want := range query {
		got := m[k]
		if !truthy(got) || !strictEqual(got, want) {
			return false
		}
	}
	return true
}

// SortBy sorts the array at path by keys in order, comparing the string form
// of each value with locale collation, and writes the result back.
func (s *Store) SortBy(path string, keys []SortKey, opts ...Options) ([]any, error) {
	s.mu.Lock()
	arr, ok := dotpath.Value(s.properties, path).([]any)
	if !ok {
		s.mu.Unlock()
		s.logger.Warn().Str("path", path).Msg("could not sort non-array data")
		return []any{}, fmt.Errorf("sort %q: %w", path, ErrNotArray)
	}
	sorted := make([]any, len(arr))
	copy(sorted, arr)
	s.mu.Unlock()

	col := collate.New(s.locale())
	sort.SliceStable(sorted, func(i, j int) bool {
		for _, k := range keys {
			order := col.CompareString(
				jsString(dotpath.Value(sorted[i], k.Key)),
				jsString(dotpath.Value(sorted[j], k.Key)),
			)
			if order == 0 {
				continue
			}
			if k.Order == -1 {
				order = -order
			}
			return order < 0
		}
		return false
	})

	if err := s.setPath(path, sorted, opts...); err != nil {
		return sorted, err
	}
	return sorted, nil
}

func (s *Store) locale() language.Tag {
	if s.conf.Locale == "" {
		return language.Und
	}
	tag, err := language.Parse(s.conf.Locale)
	if err != nil {
		s.logger.Warn().Err(err).Str("locale", s.conf.Locale).Msg("invalid locale, using root collation")
		return language.Und
	}
	return tag
}

// writePath installs a new root with value at path. The current root is
// never mutated because Get hands it out. The lock must be held.
func (s *Store) writePath(path string, value any) error {
	if path == "" {
		s.properties = value
		return nil
	}
	root, ok := s.properties.(map[string]any)
	if !ok {
		return fmt.Errorf("write %q: %w", path, ErrNotObject)
	}
	next, err := dotpath.SetCopy(root, path, value)
	if err != nil {
		return err
	}
	s.properties = next
	return nil
}

func insertAt(arr []any, index int, v any) []any {
	n := len(arr)
	switch {
	case index == -1 || index >= n:
		index = n
	case index < 0:
		index = n + index
		if index < 0 {
			index = 0
		}
	}
	out := make([]any, 0, n+1)
	out = append(out, arr[:index]...)
	out = append(out, v)
	return append(out, arr[index:]...)
}

func isEmptyMap(v any) bool {
	m, ok := v.(map[string]any)
	return ok && len(m) == 0
}

// ToIndex accepts Go integers and integral JSON numbers.
func ToIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if n, ok := number(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	return true
}

// strictEqual compares numbers by value and everything else by identity or ==.
func strictEqual(a, b any) bool {
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	return a == b
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// jsString renders a value the way it is compared and searched as text.
func jsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	}
	if n, ok := number(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
