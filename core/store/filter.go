package store

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/artpar/livesync/core/dotpath"
)

// QuickSearch is the name of the built-in fuzzy filter.
const QuickSearch = "quicksearch"

// FilterFunc reports whether item matches query on property.
type FilterFunc func(property, query string, item any) bool

// FilterRegistry holds named filters shared by stores.
type FilterRegistry struct {
	mu      sync.RWMutex
	filters map[string]FilterFunc
}

// NewFilterRegistry creates a registry containing the quicksearch filter.
func NewFilterRegistry() *FilterRegistry {
	return &FilterRegistry{
		filters: map[string]FilterFunc{QuickSearch: quickSearch},
	}
}

var (
	defaultFiltersOnce sync.Once
	defaultFilters     *FilterRegistry
)

// DefaultFilters returns the registry used by stores that are not given one.
func DefaultFilters() *FilterRegistry {
	defaultFiltersOnce.Do(func() {
		defaultFilters = NewFilterRegistry()
	})
	return defaultFilters
}

// Register adds or replaces a named filter.
func (r *FilterRegistry) Register(name string, fn FilterFunc) error {
	if fn == nil {
		return fmt.Errorf("register filter %q: %w", name, ErrNilFilter)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[name] = fn
	return nil
}

// Lookup returns the filter registered under name.
func (r *FilterRegistry) Lookup(name string) (FilterFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.filters[name]
	return fn, ok
}

// quickSearch matches when the query characters appear in order, each
// optionally followed by anything, ignoring case.
func quickSearch(property, query string, item any) bool {
	var b strings.Builder
	b.WriteString("(?i)")
	for _, r := range query {
		b.WriteString(regexp.QuoteMeta(string(r)))
		if isSearchRune(r) {
			b.WriteString(".*")
		}
	}
	pat, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return pat.MatchString(jsString(dotpath.Value(item, property)))
}

func isSearchRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == 'ä', r == 'ü', r == 'ö', r == 'ß':
		return true
	}
	return false
}

// RegisterFilter adds a filter visible to this store only. It shadows a
// registry filter of the same name.
func (s *Store) RegisterFilter(name string, fn FilterFunc) error {
	if fn == nil {
		return fmt.Errorf("register filter %q: %w", name, ErrNilFilter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownFilters[name] = fn
	return nil
}

// Filter applies the named filter to the array at path and writes the
// matches back. The unfiltered array is kept for FilterReset.
func (s *Store) Filter(path, property, query, name string, opts ...Options) ([]any, error) {
	if name == "" {
		name = QuickSearch
	}

	s.mu.Lock()
	fn, ok := s.ownFilters[name]
	s.mu.Unlock()
	if !ok {
		fn, ok = s.filters.Lookup(name)
	}
	if !ok {
		return nil, fmt.Errorf("filter %q: %w", name, ErrUnknownFilter)
	}
	return s.FilterFunc(path, property, query, fn, opts...)
}

// FilterFunc is Filter with an explicit filter function.
func (s *Store) FilterFunc(path, property, query string, fn FilterFunc, opts ...Options) ([]any, error) {
	s.mu.Lock()
	var source []any
	if s.unfiltered != nil && s.unfiltered.path == path {
		source = s.unfiltered.data
	} else {
		arr, ok := dotpath.Value(s.properties, path).([]any)
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("filter %q: %w", path, ErrNotArray)
		}
		source = arr
	}
	s.unfiltered = &snapshot{path: path, data: source}
	s.mu.Unlock()

	filtered := make([]any, 0, len(source))
	for _, item := range source {
		if fn(property, query, item) {
			filtered = append(filtered, item)
		}
	}

	if err := s.setPath(path, filtered, opts...); err != nil {
		return filtered, err
	}
	return filtered, nil
}

// FilterReset restores the array saved by the last Filter call.
func (s *Store) FilterReset(opts ...Options) error {
	s.mu.Lock()
	snap := s.unfiltered
	s.unfiltered = nil
	s.mu.Unlock()

	if snap == nil {
		return nil
	}
	return s.setPath(snap.path, snap.data, opts...)
}
