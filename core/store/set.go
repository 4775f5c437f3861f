package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/artpar/livesync/core/dotpath"
	"github.com/artpar/livesync/core/validation"
)

// SetAll merges data into the root object, or replaces it with Options.Replace.
func (s *Store) SetAll(data map[string]any, opts ...Options) error {
	o := mergeOptions(opts)

	// Validation writes defaults into next, and next becomes the state.
	if data != nil {
		data, _ = dotpath.Clone(data).(map[string]any)
	}

	var old any
	var next map[string]any
	for {
		s.mu.Lock()
		old = s.properties
		ver := s.version
		if o.Replace {
			next = data
			if next == nil {
				next = map[string]any{}
			}
		} else {
			next = make(map[string]any)
			if m, ok := old.(map[string]any); ok {
				for k, v := range m {
					next[k] = v
				}
			}
			for k, v := range data {
				next[k] = v
			}
		}
		s.mu.Unlock()

		if err := s.validateFor(next, "", o); err != nil {
			return err
		}
		if s.commit(ver, next) {
			break
		}
	}

	method, event := "set", "data.set"
	if o.Replace {
		method, event = "replace", "data.replace"
	}
	if !o.Silent {
		s.Emit(event, next, old)
		s.Emit("data.change", next, old)
	}
	s.sync(o, method, next)
	return s.autoSave(o)
}

// Replace replaces the whole root object.
func (s *Store) Replace(data map[string]any, opts ...Options) error {
	return s.SetAll(data, append(opts, Options{Replace: true})...)
}

// SetKey writes value at a dotted path. Validation failures are narrowed to
// those concerning path.
func (s *Store) SetKey(path string, value any, opts ...Options) error {
	o := mergeOptions(opts)

	var old any
	var next map[string]any
	for {
		s.mu.Lock()
		old = s.properties
		ver := s.version
		root, ok := old.(map[string]any)
		if !ok {
			s.mu.Unlock()
			return fmt.Errorf("set %q: %w", path, ErrNotObject)
		}
		var err error
		next, err = dotpath.SetCopy(root, path, value)
		s.mu.Unlock()
		if err != nil {
			return err
		}

		if err := s.validateFor(next, path, o); err != nil {
			return err
		}
		if s.commit(ver, next) {
			break
		}
	}

	if !o.Silent {
		s.Emit("value.set", path, value)
		s.Emit("data.change", next, old)
	}
	s.sync(o, "item", path, value)
	return s.autoSave(o)
}

// SetRoot replaces the whole tree with data of any shape.
func (s *Store) SetRoot(data any, opts ...Options) error {
	o := mergeOptions(opts)
	data = dotpath.Clone(data)

	s.mu.Lock()
	old := s.properties
	s.mu.Unlock()

	if err := s.validateFor(data, "", o); err != nil {
		return err
	}

	s.mu.Lock()
	s.properties = data
	s.version++
	s.mu.Unlock()

	if !o.Silent {
		s.Emit("data.replace", data, old)
		s.Emit("data.change", data, old)
	}
	s.sync(o, "replace", data)
	return s.autoSave(o)
}

// commit installs next if no other mutation landed since ver was read.
func (s *Store) commit(ver uint64, next any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != ver {
		return false
	}
	s.properties = next
	s.version++
	return true
}

// setPath writes value through SetKey or, for the empty path, SetRoot.
func (s *Store) setPath(path string, value any, opts ...Options) error {
	if path == "" {
		return s.SetRoot(value, opts...)
	}
	return s.SetKey(path, value, opts...)
}

// validateFor runs validation for a pending mutation. key narrows the
// failures reported for single-key writes.
func (s *Store) validateFor(data any, key string, o Options) error {
	if o.NoValidation {
		return nil
	}

	failed, err := s.check(data)
	if err != nil {
		return err
	}
	if key != "" && s.conf.Validate == nil {
		failed = narrow(failed, key)
	}
	s.recordValidation(failed)

	if len(failed) == 0 {
		return nil
	}

	s.logger.Warn().Interface("failures", failed).Msg("validation error")
	if !o.Silent {
		s.Emit("validation.error", failed, data)
	}
	return &ValidationError{Failures: failed}
}

// narrow keeps the failures about key, its parents or its children.
func narrow(failed []validation.Failure, key string) []validation.Failure {
	var out []validation.Failure
	for _, f := range failed {
		if f.Property == key ||
			strings.HasPrefix(f.Property, key+".") ||
			strings.HasPrefix(key, f.Property+".") {
			out = append(out, f)
		}
	}
	return out
}

func (s *Store) autoSave(o Options) error {
	if !s.conf.AutoSave || s.service == nil || o.NoAutoSave {
		return nil
	}

	s.logger.Debug().Msg("autosave")
	ctx, cancel := context.WithTimeout(context.Background(), s.conf.SaveTimeout)
	defer cancel()

	_, err := s.Save(ctx, false)
	return err
}
