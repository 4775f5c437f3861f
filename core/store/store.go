// Package store provides Store, a schema-validated mutable data tree that
// emits events for every accepted change and can replicate those changes
// through an installed Syncer.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/artpar/livesync/core/dotpath"
	"github.com/artpar/livesync/core/events"
	"github.com/artpar/livesync/core/validation"
	"github.com/artpar/livesync/ports"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a store.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateValid    State = "valid"
	StateInvalid  State = "invalid"
)

// nameSuffix is appended to the short name of every store.
const nameSuffix = "Model"

// defaultSaveTimeout bounds autosave calls made from mutators.
const defaultSaveTimeout = 10 * time.Second

// Syncer receives every replicated mutation.
type Syncer interface {
	Sync(method string, args ...any)
}

// Observer is notified of validation failures.
type Observer interface {
	ValidationFailed(store string, failures int)
}

// Config configures a Store.
type Config struct {
	Schema   validation.Schema
	Defaults map[string]any

	// Validate replaces schema validation when set.
	Validate func(data any) []validation.Failure

	// Service builds the persistence service. It is called with Collection
	// or, when empty, the store's short name.
	Service    ports.ServiceFactory
	Collection string
	AutoSave   bool

	SaveTimeout  time.Duration
	MaxListeners int

	// Locale is the BCP 47 tag used by SortBy. Empty means root collation.
	Locale string

	Registry *validation.Registry
	Filters  *FilterRegistry
	Observer Observer
	Logger   zerolog.Logger
}

// Options modify a single mutation.
type Options struct {
	Silent       bool
	NoValidation bool
	NoSync       bool
	NoAutoSave   bool
	Replace      bool
}

func mergeOptions(opts []Options) Options {
	var o Options
	for _, x := range opts {
		o.Silent = o.Silent || x.Silent
		o.NoValidation = o.NoValidation || x.NoValidation
		o.NoSync = o.NoSync || x.NoSync
		o.NoAutoSave = o.NoAutoSave || x.NoAutoSave
		o.Replace = o.Replace || x.Replace
	}
	return o
}

// GetOptions modify a read.
type GetOptions struct {
	Copy bool
}

// ResetOptions modify Reset.
type ResetOptions struct {
	Silent         bool
	NoSync         bool
	RemoveListener bool
}

type snapshot struct {
	path string
	data []any
}

// Store is a named data tree with validation, events and optional persistence.
type Store struct {
	*events.Emitter

	name      string
	shortName string
	conf      Config
	registry  *validation.Registry
	filters   *FilterRegistry
	logger    zerolog.Logger

	mu           sync.Mutex
	properties   any
	version      uint64
	defaults     map[string]any
	state        State
	isValid      bool
	lastFailures []validation.Failure
	unfiltered   *snapshot
	ownFilters   map[string]FilterFunc
	syncer       Syncer

	service ports.Service
	ready   chan struct{}
}

// New creates a store. A trailing "Model" in name is dropped to form the
// short name; initializers run after the config is applied.
func New(name string, conf Config, init ...func(*Store)) (*Store, error) {
	short := strings.TrimSuffix(name, nameSuffix)
	if short == "" {
		short = "Nameless"
	}

	if conf.Registry == nil {
		conf.Registry = validation.Default()
	}
	if conf.Filters == nil {
		conf.Filters = DefaultFilters()
	}
	if conf.SaveTimeout == 0 {
		conf.SaveTimeout = defaultSaveTimeout
	}

	logger := conf.Logger.With().Str("store", short+nameSuffix).Logger()

	s := &Store{
		Emitter:    events.New(logger),
		name:       short + nameSuffix,
		shortName:  short,
		conf:       conf,
		registry:   conf.Registry,
		filters:    conf.Filters,
		logger:     logger,
		properties: map[string]any{},
		defaults:   conf.Defaults,
		state:      StateStarting,
		ownFilters: make(map[string]FilterFunc),
		ready:      make(chan struct{}),
	}
	if conf.MaxListeners != 0 {
		s.SetMaxListeners(conf.MaxListeners)
	}

	if conf.Schema != nil {
		if err := s.registry.Prepare(conf.Schema); err != nil {
			return nil, err
		}
	}

	for _, fn := range init {
		fn(s)
	}

	if len(s.defaults) > 0 {
		if err := s.SetAll(dotpath.Clone(s.defaults).(map[string]any), Options{Silent: true, NoValidation: true, NoSync: true, NoAutoSave: true}); err != nil {
			return nil, err
		}
	}
	s.fillSchemaKeys()
	s.isValid = conf.Schema == nil
	s.setState(StateReady)

	if conf.Service != nil {
		svcName := conf.Collection
		if svcName == "" {
			svcName = short
		}
		svc, err := conf.Service(svcName)
		if err != nil {
			return nil, err
		}
		s.service = svc
		go s.awaitService()
	} else {
		close(s.ready)
	}
	return s, nil
}

// fillSchemaKeys gives every declared key a value so that it is present in the tree.
func (s *Store) fillSchemaKeys() {
	s.mu.Lock()
	defer s.mu.Unlock()

	props, ok := s.properties.(map[string]any)
	if !ok {
		return
	}
	for key, f := range s.conf.Schema {
		if _, exists := props[key]; exists {
			continue
		}
		if f.Default != nil {
			props[key] = f.Default
		} else {
			props[key] = nil
		}
	}
}

func (s *Store) awaitService() {
	defer close(s.ready)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if rc, ok := s.service.(ports.ReadyChecker); ok {
		if err := rc.Ready(ctx); err != nil {
			s.logger.Error().Err(err).Msg("service not ready")
			return
		}
	}

	if s.conf.AutoSave {
		if err := s.Fetch(ctx, ""); err != nil {
			s.logger.Warn().Err(err).Msg("initial fetch failed")
		}
	}
}

// Ready is closed once the store's service is usable.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Name returns the full store name, e.g. "CounterModel".
func (s *Store) Name() string { return s.name }

// ShortName returns the name without the "Model" suffix.
func (s *Store) ShortName() string { return s.shortName }

// Schema returns the declared schema.
func (s *Store) Schema() validation.Schema { return s.conf.Schema }

// Service returns the persistence service, or nil.
func (s *Store) Service() ports.Service { return s.service }

// SetSyncer installs the replication hook. Passing nil removes it.
func (s *Store) SetSyncer(sy Syncer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncer = sy
}

func (s *Store) sync(o Options, method string, args ...any) {
	if o.NoSync {
		return
	}
	s.mu.Lock()
	sy := s.syncer
	s.mu.Unlock()
	if sy != nil {
		sy.Sync(method, args...)
	}
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState records st and emits state.<st> and state.change. The lock must not be held.
func (s *Store) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	s.Emit("state."+string(st))
	s.Emit("state.change", st)
}

// IsValid reports whether the last validation passed.
func (s *Store) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isValid
}

// LastValidationError returns the failures of the last failed validation.
func (s *Store) LastValidationError() []validation.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFailures
}

// Get returns the value at path; the empty path returns the whole tree.
// Without Copy the live value is returned.
func (s *Store) Get(path string, opts ...GetOptions) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := dotpath.Value(s.properties, path)
	if len(opts) > 0 && opts[0].Copy {
		return dotpath.Copy(v)
	}
	return v
}

// GetIndex returns element index of the array at path, or nil.
func (s *Store) GetIndex(path string, index int, opts ...GetOptions) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	arr, ok := dotpath.Value(s.properties, path).([]any)
	if !ok || index < 0 || index >= len(arr) {
		return nil
	}
	if len(opts) > 0 && opts[0].Copy {
		return dotpath.Copy(arr[index])
	}
	return arr[index]
}

// Has reports whether path resolves to a non-nil value.
func (s *Store) Has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := dotpath.Get(s.properties, path)
	return ok && v != nil
}

// Validate checks data against the store's validator and flips the store's
// valid/invalid state. It returns nil when data is valid.
func (s *Store) Validate(data any) ([]validation.Failure, error) {
	failed, err := s.check(data)
	if err != nil {
		return nil, err
	}
	s.recordValidation(failed)
	return failed, nil
}

// check runs validation without touching store state.
func (s *Store) check(data any) ([]validation.Failure, error) {
	if s.conf.Validate != nil {
		return s.conf.Validate(data), nil
	}
	if s.conf.Schema == nil {
		return nil, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return nil, nil
	}
	return s.registry.Validate(m, s.conf.Schema)
}

func (s *Store) recordValidation(failed []validation.Failure) {
	s.mu.Lock()
	s.isValid = len(failed) == 0
	s.lastFailures = failed
	s.mu.Unlock()

	if len(failed) == 0 {
		s.setState(StateValid)
		return
	}
	if s.conf.Observer != nil {
		s.conf.Observer.ValidationFailed(s.name, len(failed))
	}
	s.setState(StateInvalid)
}

// CheckValidation validates value against the schema field for key without
// changing any state. Keys without a schema field always pass.
func (s *Store) CheckValidation(key string, value any) (bool, error) {
	f, ok := s.conf.Schema[key]
	if !ok || f.Type == "" {
		return true, nil
	}
	res, err := s.registry.ValidateOne(f, value)
	if err != nil {
		return false, err
	}
	return res.IsValid, nil
}

// Reset restores the defaults and returns the previous tree.
func (s *Store) Reset(opts ...ResetOptions) any {
	var o ResetOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	s.mu.Lock()
	old := s.properties
	if s.defaults != nil {
		s.properties = dotpath.Clone(s.defaults)
	} else {
		s.properties = map[string]any{}
	}
	s.version++
	s.mu.Unlock()

	s.setState(StateReady)
	if !o.Silent {
		s.Emit("data.reset", old)
	}
	if o.RemoveListener {
		s.ClearEvents()
	}
	s.sync(Options{NoSync: o.NoSync}, "reset", old)
	return old
}

// MarshalJSON encodes the store's tree.
func (s *Store) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(s.properties)
}

// Stringify returns the tree as JSON, indented when pretty is set.
func (s *Store) Stringify(pretty bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		b   []byte
		err error
	)
	if pretty {
		b, err = json.MarshalIndent(s.properties, "", "  ")
	} else {
		b, err = json.Marshal(s.properties)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("stringify failed")
		return ""
	}
	return string(b)
}
