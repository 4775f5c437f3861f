// Package collection provides Collection, an ordered list of stores built
// from one item configuration.
package collection

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/artpar/livesync/core/events"
	"github.com/artpar/livesync/core/store"
	"github.com/rs/zerolog"
)

const (
	nameSuffix      = "List"
	defaultItemName = "ListItem"
)

// ErrInvalidItem is returned when an inserted value is neither an object nor a store.
var ErrInvalidItem = errors.New("list item must be an object or a store")

// Config configures a Collection.
type Config struct {
	// Item configures the store created for every plain object inserted.
	// Its Logger is replaced by the list's logger.
	Item     store.Config
	ItemName string

	// MaxLength trims the end opposite the insertion side. Zero means unbounded.
	MaxLength int

	// Defaults are pushed silently when the collection is created.
	Defaults []any

	MaxListeners int
	Logger       zerolog.Logger
}

// Collection is a named, ordered list of stores.
type Collection struct {
	*events.Emitter

	name      string
	shortName string
	conf      Config
	logger    zerolog.Logger

	mu       sync.Mutex
	items    []*store.Store
	state    store.State
	syncer   store.Syncer
	itemHook func(*store.Store)
	dropHook func(*store.Store)
}

// New creates a collection. A trailing "List" in name is dropped to form the
// short name; initializers run before the defaults are pushed.
func New(name string, conf Config, init ...func(*Collection)) (*Collection, error) {
	short := strings.TrimSuffix(name, nameSuffix)
	if short == "" {
		short = "Nameless"
	}
	if conf.ItemName == "" {
		conf.ItemName = defaultItemName
	}

	logger := conf.Logger.With().Str("list", short+nameSuffix).Logger()
	conf.Item.Logger = logger

	c := &Collection{
		Emitter:   events.New(logger),
		name:      short + nameSuffix,
		shortName: short,
		conf:      conf,
		logger:    logger,
		state:     store.StateStarting,
	}
	if conf.MaxListeners != 0 {
		c.SetMaxListeners(conf.MaxListeners)
	}

	for _, fn := range init {
		fn(c)
	}

	if len(conf.Defaults) > 0 {
		ok, err := c.Push(conf.Defaults, store.Options{Silent: true, NoSync: true})
		if err != nil {
			return nil, fmt.Errorf("list %s defaults: %w", c.name, err)
		}
		if !ok {
			c.logger.Warn().Msg("defaults rejected by item validation")
		}
	}

	c.setState(store.StateReady)
	return c, nil
}

// Name returns the full name, e.g. "ItemsList".
func (c *Collection) Name() string { return c.name }

// ShortName returns the name without the "List" suffix.
func (c *Collection) ShortName() string { return c.shortName }

// SetSyncer installs the replication hook. Passing nil removes it.
func (c *Collection) SetSyncer(sy store.Syncer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncer = sy
}

// SetItemHook installs fn to run on every item after it is inserted, before
// any event or sync for the insertion.
func (c *Collection) SetItemHook(fn func(*store.Store)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.itemHook = fn
}

// SetDropHook installs fn to run on every item that leaves the list through
// Pop, Shift, Remove, Clear or MaxLength trimming.
func (c *Collection) SetDropHook(fn func(*store.Store)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropHook = fn
}

func (c *Collection) sync(o store.Options, method string, args ...any) {
	if o.NoSync {
		return
	}
	c.mu.Lock()
	sy := c.syncer
	c.mu.Unlock()
	if sy != nil {
		sy.Sync(method, args...)
	}
}

// State returns the current lifecycle state.
func (c *Collection) State() store.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Collection) setState(st store.State) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()

	c.Emit("state."+string(st))
	c.Emit("state.change", st)
}

// candidates normalizes the argument of Push and Unshift.
func (c *Collection) candidates(data any) ([]*store.Store, error) {
	var raw []any
	switch t := data.(type) {
	case []any:
		raw = t
	case []map[string]any:
		for _, m := range t {
			raw = append(raw, m)
		}
	case []*store.Store:
		for _, s := range t {
			raw = append(raw, s)
		}
	default:
		raw = []any{data}
	}

	out := make([]*store.Store, 0, len(raw))
	for _, item := range raw {
		switch t := item.(type) {
		case *store.Store:
			out = append(out, t)
		case map[string]any:
			s, err := c.newItem(t)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		default:
			return nil, fmt.Errorf("%s: %w: %T", c.name, ErrInvalidItem, item)
		}
	}
	return out, nil
}

func (c *Collection) newItem(data map[string]any) (*store.Store, error) {
	s, err := store.New(c.conf.ItemName, c.conf.Item)
	if err != nil {
		return nil, err
	}
	if err := s.SetAll(data, store.Options{Silent: true, NoSync: true, NoAutoSave: true}); err != nil && !errors.Is(err, store.ErrValidation) {
		return nil, err
	}
	return s, nil
}

func allValid(items []*store.Store) bool {
	for _, s := range items {
		if !s.IsValid() {
			return false
		}
	}
	return true
}

func (c *Collection) runHook(items []*store.Store) {
	c.mu.Lock()
	hook := c.itemHook
	c.mu.Unlock()
	each(hook, items)
}

func (c *Collection) runDropHook(items ...*store.Store) {
	c.mu.Lock()
	hook := c.dropHook
	c.mu.Unlock()
	each(hook, items)
}

func each(hook func(*store.Store), items []*store.Store) {
	if hook == nil {
		return
	}
	for _, s := range items {
		hook(s)
	}
}

// Push appends one item or a slice of items. Plain objects are turned into
// stores. Nothing is inserted unless every item is valid, in which case it
// reports false.
func (c *Collection) Push(data any, opts ...store.Options) (bool, error) {
	o := mergeOptions(opts)

	items, err := c.candidates(data)
	if err != nil {
		return false, err
	}
	if !allValid(items) {
		c.logger.Debug().Msg("push rejected, invalid item")
		return false, nil
	}
	if len(items) == 0 {
		return true, nil
	}

	var trimmed []*store.Store
	c.mu.Lock()
	c.items = append(c.items, items...)
	if max := c.conf.MaxLength; max > 0 && len(c.items) > max {
		cut := len(c.items) - max
		trimmed = append(trimmed, c.items[:cut]...)
		c.items = append([]*store.Store(nil), c.items[cut:]...)
	}
	length := len(c.items)
	c.mu.Unlock()

	c.runHook(items)
	c.runDropHook(trimmed...)
	if !o.Silent {
		c.Emit("item.push", items, length)
	}
	c.sync(o, "push", items)
	return true, nil
}

// Unshift prepends one item or a slice of items. A slice ends up in reverse
// order at the front. The all-or-nothing rule of Push applies.
func (c *Collection) Unshift(data any, opts ...store.Options) (bool, error) {
	o := mergeOptions(opts)

	items, err := c.candidates(data)
	if err != nil {
		return false, err
	}
	if !allValid(items) {
		c.logger.Debug().Msg("unshift rejected, invalid item")
		return false, nil
	}
	if len(items) == 0 {
		return true, nil
	}

	reversed := make([]*store.Store, len(items))
	for i, s := range items {
		reversed[len(items)-1-i] = s
	}

	c.mu.Lock()
	next := make([]*store.Store, 0, len(reversed)+len(c.items))
	next = append(next, reversed...)
	next = append(next, c.items...)
	var trimmed []*store.Store
	if max := c.conf.MaxLength; max > 0 && len(next) > max {
		trimmed = append(trimmed, next[max:]...)
		next = next[:max]
	}
	c.items = next
	length := len(c.items)
	c.mu.Unlock()

	c.runHook(reversed)
	c.runDropHook(trimmed...)
	if !o.Silent {
		c.Emit("item.unshift", reversed, length)
	}
	c.sync(o, "unshift", reversed)
	return true, nil
}

// Pop removes and returns the last item, or nil when the list is empty.
func (c *Collection) Pop(opts ...store.Options) *store.Store {
	o := mergeOptions(opts)

	c.mu.Lock()
	n := len(c.items)
	if n == 0 {
		c.mu.Unlock()
		return nil
	}
	item := c.items[n-1]
	c.items[n-1] = nil
	c.items = c.items[:n-1]
	c.mu.Unlock()

	c.runDropHook(item)

	if !o.Silent {
		c.Emit("item.pop", item)
	}
	c.sync(o, "pop")
	return item
}

// Shift removes and returns the first item, or nil when the list is empty.
func (c *Collection) Shift(opts ...store.Options) *store.Store {
	o := mergeOptions(opts)

	c.mu.Lock()
	if len(c.items) == 0 {
		c.mu.Unlock()
		return nil
	}
	item := c.items[0]
	c.items = append([]*store.Store(nil), c.items[1:]...)
	c.mu.Unlock()

	c.runDropHook(item)

	if !o.Silent {
		c.Emit("item.shift", item)
	}
	c.sync(o, "shift")
	return item
}

// locate resolves match, an index or a query object, to an item and its index.
// The lock must be held.
func (c *Collection) locate(match any) (*store.Store, int) {
	if i, ok := store.ToIndex(match); ok {
		if i < 0 || i >= len(c.items) {
			return nil, -1
		}
		return c.items[i], i
	}
	q, ok := match.(map[string]any)
	if !ok {
		return nil, -1
	}
	for i, s := range c.items {
		if store.Match(s.Get(""), q) {
			return s, i
		}
	}
	return nil, -1
}

// Update merges data into the item selected by match, an index or a query
// object. When nothing matches it does nothing and returns nil.
func (c *Collection) Update(match any, data map[string]any, opts ...store.Options) (*store.Store, error) {
	o := mergeOptions(opts)

	c.mu.Lock()
	item, _ := c.locate(match)
	c.mu.Unlock()

	if item == nil {
		c.logger.Debug().Interface("match", match).Msg("update matched no item")
		return nil, nil
	}
	if err := item.SetAll(data, store.Options{Silent: true, NoSync: true}); err != nil {
		return item, err
	}

	if !o.Silent {
		c.Emit("item.update", item)
	}
	c.sync(o, "update", match, data)
	return item, nil
}

// Remove deletes the item selected by match and returns it, or nil.
func (c *Collection) Remove(match any, opts ...store.Options) *store.Store {
	o := mergeOptions(opts)

	c.mu.Lock()
	item, index := c.locate(match)
	if item == nil {
		c.mu.Unlock()
		return nil
	}
	next := make([]*store.Store, 0, len(c.items)-1)
	next = append(next, c.items[:index]...)
	c.items = append(next, c.items[index+1:]...)
	c.mu.Unlock()

	c.runDropHook(item)

	if !o.Silent {
		c.Emit("item.remove", item, index)
	}
	c.sync(o, "remove", match, index)
	return item
}

// Clear empties the list and returns the number of removed items. An empty
// list emits nothing.
func (c *Collection) Clear(opts ...store.Options) int {
	o := mergeOptions(opts)

	c.mu.Lock()
	if len(c.items) == 0 {
		c.mu.Unlock()
		return 0
	}
	old := c.items
	c.items = nil
	c.mu.Unlock()

	c.runDropHook(old...)

	removed := toArray(old)
	if !o.Silent {
		c.Emit("item.clear", removed)
	}
	c.sync(o, "clear", removed)
	return len(removed)
}

// FindOne returns the first item matching query, or nil.
func (c *Collection) FindOne(query map[string]any) *store.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.items {
		if store.Match(s.Get(""), query) {
			return s
		}
	}
	return nil
}

// Find returns every item matching query.
func (c *Collection) Find(query map[string]any) []*store.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*store.Store
	for _, s := range c.items {
		if store.Match(s.Get(""), query) {
			out = append(out, s)
		}
	}
	return out
}

// Each calls fn for every item in order until fn returns false.
func (c *Collection) Each(fn func(index int, item *store.Store) bool) {
	for i, s := range c.Items() {
		if !fn(i, s) {
			return
		}
	}
}

// Len returns the number of items.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// At returns the item at index, or nil.
func (c *Collection) At(index int) *store.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.items) {
		return nil
	}
	return c.items[index]
}

// Items returns a copy of the item slice.
func (c *Collection) Items() []*store.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*store.Store(nil), c.items...)
}

// ToArray returns the data of every item.
func (c *Collection) ToArray() []any {
	return toArray(c.Items())
}

func toArray(items []*store.Store) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s.Get("")
	}
	return out
}

// MarshalJSON encodes the list as an array of item data.
func (c *Collection) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToArray())
}

func mergeOptions(opts []store.Options) store.Options {
	var o store.Options
	for _, x := range opts {
		o.Silent = o.Silent || x.Silent
		o.NoValidation = o.NoValidation || x.NoValidation
		o.NoSync = o.NoSync || x.NoSync
		o.NoAutoSave = o.NoAutoSave || x.NoAutoSave
	}
	return o
}
