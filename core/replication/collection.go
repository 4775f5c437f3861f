package replication

import (
	"context"
	"sync"

	"github.com/artpar/livesync/core/collection"
	"github.com/artpar/livesync/core/events"
	"github.com/artpar/livesync/core/store"
	"github.com/artpar/livesync/core/transport"
	"github.com/artpar/livesync/ports"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	listPrefix = "synclist."

	// ItemIDKey is the property carrying an item's replication id.
	ItemIDKey = "_xqid"
)

type ulidGenerator struct{}

func (ulidGenerator) New() string { return ulid.Make().String() }

// SyncCollection is a Collection replicated over one channel.
type SyncCollection struct {
	*collection.Collection

	socket   *transport.Socket
	writable bool
	ids      ports.IDGenerator
	logger   zerolog.Logger

	mu      sync.Mutex
	tracked map[*store.Store]*trackedItem
}

// trackedItem is the change listener of a list member. refs counts how many
// times the store currently appears in the list.
type trackedItem struct {
	listener *events.Listener
	refs     int
}

// NewCollection creates a collection, opens its channel and installs the
// protocol handlers.
func NewCollection(ctx context.Context, name string, conf collection.Config, opts Options) (*SyncCollection, error) {
	conf.Logger = opts.Logger

	sc := &SyncCollection{
		writable: opts.Writable,
		ids:      opts.IDs,
		tracked:  make(map[*store.Store]*trackedItem),
	}
	if sc.ids == nil {
		sc.ids = ulidGenerator{}
	}

	// The hook is installed before defaults are pushed so they are tagged too.
	var init []func(*collection.Collection)
	if opts.ItemIDs {
		init = append(init, func(c *collection.Collection) {
			c.SetItemHook(sc.tagItem)
			c.SetDropHook(sc.untagItem)
		})
	}

	c, err := collection.New(name, conf, init...)
	if err != nil {
		return nil, err
	}
	sc.Collection = c

	sock, err := openSocket(ctx, c.Name(), opts)
	if err != nil {
		return nil, err
	}
	sc.socket = sock
	sc.logger = opts.Logger.With().Str("channel", sock.Channel()).Logger()

	sc.registerListeners()
	c.SetSyncer(sc)
	return sc, nil
}

// Socket returns the channel socket.
func (sc *SyncCollection) Socket() *transport.Socket { return sc.socket }

// Writable reports whether remote mutations are applied.
func (sc *SyncCollection) Writable() bool { return sc.writable }

// tagItem gives item an id unless it has one and replicates its own changes
// as synclist.update while it is a member of the list.
func (sc *SyncCollection) tagItem(item *store.Store) {
	id, _ := item.Get(ItemIDKey).(string)
	if id == "" {
		id = sc.ids.New()
		if err := item.SetKey(ItemIDKey, id, store.Options{Silent: true, NoSync: true, NoValidation: true, NoAutoSave: true}); err != nil {
			sc.logger.Warn().Err(err).Msg("could not tag list item")
			return
		}
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if t, ok := sc.tracked[item]; ok {
		t.refs++
		return
	}
	l := item.On("data.change", func(...any) {
		if sc.socket == nil {
			return
		}
		sc.Sync("update", map[string]any{ItemIDKey: id}, item.Get(""))
	})
	sc.tracked[item] = &trackedItem{listener: l, refs: 1}
}

// untagItem drops item's change listener once its last occurrence leaves the
// list. The id stays on the item.
func (sc *SyncCollection) untagItem(item *store.Store) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	t, ok := sc.tracked[item]
	if !ok {
		return
	}
	if t.refs--; t.refs > 0 {
		return
	}
	t.listener.Remove()
	delete(sc.tracked, item)
}

// Sync broadcasts a local mutation as synclist.<method>. Items are sent as
// their data.
func (sc *SyncCollection) Sync(method string, args ...any) {
	var wire []any
	switch method {
	case "push", "unshift":
		wire = []any{itemData(arg(args, 0))}
	case "pop", "shift", "clear":
	case "update":
		wire = []any{arg(args, 0), arg(args, 1)}
	case "remove":
		wire = []any{arg(args, 0)}
	default:
		wire = args
	}

	if err := sc.socket.Emit(listPrefix+method, wire...); err != nil {
		sc.logger.Warn().Err(err).Str("method", method).Msg("sync failed")
	}
}

func itemData(v any) any {
	items, ok := v.([]*store.Store)
	if !ok {
		return v
	}
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s.Get("")
	}
	return out
}

func (sc *SyncCollection) handle(event string, fn func(args []any, conn *transport.Conn) error) {
	sc.socket.On(listPrefix+event, func(raw ...any) {
		args, conn := splitConn(raw)
		if err := fn(args, conn); err != nil {
			sc.logger.Warn().Err(err).Str("event", listPrefix+event).Msg("remote mutation rejected")
		}
	})
}

func (sc *SyncCollection) sendInit(conn *transport.Conn) error {
	if conn == nil {
		return nil
	}
	return sc.socket.EmitOne(conn, listPrefix+"init", sc.ToArray())
}

func (sc *SyncCollection) registerListeners() {
	sc.handle("register", func(_ []any, conn *transport.Conn) error {
		sc.logger.Debug().Str("pathname", pathname(conn)).Msg("register client")
		return sc.sendInit(conn)
	})
	sc.handle("fetch", func(_ []any, conn *transport.Conn) error {
		return sc.sendInit(conn)
	})
	sc.handle("unregister", func(_ []any, conn *transport.Conn) error {
		sc.logger.Debug().Str("pathname", pathname(conn)).Msg("unregister client")
		return nil
	})

	if !sc.writable {
		return
	}

	remote := store.Options{NoSync: true}

	sc.handle("push", func(args []any, _ *transport.Conn) error {
		ok, err := sc.Push(arg(args, 0), remote)
		if err == nil && !ok {
			sc.logger.Debug().Msg("remote push rejected by validation")
		}
		return err
	})
	sc.handle("unshift", func(args []any, _ *transport.Conn) error {
		ok, err := sc.Unshift(arg(args, 0), remote)
		if err == nil && !ok {
			sc.logger.Debug().Msg("remote unshift rejected by validation")
		}
		return err
	})
	sc.handle("pop", func(_ []any, _ *transport.Conn) error {
		sc.Pop(remote)
		return nil
	})
	sc.handle("shift", func(_ []any, _ *transport.Conn) error {
		sc.Shift(remote)
		return nil
	})
	sc.handle("update", func(args []any, _ *transport.Conn) error {
		data, _ := arg(args, 1).(map[string]any)
		_, err := sc.Update(arg(args, 0), data, remote)
		return err
	})
	sc.handle("remove", func(args []any, _ *transport.Conn) error {
		sc.Remove(arg(args, 0), remote)
		return nil
	})
	sc.handle("clear", func(_ []any, _ *transport.Conn) error {
		sc.Clear(remote)
		return nil
	})
}
