package replication

import (
	"context"

	"github.com/artpar/livesync/core/store"
	"github.com/artpar/livesync/core/transport"
	"github.com/rs/zerolog"
)

const modelPrefix = "syncmodel."

// SyncStore is a Store replicated over one channel.
type SyncStore struct {
	*store.Store

	socket   *transport.Socket
	writable bool
	logger   zerolog.Logger
}

// NewStore creates a store, opens its channel and installs the protocol handlers.
func NewStore(ctx context.Context, name string, conf store.Config, opts Options) (*SyncStore, error) {
	conf.Logger = opts.Logger
	s, err := store.New(name, conf)
	if err != nil {
		return nil, err
	}

	sock, err := openSocket(ctx, s.Name(), opts)
	if err != nil {
		return nil, err
	}

	ss := &SyncStore{
		Store:    s,
		socket:   sock,
		writable: opts.Writable,
		logger:   opts.Logger.With().Str("channel", sock.Channel()).Logger(),
	}
	ss.registerListeners()
	s.SetSyncer(ss)
	return ss, nil
}

// Socket returns the channel socket.
func (ss *SyncStore) Socket() *transport.Socket { return ss.socket }

// Writable reports whether remote mutations are applied.
func (ss *SyncStore) Writable() bool { return ss.writable }

// Sync broadcasts a local mutation as syncmodel.<method>.
func (ss *SyncStore) Sync(method string, args ...any) {
	if err := ss.socket.Emit(modelPrefix+method, args...); err != nil {
		ss.logger.Warn().Err(err).Str("method", method).Msg("sync failed")
	}
}

func (ss *SyncStore) handle(event string, fn func(args []any, conn *transport.Conn) error) {
	ss.socket.On(modelPrefix+event, func(raw ...any) {
		args, conn := splitConn(raw)
		if err := fn(args, conn); err != nil {
			ss.logger.Warn().Err(err).Str("event", modelPrefix+event).Msg("remote mutation rejected")
		}
	})
}

func (ss *SyncStore) sendInit(conn *transport.Conn) error {
	if conn == nil {
		return nil
	}
	return ss.socket.EmitOne(conn, modelPrefix+"init", ss.Get(""))
}

func (ss *SyncStore) registerListeners() {
	ss.handle("register", func(_ []any, conn *transport.Conn) error {
		ss.logger.Debug().Str("pathname", pathname(conn)).Msg("register client")
		return ss.sendInit(conn)
	})
	ss.handle("fetch", func(_ []any, conn *transport.Conn) error {
		return ss.sendInit(conn)
	})
	ss.handle("unregister", func(_ []any, conn *transport.Conn) error {
		ss.logger.Debug().Str("pathname", pathname(conn)).Msg("unregister client")
		return nil
	})

	if !ss.writable {
		return
	}

	remote := store.Options{NoSync: true}

	ss.handle("set", func(args []any, _ *transport.Conn) error {
		if m, ok := arg(args, 0).(map[string]any); ok {
			return ss.SetAll(m, remote)
		}
		return ss.SetRoot(arg(args, 0), remote)
	})
	ss.handle("replace", func(args []any, _ *transport.Conn) error {
		if m, ok := arg(args, 0).(map[string]any); ok {
			return ss.Replace(m, remote)
		}
		return ss.SetRoot(arg(args, 0), remote)
	})
	ss.handle("item", func(args []any, _ *transport.Conn) error {
		return ss.SetKey(stringArg(args, 0), arg(args, 1), remote)
	})
	ss.handle("insert", func(args []any, _ *transport.Conn) error {
		index, ok := store.ToIndex(arg(args, 1))
		if !ok {
			index = -1
		}
		return ss.Insert(stringArg(args, 0), index, arg(args, 2), remote)
	})
	ss.handle("remove", func(args []any, _ *transport.Conn) error {
		index, ok := store.ToIndex(arg(args, 1))
		if !ok {
			return nil
		}
		_, err := ss.Remove(stringArg(args, 0), index, remote)
		return err
	})
	ss.handle("reset", func(_ []any, _ *transport.Conn) error {
		ss.Reset(store.ResetOptions{NoSync: true})
		return nil
	})
	ss.handle("modify", func(args []any, _ *transport.Conn) error {
		data, _ := arg(args, 2).(map[string]any)
		ss.Modify(stringArg(args, 0), arg(args, 1), data, remote)
		return nil
	})
}

func pathname(conn *transport.Conn) string {
	if conn == nil {
		return ""
	}
	return conn.Pathname
}
