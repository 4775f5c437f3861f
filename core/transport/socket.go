package transport

import (
	"context"
	"net"
	"net/http"

	"github.com/artpar/livesync/core/events"
	"github.com/rs/zerolog"
)

// Options configures a Socket.
type Options struct {
	Host    string
	Port    int
	Path    string
	Channel string
	Logger  zerolog.Logger
}

// Socket addresses one channel on a shared instance.
type Socket struct {
	inst    *Instance
	channel string
	emitter *events.Emitter
	logger  zerolog.Logger
}

// NewSocket binds a socket for opts.Channel to the registry instance for
// host:port. The listener is not opened until Start.
func NewSocket(reg *Registry, opts Options) (*Socket, error) {
	if opts.Channel == "" {
		return nil, ErrNoChannel
	}
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}

	inst := reg.instance(opts.Host, opts.Port, opts.Path)
	return &Socket{
		inst:    inst,
		channel: opts.Channel,
		emitter: inst.channel(opts.Channel),
		logger:  opts.Logger.With().Str("channel", opts.Channel).Logger(),
	}, nil
}

// Start opens the shared listener unless it is already bound.
func (s *Socket) Start(ctx context.Context) error {
	s.logger.Debug().Str("path", s.inst.path).Msg("start socket")
	return s.inst.Start(ctx)
}

// Stop stops the shared instance and every socket using it.
func (s *Socket) Stop(ctx context.Context) error {
	return s.inst.Stop(ctx)
}

// Channel returns the channel name.
func (s *Socket) Channel() string { return s.channel }

// Instance returns the shared instance.
func (s *Socket) Instance() *Instance { return s.inst }

// Addr returns the bound listener address, or nil before Start.
func (s *Socket) Addr() net.Addr { return s.inst.Addr() }

// Handler serves websocket upgrades for the shared instance.
func (s *Socket) Handler() http.Handler { return s.inst.Handler() }

// On registers fn for an inbound event. The last argument is the *Conn.
func (s *Socket) On(event string, fn events.Handler) *events.Listener {
	return s.emitter.On(event, fn)
}

// Once registers fn for the next inbound event.
func (s *Socket) Once(event string, fn events.Handler) *events.Listener {
	return s.emitter.Once(event, fn)
}

// Off removes listeners for an inbound event.
func (s *Socket) Off(event string, listeners ...*events.Listener) int {
	return s.emitter.Off(event, listeners...)
}

// Accept registers a connection on the shared instance.
func (s *Socket) Accept(peer Peer, pathname string) *Conn {
	return s.inst.Accept(peer, pathname)
}

// Receive dispatches one inbound frame.
func (s *Socket) Receive(conn *Conn, raw []byte) error {
	return s.inst.Receive(conn, raw)
}

// Disconnect removes a connection.
func (s *Socket) Disconnect(conn *Conn) {
	s.inst.Disconnect(conn)
}

// Emit sends event to every connection of the instance.
func (s *Socket) Emit(event string, args ...any) error {
	return s.inst.broadcast(s.channel, event, args, nil)
}

// EmitOne sends event to conn only.
func (s *Socket) EmitOne(conn *Conn, event string, args ...any) error {
	b, err := encode(s.channel, event, args)
	if err != nil {
		return err
	}
	if err := conn.write(b); err != nil {
		if o := s.inst.observer(); o != nil {
			o.SendFailed(s.channel, event)
		}
		return err
	}
	if o := s.inst.observer(); o != nil {
		o.MessageSent(s.channel, event, 1)
	}
	return nil
}

// EmitGroup sends event to the connections in group.
func (s *Socket) EmitGroup(group, event string, args ...any) error {
	return s.inst.broadcast(s.channel, event, args, func(c *Conn) bool {
		return c.InGroup(group)
	})
}

// SetGroup adds conn to group.
func (s *Socket) SetGroup(conn *Conn, group string) {
	conn.setGroup(group, true)
}

// UnsetGroup removes conn from group.
func (s *Socket) UnsetGroup(conn *Conn, group string) {
	conn.setGroup(group, false)
}

// Monitor returns the monitor of the shared instance.
func (s *Socket) Monitor() *Monitor {
	return s.inst.Monitor()
}
