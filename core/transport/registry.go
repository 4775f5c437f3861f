package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/artpar/livesync/core/events"
	"github.com/artpar/livesync/ports"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// RegistryConfig configures the instances a Registry creates.
type RegistryConfig struct {
	WriteTimeout time.Duration
	ReadLimit    int64

	Clock    ports.Clock
	IDs      ports.IDGenerator
	Observer Observer
	Logger   zerolog.Logger
}

// Registry is the single place listener instances are created, keyed by host:port.
type Registry struct {
	conf RegistryConfig

	mu        sync.Mutex
	instances map[string]*Instance
}

// NewRegistry creates an empty registry.
func NewRegistry(conf RegistryConfig) *Registry {
	if conf.WriteTimeout == 0 {
		conf.WriteTimeout = defaultWriteTimeout
	}
	if conf.ReadLimit == 0 {
		conf.ReadLimit = defaultReadLimit
	}
	return &Registry{
		conf:      conf,
		instances: make(map[string]*Instance),
	}
}

func instanceKey(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// instance returns the instance for host:port, creating it on first use.
func (r *Registry) instance(host string, port int, path string) *Instance {
	key := instanceKey(host, port)

	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[key]; ok {
		if inst.path != path {
			inst.logger.Warn().Str("path", path).Str("bound_path", inst.path).Msg("instance already serves another path, keeping it")
		}
		return inst
	}

	inst := newInstance(r, key, host, port, path)
	r.instances[key] = inst
	return inst
}

// Lookup returns the instance bound to host:port.
func (r *Registry) Lookup(host string, port int) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[instanceKey(host, port)]
	return inst, ok
}

// Len returns the number of instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Shutdown stops every instance.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	insts := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		insts = append(insts, inst)
	}
	r.mu.Unlock()

	var errs []error
	for _, inst := range insts {
		if err := inst.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) release(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instances[inst.key] == inst {
		delete(r.instances, inst.key)
	}
}

// Instance is the shared listener for one host:port with its connection list
// and channel emitters.
type Instance struct {
	key      string
	host     string
	port     int
	path     string
	registry *Registry
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	router   chi.Router

	mu       sync.RWMutex
	conns    []*Conn
	channels map[string]*events.Emitter
	monitor  *Monitor
	server   *http.Server
	listener net.Listener
}

func newInstance(r *Registry, key, host string, port int, path string) *Instance {
	inst := &Instance{
		key:      key,
		host:     host,
		port:     port,
		path:     "/" + strings.TrimPrefix(path, "/"),
		registry: r,
		logger:   r.conf.Logger.With().Str("socket", key).Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		channels: make(map[string]*events.Emitter),
	}

	router := chi.NewRouter()
	router.Get(inst.path, inst.serveWS)
	router.Get(inst.path+"/*", inst.serveWS)
	inst.router = router
	return inst
}

// Handler serves websocket upgrades on the instance path.
func (i *Instance) Handler() http.Handler {
	return i.router
}

// Path returns the path websocket clients connect to.
func (i *Instance) Path() string { return i.path }

// Addr returns the bound listener address, or nil before Start.
func (i *Instance) Addr() net.Addr {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.listener == nil {
		return nil
	}
	return i.listener.Addr()
}

// Start binds the listener. It returns nil when already bound.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.listener != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", i.key)
	if err != nil {
		return fmt.Errorf("listen %s: %w", i.key, err)
	}
	i.listener = ln
	i.server = &http.Server{
		Handler:           i.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			i.logger.Error().Err(err).Msg("socket server error")
		}
	}(i.server)

	i.logger.Info().Str("addr", ln.Addr().String()).Str("path", i.path).Msg("socket server started")
	return nil
}

// Stop closes every connection, emits socket.disconnect on every channel,
// shuts the listener down and frees the registry slot.
func (i *Instance) Stop(ctx context.Context) error {
	i.mu.Lock()
	conns := i.conns
	i.conns = nil
	channels := make([]*events.Emitter, 0, len(i.channels))
	for _, ch := range i.channels {
		channels = append(channels, ch)
	}
	srv := i.server
	i.server = nil
	i.listener = nil
	i.mu.Unlock()

	for _, c := range conns {
		c.closeOnce.Do(func() {
			if err := c.peer.Close(); err != nil {
				i.logger.Debug().Err(err).Str("conn", c.ID).Msg("close peer")
			}
		})
	}
	for _, ch := range channels {
		ch.Emit("socket.disconnect")
	}

	var err error
	if srv != nil {
		if serr := srv.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("shutdown %s: %w", i.key, serr)
		}
	}
	i.registry.release(i)

	i.logger.Info().Int("clients", len(conns)).Msg("socket server stopped")
	return err
}

// channel returns the emitter for name, creating it on first use.
func (i *Instance) channel(name string) *events.Emitter {
	i.mu.Lock()
	defer i.mu.Unlock()
	ch, ok := i.channels[name]
	if !ok {
		ch = events.New(i.logger.With().Str("channel", name).Logger())
		i.channels[name] = ch
	}
	return ch
}

func (i *Instance) lookupChannel(name string) (*events.Emitter, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ch, ok := i.channels[name]
	return ch, ok
}

// Monitor returns the instance monitor, creating it on first use.
func (i *Instance) Monitor() *Monitor {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.monitor == nil {
		i.monitor = &Monitor{Emitter: events.New(i.logger), inst: i}
	}
	return i.monitor
}

func (i *Instance) notify(event string) {
	i.mu.RLock()
	m := i.monitor
	i.mu.RUnlock()
	if m != nil {
		m.Emit(event)
	}
}

func (i *Instance) observer() Observer {
	return i.registry.conf.Observer
}

// Accept registers a new connection writing through peer.
func (i *Instance) Accept(peer Peer, pathname string) *Conn {
	conf := i.registry.conf

	id := ""
	if conf.IDs != nil {
		id = conf.IDs.New()
	} else {
		id = uuid.NewString()
	}
	now := time.Now()
	if conf.Clock != nil {
		now = conf.Clock.Now()
	}

	c := &Conn{ID: id, Pathname: pathname, ConnectedAt: now, peer: peer}

	i.mu.Lock()
	i.conns = append(i.conns, c)
	i.mu.Unlock()

	i.logger.Debug().Str("conn", id).Str("pathname", pathname).Msg("new connection")
	if o := i.observer(); o != nil {
		o.ClientConnected()
	}
	i.notify("client.connect")
	return c
}

// Disconnect removes conn and closes its peer. Later calls do nothing.
func (i *Instance) Disconnect(conn *Conn) {
	removed := false
	conn.closeOnce.Do(func() {
		i.mu.Lock()
		for n, c := range i.conns {
			if c == conn {
				i.conns = append(i.conns[:n:n], i.conns[n+1:]...)
				removed = true
				break
			}
		}
		i.mu.Unlock()

		if err := conn.peer.Close(); err != nil {
			i.logger.Debug().Err(err).Str("conn", conn.ID).Msg("close peer")
		}
	})
	if !removed {
		return
	}

	i.logger.Debug().Str("conn", conn.ID).Msg("connection closed")
	if o := i.observer(); o != nil {
		o.ClientDisconnected()
	}
	i.notify("client.disconnect")
}

// Receive parses one inbound frame and emits its args, followed by conn, on
// the addressed channel.
func (i *Instance) Receive(conn *Conn, raw []byte) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.EventName == "" {
		return fmt.Errorf("%w: missing eventName", ErrBadEnvelope)
	}

	ch, ok := i.lookupChannel(env.Channel)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, env.Channel)
	}

	i.logger.Debug().Str("conn", conn.ID).Str("channel", env.Channel).Str("event", env.EventName).Msg("message received")
	if o := i.observer(); o != nil {
		o.MessageReceived(env.Channel, env.EventName)
	}

	args := append(env.Args, conn)
	ch.Emit(env.EventName, args...)
	return nil
}

// Conns returns a snapshot of the registered connections.
func (i *Instance) Conns() []*Conn {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]*Conn(nil), i.conns...)
}

// Channels returns the channel names, sorted.
func (i *Instance) Channels() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, 0, len(i.channels))
	for name := range i.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// broadcast writes one envelope to every connection accepted by keep.
// Failures are joined and never stop the fan-out.
func (i *Instance) broadcast(channel, event string, args []any, keep func(*Conn) bool) error {
	b, err := encode(channel, event, args)
	if err != nil {
		return err
	}

	var (
		errs []error
		sent int
	)
	for _, c := range i.Conns() {
		if keep != nil && !keep(c) {
			continue
		}
		if err := c.write(b); err != nil {
			errs = append(errs, err)
			if o := i.observer(); o != nil {
				o.SendFailed(channel, event)
			}
			continue
		}
		sent++
	}

	i.logger.Debug().Str("channel", channel).Str("event", event).Int("clients", sent).Msg("message sent")
	if o := i.observer(); o != nil {
		o.MessageSent(channel, event, sent)
	}
	if len(errs) > 0 {
		i.logger.Error().Err(errors.Join(errs...)).Str("channel", channel).Str("event", event).Msg("send failed")
	}
	return errors.Join(errs...)
}
