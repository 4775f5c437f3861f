package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/artpar/livesync/adapters/clock"
	"github.com/artpar/livesync/adapters/idgen"
	"github.com/artpar/livesync/core/transport"
	"github.com/rs/zerolog"
)

type fakePeer struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	err    error
}

func (p *fakePeer) WriteMessage(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.frames = append(p.frames, append([]byte(nil), data...))
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) Envelopes(t *testing.T) []transport.Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]transport.Envelope, 0, len(p.frames))
	for _, f := range p.frames {
		var env transport.Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame %s: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

func (p *fakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type countingObserver struct {
	mu           sync.Mutex
	connected    int
	disconnected int
	received     int
	sent         int
	failed       int
}

func (o *countingObserver) ClientConnected()    { o.mu.Lock(); o.connected++; o.mu.Unlock() }
func (o *countingObserver) ClientDisconnected() { o.mu.Lock(); o.disconnected++; o.mu.Unlock() }
func (o *countingObserver) MessageReceived(channel, event string) {
	o.mu.Lock()
	o.received++
	o.mu.Unlock()
}
func (o *countingObserver) MessageSent(channel, event string, peers int) {
	o.mu.Lock()
	o.sent += peers
	o.mu.Unlock()
}
func (o *countingObserver) SendFailed(channel, event string) {
	o.mu.Lock()
	o.failed++
	o.mu.Unlock()
}

func newRegistry(obs transport.Observer) *transport.Registry {
	return transport.NewRegistry(transport.RegistryConfig{
		IDs:      idgen.NewSequential("conn-"),
		Clock:    clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Observer: obs,
		Logger:   zerolog.Nop(),
	})
}

func newSocket(t *testing.T, reg *transport.Registry, channel string) *transport.Socket {
	t.Helper()
	s, err := transport.NewSocket(reg, transport.Options{Host: "127.0.0.1", Port: 9889, Channel: channel})
	if err != nil {
		t.Fatalf("NewSocket failed: %v", err)
	}
	return s
}

func TestNewSocket_NoChannel(t *testing.T) {
	_, err := transport.NewSocket(newRegistry(nil), transport.Options{})
	if !errors.Is(err, transport.ErrNoChannel) {
		t.Errorf("NewSocket error = %v, want ErrNoChannel", err)
	}
}

func TestRegistry_SharesInstances(t *testing.T) {
	reg := newRegistry(nil)
	a := newSocket(t, reg, "a")
	b := newSocket(t, reg, "b")

	if a.Instance() != b.Instance() {
		t.Error("sockets on one host:port must share an instance")
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}

	other, err := transport.NewSocket(reg, transport.Options{Host: "127.0.0.1", Port: 9890, Channel: "a"})
	if err != nil {
		t.Fatalf("NewSocket failed: %v", err)
	}
	if other.Instance() == a.Instance() || reg.Len() != 2 {
		t.Errorf("distinct ports must have distinct instances, Len = %d", reg.Len())
	}
	if inst, ok := reg.Lookup("127.0.0.1", 9889); !ok || inst != a.Instance() {
		t.Error("Lookup did not return the shared instance")
	}
}

func TestAccept(t *testing.T) {
	s := newSocket(t, newRegistry(nil), "c")

	conn := s.Accept(&fakePeer{}, "/xqsocket/abc")
	if conn.ID != "conn-1" || conn.Pathname != "/xqsocket/abc" {
		t.Errorf("conn = %+v", conn)
	}
	if !conn.ConnectedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ConnectedAt = %v", conn.ConnectedAt)
	}
}

func TestEmit_FanOut(t *testing.T) {
	obs := &countingObserver{}
	reg := newRegistry(obs)
	items := newSocket(t, reg, "itemslist")
	newSocket(t, reg, "other")

	p1, p2 := &fakePeer{}, &fakePeer{}
	items.Accept(p1, "/xqsocket")
	items.Accept(p2, "/xqsocket")

	if err := items.Emit("synclist.push", []any{map[string]any{"v": 1}}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	for i, p := range []*fakePeer{p1, p2} {
		envs := p.Envelopes(t)
		if len(envs) != 1 {
			t.Fatalf("peer %d got %d envelopes, want 1", i, len(envs))
		}
		env := envs[0]
		if env.EventName != "synclist.push" || env.Channel != "itemslist" {
			t.Errorf("envelope = %+v", env)
		}
		want := []any{[]any{map[string]any{"v": 1.0}}}
		if !reflect.DeepEqual(env.Args, want) {
			t.Errorf("args = %v, want %v", env.Args, want)
		}
	}
	if obs.sent != 2 {
		t.Errorf("observer sent = %d, want 2", obs.sent)
	}
}

func TestEmit_NoArgsIsEmptyArray(t *testing.T) {
	s := newSocket(t, newRegistry(nil), "c")
	p := &fakePeer{}
	s.Accept(p, "/")

	if err := s.Emit("synclist.pop"); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if !strings.Contains(string(p.frames[0]), `"args":[]`) {
		t.Errorf("frame = %s, want empty args array", p.frames[0])
	}
}

func TestEmit_FailedPeerDoesNotStopOthers(t *testing.T) {
	obs := &countingObserver{}
	s := newSocket(t, newRegistry(obs), "c")

	bad := &fakePeer{err: errors.New("broken pipe")}
	good := &fakePeer{}
	s.Accept(bad, "/")
	s.Accept(good, "/")

	err := s.Emit("e", 1)
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Errorf("Emit error = %v, want broken pipe", err)
	}
	if len(good.Envelopes(t)) != 1 {
		t.Error("healthy peer must still receive the message")
	}
	if obs.failed != 1 {
		t.Errorf("observer failed = %d, want 1", obs.failed)
	}
}

func TestEmitOne(t *testing.T) {
	s := newSocket(t, newRegistry(nil), "c")
	p1, p2 := &fakePeer{}, &fakePeer{}
	c1 := s.Accept(p1, "/")
	s.Accept(p2, "/")

	if err := s.EmitOne(c1, "syncmodel.init", map[string]any{"a": 1}); err != nil {
		t.Fatalf("EmitOne failed: %v", err)
	}
	if len(p1.Envelopes(t)) != 1 || len(p2.Envelopes(t)) != 0 {
		t.Error("EmitOne must reach only its connection")
	}
}

func TestEmitGroup(t *testing.T) {
	s := newSocket(t, newRegistry(nil), "c")
	p1, p2, p3 := &fakePeer{}, &fakePeer{}, &fakePeer{}
	c1 := s.Accept(p1, "/")
	c2 := s.Accept(p2, "/")
	s.Accept(p3, "/")

	s.SetGroup(c1, "admins")
	s.SetGroup(c2, "admins")
	s.UnsetGroup(c2, "admins")
	s.SetGroup(c2, "users")

	if err := s.EmitGroup("admins", "notice", "hi"); err != nil {
		t.Fatalf("EmitGroup failed: %v", err)
	}
	got := []int{len(p1.Envelopes(t)), len(p2.Envelopes(t)), len(p3.Envelopes(t))}
	if !reflect.DeepEqual(got, []int{1, 0, 0}) {
		t.Errorf("deliveries = %v, want [1 0 0]", got)
	}
	if !reflect.DeepEqual(c2.Groups(), []string{"users"}) {
		t.Errorf("Groups() = %v", c2.Groups())
	}
}

func TestReceive(t *testing.T) {
	obs := &countingObserver{}
	s := newSocket(t, newRegistry(obs), "countermodel")
	conn := s.Accept(&fakePeer{}, "/")

	var got []any
	s.On("syncmodel.set", func(args ...any) { got = args })

	err := s.Receive(conn, []byte(`{"eventName":"syncmodel.set","channel":"countermodel","args":[{"counter":5}]}`))
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("args = %v, want data and conn", got)
	}
	if !reflect.DeepEqual(got[0], map[string]any{"counter": 5.0}) {
		t.Errorf("data = %v", got[0])
	}
	if got[1] != conn {
		t.Error("last argument must be the connection")
	}
	if obs.received != 1 {
		t.Errorf("observer received = %d, want 1", obs.received)
	}
}

func TestReceive_Errors(t *testing.T) {
	s := newSocket(t, newRegistry(nil), "known")
	conn := s.Accept(&fakePeer{}, "/")

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `nope`, transport.ErrBadEnvelope},
		{"no event", `{"channel":"known"}`, transport.ErrBadEnvelope},
		{"unknown channel", `{"eventName":"x","channel":"missing"}`, transport.ErrUnknownChannel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Receive(conn, []byte(tt.raw)); !errors.Is(err, tt.want) {
				t.Errorf("Receive error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOnceOff(t *testing.T) {
	s := newSocket(t, newRegistry(nil), "c")
	conn := s.Accept(&fakePeer{}, "/")
	frame := []byte(`{"eventName":"ping","channel":"c","args":[]}`)

	calls := 0
	s.Once("ping", func(...any) { calls++ })
	l := s.On("ping", func(...any) { calls += 10 })

	_ = s.Receive(conn, frame)
	if removed := s.Off("ping", l); removed != 1 {
		t.Errorf("Off removed %d, want 1", removed)
	}
	_ = s.Receive(conn, frame)

	if calls != 11 {
		t.Errorf("calls = %d, want 11", calls)
	}
}

func TestDisconnectAndMonitor(t *testing.T) {
	obs := &countingObserver{}
	s := newSocket(t, newRegistry(obs), "c")
	mon := s.Monitor()

	var events []string
	mon.On("client.connect", func(...any) { events = append(events, "connect") })
	mon.On("client.disconnect", func(...any) { events = append(events, "disconnect") })

	p := &fakePeer{}
	conn := s.Accept(p, "/")
	s.Accept(&fakePeer{}, "/")

	stats := mon.Stats()
	if stats.Connections != 2 || !reflect.DeepEqual(stats.Channels, []string{"c"}) {
		t.Errorf("Stats() = %+v", stats)
	}

	s.Disconnect(conn)
	s.Disconnect(conn)

	if !p.Closed() {
		t.Error("peer should be closed")
	}
	if got := mon.Stats().Connections; got != 1 {
		t.Errorf("Connections = %d, want 1", got)
	}
	if !reflect.DeepEqual(events, []string{"connect", "connect", "disconnect"}) {
		t.Errorf("monitor events = %v", events)
	}
	if obs.connected != 2 || obs.disconnected != 1 {
		t.Errorf("observer = %d connected, %d disconnected", obs.connected, obs.disconnected)
	}
}

func TestStop(t *testing.T) {
	reg := newRegistry(nil)
	a := newSocket(t, reg, "a")
	b := newSocket(t, reg, "b")
	p := &fakePeer{}
	a.Accept(p, "/")

	var disconnected []string
	a.On("socket.disconnect", func(...any) { disconnected = append(disconnected, "a") })
	b.On("socket.disconnect", func(...any) { disconnected = append(disconnected, "b") })

	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !p.Closed() {
		t.Error("peers must be closed")
	}
	if len(disconnected) != 2 {
		t.Errorf("socket.disconnect fired on %v, want both channels", disconnected)
	}
	if reg.Len() != 0 {
		t.Errorf("registry Len() = %d, want 0", reg.Len())
	}
	if n := len(a.Instance().Conns()); n != 0 {
		t.Errorf("Conns() = %d, want 0", n)
	}
}
