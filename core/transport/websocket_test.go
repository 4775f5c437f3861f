package transport_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/artpar/livesync/core/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) failed: %v", url, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func readEnvelope(t *testing.T, ws *websocket.Conn) transport.Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env transport.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return env
}

func TestWebsocket_RoundTrip(t *testing.T) {
	s := newSocket(t, newRegistry(nil), "echo")
	s.On("ping", func(args ...any) {
		conn := args[len(args)-1].(*transport.Conn)
		if err := s.EmitOne(conn, "pong", args[0]); err != nil {
			t.Errorf("EmitOne failed: %v", err)
		}
	})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ws := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/xqsocket")
	waitFor(t, func() bool { return s.Monitor().Stats().Connections == 1 })

	if err := ws.WriteJSON(transport.Envelope{EventName: "ping", Channel: "echo", Args: []any{"hello"}}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	env := readEnvelope(t, ws)
	if env.EventName != "pong" || env.Channel != "echo" || len(env.Args) != 1 || env.Args[0] != "hello" {
		t.Errorf("envelope = %+v", env)
	}

	if err := s.Emit("broadcast", 1); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if env := readEnvelope(t, ws); env.EventName != "broadcast" {
		t.Errorf("envelope = %+v", env)
	}

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.Close()
	waitFor(t, func() bool { return s.Monitor().Stats().Connections == 0 })
}

func TestWebsocket_Pathname(t *testing.T) {
	s := newSocket(t, newRegistry(nil), "c")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/xqsocket/room/7")
	waitFor(t, func() bool { return len(s.Instance().Conns()) == 1 })

	if got := s.Instance().Conns()[0].Pathname; got != "/xqsocket/room/7" {
		t.Errorf("Pathname = %s", got)
	}
}

func TestInstance_StartStop(t *testing.T) {
	reg := transport.NewRegistry(transport.RegistryConfig{Logger: zerolog.Nop()})
	s, err := transport.NewSocket(reg, transport.Options{Host: "127.0.0.1", Port: 0, Channel: "live"})
	if err != nil {
		t.Fatalf("NewSocket failed: %v", err)
	}
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	addr := s.Addr()
	if addr == nil {
		t.Fatal("Addr() is nil after Start")
	}

	ws := dial(t, "ws://"+addr.String()+"/xqsocket")
	waitFor(t, func() bool { return s.Monitor().Stats().Connections == 1 })

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("client connection should be closed after Stop")
	}
	if s.Addr() != nil {
		t.Error("Addr() should be nil after Stop")
	}
}
