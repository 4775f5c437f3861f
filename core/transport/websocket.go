package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsPeer serializes writes to one websocket connection.
type wsPeer struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func (p *wsPeer) WriteMessage(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ws.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	return p.ws.WriteMessage(websocket.TextMessage, data)
}

func (p *wsPeer) Close() error {
	p.mu.Lock()
	deadline := time.Now().Add(p.writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := p.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	p.mu.Unlock()

	err := p.ws.Close()
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return errors.Join(werr, err)
	}
	return err
}

func (i *Instance) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := i.upgrader.Upgrade(w, r, nil)
	if err != nil {
		i.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	conf := i.registry.conf
	ws.SetReadLimit(conf.ReadLimit)

	conn := i.Accept(&wsPeer{ws: ws, writeTimeout: conf.WriteTimeout}, r.URL.Path)
	defer i.Disconnect(conn)

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				i.logger.Debug().Err(err).Str("conn", conn.ID).Msg("read error")
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if err := i.Receive(conn, message); err != nil {
			i.logger.Warn().Err(err).Str("conn", conn.ID).Msg("dropped message")
		}
	}
}
