package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lazypower/vecarvs/internal/events"
)

const (
	pingInterval  = time.Second
	aliveDeadline = 5 * time.Second
	writeTimeout  = time.Second
)

// hub tracks websocket subscribers to the committed event stream. Each
// connection may filter by identity; an empty filter receives everything.
type hub struct {
	mx     sync.Mutex
	active map[*websocket.Conn]string
}

func newHub() *hub {
	return &hub{
		active: make(map[*websocket.Conn]string),
	}
}

// addConn sends hello and registers the connection in one step, so no
// event can reach the peer before the acknowledgement.
func (h *hub) addConn(conn *websocket.Conn, identity string, hello []byte) error {
	h.mx.Lock()
	defer h.mx.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return err
	}
	h.active[conn] = identity
	return nil
}

func (h *hub) close(conn *websocket.Conn) {
	h.mx.Lock()
	defer h.mx.Unlock()

	_ = conn.Close()
	delete(h.active, conn)
}

func (h *hub) closeAll() {
	h.mx.Lock()
	defer h.mx.Unlock()

	for conn := range h.active {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(writeTimeout))
		_ = conn.Close()
		delete(h.active, conn)
	}
}

func (h *hub) size() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return len(h.active)
}

// broadcast is an events.Listener. Connections that fail a write are
// dropped.
func (h *hub) broadcast(_ context.Context, e events.Event) error {
	js, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	h.mx.Lock()
	defer h.mx.Unlock()

	for conn, identity := range h.active {
		if identity != "" && identity != e.Identity {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, js); err != nil {
			_ = conn.Close()
			delete(h.active, conn)
		}
	}
	return nil
}

// keep pings the connection and drains its reads until the peer goes away.
func (h *hub) keep(conn *websocket.Conn) {
	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()
	defer h.close(conn)

	var aliveMx sync.Mutex
	lastAlive := time.Now()
	alive := func() {
		aliveMx.Lock()
		lastAlive = time.Now()
		aliveMx.Unlock()
	}

	ponger := conn.PongHandler()
	conn.SetPongHandler(func(appData string) error {
		alive()
		return ponger(appData)
	})

	read := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				read <- err
				return
			}
			alive()
		}
	}()

	for {
		select {
		case <-pinger.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
			aliveMx.Lock()
			stale := time.Since(lastAlive) > aliveDeadline
			aliveMx.Unlock()
			if stale {
				return
			}
		case <-read:
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleStream upgrades to a websocket and streams committed events. The
// first frame acknowledges the subscription.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "err", err)
		return
	}

	identity := r.URL.Query().Get("identity")
	ack, _ := json.Marshal(map[string]string{"status": "subscribed", "identity": identity})
	if err := s.hub.addConn(conn, identity, ack); err != nil {
		conn.Close()
		return
	}
	go s.hub.keep(conn)
}
