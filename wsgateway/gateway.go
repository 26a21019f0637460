// Package wsgateway adapts the broadcast hub to websocket clients: GET
// /ws/updates, client heartbeat "ping"->"pong", and the
// {"type":"new_alert","data":{...}} event shape. Each connection gets
// one reader goroutine and one writer goroutine draining its
// broadcast.Subscriber queue, with write-deadline-guarded sends.
package wsgateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Nagarohit29/Safelink/broadcast"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeDeadline = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEvent is the wire envelope every pushed event travels in.
type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Gateway upgrades HTTP requests to websocket connections and bridges
// each one to a broadcast.Subscriber.
type Gateway struct {
	hub *broadcast.Hub
	log *zap.Logger

	nextID func() string
}

// New constructs a Gateway over hub. idFunc supplies subscriber ids
// (the daemon's start command wires in google/uuid's NewString;
// tests can pass a deterministic counter).
func New(hub *broadcast.Hub, log *zap.Logger, idFunc func() string) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{hub: hub, log: log, nextID: idFunc}
}

// ServeHTTP implements GET /ws/updates.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("wsgateway: upgrade failed", zap.Error(err))
		return
	}

	id := g.nextID()
	sub := g.hub.Subscribe(id)
	g.log.Info("wsgateway: client connected", zap.String("subscriber", id))

	go g.readLoop(conn, sub)
	g.writeLoop(conn, sub)
}

// readLoop handles the client->server half: "ping" text frames are
// answered with a Pong liveness update and a "pong" reply. Any read
// error (including a plain close) tears down the connection.
func (g *Gateway) readLoop(conn *websocket.Conn, sub *broadcast.Subscriber) {
	defer conn.Close()
	defer g.hub.Unsubscribe(sub.ID)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) == "ping" {
			sub.Pong()
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		}
	}
}

// writeLoop drains the subscriber's queue and writes each event as a
// new_alert frame until the subscriber disconnects.
func (g *Gateway) writeLoop(conn *websocket.Conn, sub *broadcast.Subscriber) {
	defer conn.Close()

	for {
		select {
		case <-sub.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(wsEvent{Type: "new_alert", Data: e})
			if err != nil {
				g.log.Warn("wsgateway: marshal event failed", zap.Error(err))
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
