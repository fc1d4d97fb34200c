package broadcast

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control plane authenticates separately; the stream itself is
	// read-only telemetry.
	CheckOrigin: func(r *http.Request) bool { return true },
}

var nextClientID atomic.Uint64

// wsClient adapts one websocket connection to the hub.
type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes to the connection
}

func (c *wsClient) ID() string { return c.id }

// Send writes one message with a deadline. A slow or gone client fails the
// write and the message is dropped, keeping the fan-out backpressure-free.
func (c *wsClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// subscribeMessage is what clients send to manage their topic set.
type subscribeMessage struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

// ServeWS upgrades the request and runs the client's read loop until the
// connection drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := &wsClient{
		id:   fmt.Sprintf("%s#%d", r.RemoteAddr, nextClientID.Add(1)),
		conn: conn,
	}
	h.Register(client)

	defer func() {
		h.Deregister(client.id)
		conn.Close()
	}()

	for {
		var msg subscribeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("client_id", client.id).Debug("Websocket read error")
			}
			return
		}
		switch msg.Action {
		case "subscribe":
			h.Subscribe(client.id, msg.Topics...)
		case "unsubscribe":
			h.Unsubscribe(client.id, msg.Topics...)
		default:
			log.WithFields(log.Fields{"client_id": client.id, "action": msg.Action}).Debug("Ignoring unknown client action")
		}
	}
}
