package telemetry

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsClient holds one buffered send channel per connection, drained by
// a dedicated writer goroutine.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Publisher broadcasts binary telemetry frames to every connected
// websocket client.
type Publisher struct {
	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader

	nextMsgID uint16
	idMu      sync.Mutex
}

// NewPublisher creates an empty Publisher ready to accept connections.
func NewPublisher() *Publisher {
	return &Publisher{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades an incoming HTTP request to a websocket connection
// and registers it for broadcast.
func (p *Publisher) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[telemetry] ws upgrade error: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	p.clientsMu.Lock()
	p.clients[client] = struct{}{}
	n := len(p.clients)
	p.clientsMu.Unlock()
	log.Printf("[telemetry] client connected (%d total)", n)

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			p.clientsMu.Lock()
			delete(p.clients, client)
			n := len(p.clients)
			p.clientsMu.Unlock()
			close(client.send)
			log.Printf("[telemetry] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// nextID issues a monotonically increasing message id for frames that
// don't carry a caller-specified id.
func (p *Publisher) nextID() uint16 {
	p.idMu.Lock()
	defer p.idMu.Unlock()
	p.nextMsgID++
	return p.nextMsgID
}

// PublishEngineStatus encodes and broadcasts one engine-status frame,
// emitted at 10Hz by the caller's ticker.
func (p *Publisher) PublishEngineStatus(s EngineStatus) {
	frame, err := EncodeEngineStatus(p.nextID(), s)
	if err != nil {
		log.Printf("[telemetry] encode engine-status: %v", err)
		return
	}
	p.broadcast(frame)
}

func (p *Publisher) broadcast(data []byte) {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()

	for client := range p.clients {
		select {
		case client.send <- data:
		default:
			// client too slow, skip this frame
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (p *Publisher) ClientCount() int {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	return len(p.clients)
}
