package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"aistudio2api-go/internal/events"
	"aistudio2api-go/internal/monitoring"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// DefaultGracePeriod is how long in-flight queues survive a relay disconnect
// while waiting for a reconnect.
const DefaultGracePeriod = 5 * time.Second

// ErrNotConnected is returned by Send when no relay link is live.
var ErrNotConnected = errors.New("relay not connected")

// Channel owns the bidirectional link to the in-page relay script. The first
// connection is primary and receives all outbound frames; later connections
// are tracked and promoted in arrival order when the primary drops.
type Channel struct {
	mux   *Mux
	hub   events.Publisher
	grace time.Duration

	mu         sync.Mutex
	conns      []*relayConn
	graceTimer *time.Timer

	upgrader websocket.Upgrader
}

type relayConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (rc *relayConn) writeJSON(v any) error {
	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	return rc.ws.WriteJSON(v)
}

// NewChannel constructs a channel that routes inbound events into mux and
// publishes connectivity events on hub.
func NewChannel(mux *Mux, hub events.Publisher, grace time.Duration) *Channel {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Channel{
		mux:   mux,
		hub:   hub,
		grace: grace,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// The relay script connects from a browser page context.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler that accepts relay connections.
func (ch *Channel) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := ch.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("Relay websocket upgrade failed")
			return
		}
		ch.add(&relayConn{ws: ws})
	}
}

// IsConnected reports whether at least one relay link is live.
func (ch *Channel) IsConnected() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.conns) > 0
}

// Send serialises a relay request to the primary connection.
func (ch *Channel) Send(req Request) error {
	conn := ch.primary()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.writeJSON(req)
}

// SendCancel emits the cancel_request control frame for a request.
func (ch *Channel) SendCancel(requestID string) {
	conn := ch.primary()
	if conn == nil {
		return
	}
	frame := map[string]any{
		"event_type": string(EventCancel),
		"request_id": requestID,
	}
	if err := conn.writeJSON(frame); err != nil {
		log.WithError(err).Debugf("Failed to send cancel for request %s", requestID)
	}
}

func (ch *Channel) primary() *relayConn {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.conns) == 0 {
		return nil
	}
	return ch.conns[0]
}

func (ch *Channel) add(conn *relayConn) {
	ch.mu.Lock()
	ch.conns = append(ch.conns, conn)
	total := len(ch.conns)
	if ch.graceTimer != nil {
		ch.graceTimer.Stop()
		ch.graceTimer = nil
		log.Info("Relay reconnected within grace window")
	}
	ch.mu.Unlock()

	if total > 1 {
		log.Warnf("Additional relay connection tracked (total %d); primary unchanged", total)
	} else {
		log.Info("Relay connected")
		monitoring.RelayConnected.Set(1)
		ch.hub.Publish(context.Background(), events.TopicRelayConnected, nil, nil)
	}

	go ch.readLoop(conn)
}

func (ch *Channel) readLoop(conn *relayConn) {
	defer ch.remove(conn)

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("Relay read ended")
			}
			return
		}

		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			// Parse errors are dropped silently per protocol.
			continue
		}
		if evt.RequestID == "" {
			continue
		}
		ch.mux.Deliver(evt)
	}
}

func (ch *Channel) remove(conn *relayConn) {
	_ = conn.ws.Close()

	ch.mu.Lock()
	wasPrimary := len(ch.conns) > 0 && ch.conns[0] == conn
	for i, c := range ch.conns {
		if c == conn {
			ch.conns = append(ch.conns[:i], ch.conns[i+1:]...)
			break
		}
	}
	remaining := len(ch.conns)
	if remaining == 0 && ch.graceTimer == nil {
		ch.graceTimer = time.AfterFunc(ch.grace, ch.onGraceExpired)
	}
	ch.mu.Unlock()

	if remaining > 0 {
		if wasPrimary {
			log.Warn("Primary relay connection dropped; promoting oldest survivor")
		}
		return
	}
	monitoring.RelayConnected.Set(0)
	log.Warnf("Relay disconnected; grace window %s started", ch.grace)
}

func (ch *Channel) onGraceExpired() {
	ch.mu.Lock()
	ch.graceTimer = nil
	stillEmpty := len(ch.conns) == 0
	ch.mu.Unlock()

	if !stillEmpty {
		return
	}
	log.Error("Relay reconnect grace expired; failing all in-flight requests")
	ch.mux.CloseAll()
	ch.hub.Publish(context.Background(), events.TopicRelayLost, nil, nil)
}
