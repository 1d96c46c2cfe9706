// Package eventstream implements the optional bridge that mirrors
// Coordinator and Verification Controller hook events to external
// subscribers over a websocket, so a dashboard or the remote driver's
// log collector can watch an attack in flight instead of only reading
// the final report.
package eventstream

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yahoo/ychaos/hooks"
	"github.com/yahoo/ychaos/internal/channel"
)

// Event is one lifecycle event mirrored to subscribers: which bus it
// came from (coordinator/controller), the hook event name, when it
// fired, and a JSON-encodable snapshot of the hook's arguments.
type Event struct {
	Source    string `json:"source"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub fans Events out to every currently-connected websocket client. A
// slow or disconnected client is dropped rather than allowed to back up
// the broadcaster, matching the hook bus's own "never block the engine"
// contract.
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// client buffers a connected subscriber's pending Events in a
// TunableChannel rather than a fixed-size one: a dashboard that's
// actively polling stays small, one that falls behind under a large,
// bursty attack plan grows up to MaxSize instead of immediately
// dropping events.
type client struct {
	send *channel.TunableChannel[Event]
}

func newClient() *client {
	return &client{send: channel.NewTunableChannel[Event](channel.DefaultTunableConfig())}
}

// NewHub constructs an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger.With(zap.String("component", "eventstream")),
		clients: make(map[*client]struct{}),
	}
}

// Subscribe registers a hook on bus for each of events that turns the
// hook's call into a broadcast Event tagged with source. An event the
// bus was not constructed to accept is skipped: its Register error is
// discarded.
func (h *Hub) Subscribe(bus *hooks.Bus, source string, events ...string) {
	for _, name := range events {
		name := name
		_, _ = bus.Register(name, func(args ...any) error {
			h.Broadcast(Event{
				Source:    source,
				Name:      name,
				Timestamp: time.Now().UTC().Unix(),
				Payload:   summarize(args),
			})
			return nil
		})
	}
}

// Broadcast fans evt out to every connected client's send buffer. A
// client whose buffer is full is skipped for this event rather than
// blocking the caller (the Coordinator's scheduler goroutine).
func (h *Hub) Broadcast(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.send.Tune()
		if !c.send.TrySend(evt) {
			h.logger.Warn("dropping event for slow eventstream client", zap.String("event", evt.Name))
		}
	}
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// summarize reduces a hook's positional arguments to something safe and
// small to JSON-encode: most hooks pass a *ConfiguredAgent, a *Report,
// or a plugin spec/state-data pair, none of which need to round-trip
// exactly for a live-tail consumer.
func summarize(args []any) any {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, len(args))
	for i, a := range args {
		if b, err := json.Marshal(a); err == nil && len(b) < 2048 {
			out[i] = string(b)
		} else {
			out[i] = fmt.Sprintf("%v", a)
		}
	}
	return out
}
