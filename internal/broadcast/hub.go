// Package broadcast fans telemetry out to connected realtime clients,
// grouped by topic.
//
// Delivery is best-effort and at-most-once by design: there is no queue,
// retry, or backlog, and a client connecting after a publish simply misses
// it. This is an intentional guarantee, not a gap.
package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/sumo-bridge/internal/metrics"
)

// The fixed topic catalog.
const (
	TopicDashboard = "dashboard"
	TopicTraffic   = "traffic"
	TopicSumo      = "sumo"
	TopicAlerts    = "alerts"
)

// Topics lists the catalog in a stable order.
var Topics = []string{TopicDashboard, TopicTraffic, TopicSumo, TopicAlerts}

// KnownTopic reports whether topic is part of the catalog.
func KnownTopic(topic string) bool {
	for _, t := range Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Client is one connected realtime consumer.
type Client interface {
	ID() string
	// Send delivers one encoded message. A failure drops the message, not
	// the whole stream.
	Send(payload []byte) error
}

// Envelope is the wire form of a published message.
type Envelope struct {
	Topic string      `json:"topic"`
	TS    int64       `json:"ts"`
	Data  interface{} `json:"data"`
}

// Hub is the topic-subscription registry. Publishing to a topic with at
// least one subscriber reaches only those subscribers; publishing to a
// topic nobody has subscribed to yet reaches all connected clients, so
// early connections are not starved before they learn which topics exist.
type Hub struct {
	// Mirror, when set, additionally receives every published payload.
	// Used to feed the optional MQTT emitter.
	Mirror func(topic string, payload []byte)

	mu      sync.RWMutex
	clients map[string]Client
	subs    map[string]map[string]struct{} // topic -> client ids
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]Client),
		subs:    make(map[string]map[string]struct{}),
	}
}

// Register adds a connected client. It receives unsubscribed-topic
// publishes immediately.
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID()] = c
	log.WithField("client_id", c.ID()).Debug("Realtime client connected")
}

// Deregister removes a client and all its subscriptions.
func (h *Hub) Deregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, clientID)
	for _, members := range h.subs {
		delete(members, clientID)
	}
	log.WithField("client_id", clientID).Debug("Realtime client disconnected")
}

// Subscribe adds the client to each named topic. Unknown topics are
// ignored with a warning; the catalog is fixed.
func (h *Hub) Subscribe(clientID string, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		if !KnownTopic(topic) {
			log.WithFields(log.Fields{"client_id": clientID, "topic": topic}).Warn("Ignoring subscription to unknown topic")
			continue
		}
		members, ok := h.subs[topic]
		if !ok {
			members = make(map[string]struct{})
			h.subs[topic] = members
		}
		members[clientID] = struct{}{}
	}
}

// Unsubscribe removes the client from each named topic.
func (h *Hub) Unsubscribe(clientID string, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		if members, ok := h.subs[topic]; ok {
			delete(members, clientID)
		}
	}
}

// SubscriberCount returns the current number of subscribers on a topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers data to the topic's subscribers, or to every connected
// client when the topic has none. A failed per-client send is dropped and
// counted; it never blocks or aborts the fan-out.
func (h *Hub) Publish(topic string, data interface{}) {
	payload, err := json.Marshal(Envelope{
		Topic: topic,
		TS:    time.Now().UnixMilli(),
		Data:  data,
	})
	if err != nil {
		log.WithError(err).WithField("topic", topic).Error("Failed to encode publish payload")
		return
	}

	h.mu.RLock()
	recipients := make([]Client, 0, len(h.clients))
	if members, ok := h.subs[topic]; ok && len(members) > 0 {
		for id := range members {
			if c, ok := h.clients[id]; ok {
				recipients = append(recipients, c)
			}
		}
	} else {
		for _, c := range h.clients {
			recipients = append(recipients, c)
		}
	}
	mirror := h.Mirror
	h.mu.RUnlock()

	for _, c := range recipients {
		if err := c.Send(payload); err != nil {
			metrics.DroppedMessages.Inc()
			log.WithError(err).WithFields(log.Fields{
				"client_id": c.ID(),
				"topic":     topic,
			}).Warn("Dropped realtime delivery")
		}
	}
	metrics.PublishedMessages.WithLabelValues(topic).Inc()

	if mirror != nil {
		mirror(topic, payload)
	}
}
