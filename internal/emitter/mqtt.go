// Package emitter mirrors realtime hub publishes onto an MQTT broker so
// external dashboards can consume the same topic payloads without holding
// a websocket to this service.
package emitter

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// MQTTEmitter publishes hub payloads to <topicRoot>/<topic>.
type MQTTEmitter struct {
	broker    string
	clientID  string
	topicRoot string

	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTTEmitter creates an emitter for the given broker address.
func NewMQTTEmitter(broker, clientID, topicRoot string) *MQTTEmitter {
	if topicRoot == "" {
		topicRoot = "sumo"
	}
	return &MQTTEmitter{broker: broker, clientID: clientID, topicRoot: topicRoot}
}

// Connect establishes the broker connection with auto-reconnect.
func (e *MQTTEmitter) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.broker))
	opts.SetClientID(e.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		log.WithFields(log.Fields{
			"broker":    e.broker,
			"client_id": e.clientID,
		}).Info("MQTT connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		log.WithError(err).WithField("broker", e.broker).Warn("MQTT connection lost, will auto-reconnect")
	}

	e.client = mqtt.NewClient(opts)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// Publish mirrors one payload. Failures are logged and counted; the hub's
// own delivery is unaffected.
func (e *MQTTEmitter) Publish(topic string, payload []byte) {
	e.mu.RLock()
	connected := e.connected
	e.mu.RUnlock()
	if !connected {
		return
	}

	token := e.client.Publish(fmt.Sprintf("%s/%s", e.topicRoot, topic), 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		log.WithField("topic", topic).Warn("MQTT publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		log.WithError(err).WithField("topic", topic).Warn("MQTT publish failed")
		return
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
}

// Stats returns how many payloads were mirrored and how many failed.
func (e *MQTTEmitter) Stats() (published, errors uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.published, e.errors
}

// Disconnect closes the broker connection.
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil {
		e.client.Disconnect(250)
	}
}
