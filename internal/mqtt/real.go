package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/heating-controller/internal/metrics"
)

// DefaultOutboxSize is how many messages are held while disconnected.
const DefaultOutboxSize = 256

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	OutboxSize int
	Now        func() time.Time
}

// RealPublisher publishes to an actual MQTT broker and dispatches
// subscriptions. Messages published while the broker is unreachable are held
// in a bounded outbox and sent, oldest first, on reconnection.
type RealPublisher struct {
	client paho.Client
	now    func() time.Time

	mu        sync.Mutex
	outbox    *outbox
	subs      map[string]paho.MessageHandler
	connected bool // at least one successful connection so far
}

// NewRealPublisher creates a publisher for the given broker. It does not wait
// for the connection; the client keeps retrying in the background.
func NewRealPublisher(o Options) *RealPublisher {
	if o.ClientID == "" {
		o.ClientID = "heating-controller"
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = DefaultOutboxSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	p := &RealPublisher{
		now:    o.Now,
		outbox: newOutbox(o.OutboxSize),
		subs:   make(map[string]paho.MessageHandler),
	}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: o.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	subs := make(map[string]paho.MessageHandler, len(p.subs))
	for t, h := range p.subs {
		subs[t] = h
	}
	pending := p.outbox.flush()
	p.mu.Unlock()

	for topic, h := range subs {
		if t := c.Subscribe(topic, 0, h); t.WaitTimeout(5*time.Second) && t.Error() != nil {
			log.Printf("mqtt: subscribe %s: %v", topic, t.Error())
		}
	}
	if reconnect {
		log.Printf("mqtt: reconnected, replaying %d buffered messages", len(pending))
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		pending = append(pending, pendingMsg{topic: TopicSystem, payload: payload, qos: 1})
	} else {
		log.Printf("mqtt: connected")
	}
	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		dropped := p.outbox.add(pendingMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		if dropped {
			metrics.MQTTDropped.Inc()
		}
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Publish sends a relay event to the MQTT broker.
func (p *RealPublisher) Publish(event Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: relay transitions feed usage dashboards.
	return p.publish(Topic, 1, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

// Subscribe registers h for topic. The subscription is renewed on every
// reconnection.
func (p *RealPublisher) Subscribe(topic string, h func(topic string, payload []byte)) error {
	handler := func(_ paho.Client, m paho.Message) {
		h(m.Topic(), m.Payload())
	}
	p.mu.Lock()
	p.subs[topic] = handler
	p.mu.Unlock()

	if !p.client.IsConnectionOpen() {
		return nil
	}
	token := p.client.Subscribe(topic, 0, handler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// SubscribeSensors feeds every message on topic into rec.
func (p *RealPublisher) SubscribeSensors(topic string, rec Recorder) error {
	return p.Subscribe(topic, func(t string, payload []byte) {
		HandleSensorMessage(rec, t, payload, p.now())
	})
}

// IsConnected reports whether the broker connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
