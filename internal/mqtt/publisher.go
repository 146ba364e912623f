package mqtt

import (
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"solar-mqtt-bridge/internal/metrics"
)

// ForcePublishInterval is the upper bound on the gap between successive
// publishes of an unchanged value. Guarantees liveness for downstream
// consumers even when a sensor is stuck.
const ForcePublishInterval = 60 * time.Second

// DefaultMinInterval is the hard floor between publishes of one topic
// unless the caller asks for a different one.
const DefaultMinInterval = 1 * time.Second

// Broker is the outbound surface the publisher needs from the MQTT client.
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// storedValue is the canonical form of a published payload: floating-point
// when the value is numeric, the literal string otherwise. A switch
// between the two kinds always counts as changed.
type storedValue struct {
	isNum bool
	num   float64
	text  string
}

func (v storedValue) equals(o storedValue) bool {
	if v.isNum != o.isNum {
		return false
	}
	if v.isNum {
		return v.num == o.num
	}
	return v.text == o.text
}

// publishState tracks the last successful publish of one topic.
// Created on first publish attempt, never destroyed.
type publishState struct {
	has    bool
	value  storedValue
	lastTS time.Time
}

// Publisher publishes state topics with hysteresis and rate limiting.
// There is a single publisher per bridge, so no locking is needed.
type Publisher struct {
	broker Broker
	prefix string
	m      *metrics.Metrics

	states map[string]*publishState
	now    func() time.Time
}

// NewPublisher creates a publisher rooted at the bridge topic prefix.
// metrics may be nil.
func NewPublisher(broker Broker, prefix string, m *metrics.Metrics) *Publisher {
	return &Publisher{
		broker: broker,
		prefix: prefix,
		m:      m,
		states: make(map[string]*publishState),
		now:    time.Now,
	}
}

// Publish publishes topic (relative to the bridge prefix) if the value
// changed since the last publish or the force interval elapsed.
// Returns whether a publish was performed.
func (p *Publisher) Publish(topic string, value interface{}, retain bool, minInterval time.Duration) bool {
	return p.publish(topic, value, retain, minInterval, nil)
}

// PublishHyst is Publish with a hysteresis gate: the numeric value must
// move by at least hyst from the previously published one. Non-numeric
// values are suppressed.
func (p *Publisher) PublishHyst(topic string, value interface{}, retain bool, minInterval time.Duration, hyst float64) bool {
	return p.publish(topic, value, retain, minInterval, &hyst)
}

func (p *Publisher) publish(topic string, value interface{}, retain bool, minInterval time.Duration, hyst *float64) bool {
	fullTopic := p.prefix + "/" + topic
	now := p.now()

	st, ok := p.states[fullTopic]
	if !ok {
		st = &publishState{}
		p.states[fullTopic] = st
	}

	elapsed := now.Sub(st.lastTS)
	if st.has && elapsed < minInterval {
		p.suppressed()
		return false
	}

	forceDue := !st.has || elapsed >= ForcePublishInterval

	val, payload := canonicalize(value)

	var shouldPub bool
	if hyst == nil {
		shouldPub = !st.has || !val.equals(st.value) || forceDue
	} else {
		if !val.isNum {
			p.suppressed()
			return false
		}
		prevNum := st.has && st.value.isNum
		shouldPub = forceDue || !prevNum || abs(val.num-st.value.num) >= *hyst
	}

	if !shouldPub {
		p.suppressed()
		return false
	}

	// Broker trouble must never crash the bridge; an unsent value simply
	// stays out of the cache and is retried on the next call.
	if !p.broker.IsConnected() {
		return false
	}
	p.broker.Publish(fullTopic, 0, retain, payload)

	st.has = true
	st.value = val
	st.lastTS = now
	if p.m != nil {
		p.m.PublishesTotal.Inc()
	}
	return true
}

// PublishAvailability publishes the retained availability payload,
// bypassing the state cache so online/offline transitions are immediate.
func (p *Publisher) PublishAvailability(online bool) {
	if !p.broker.IsConnected() {
		return
	}
	payload := "offline"
	if online {
		payload = "online"
	}
	p.broker.Publish(p.prefix+"/status", 0, true, payload)
}

// AvailabilityTopic returns the retained online/offline topic of this bridge.
func (p *Publisher) AvailabilityTopic() string {
	return p.prefix + "/status"
}

// Prefix returns the bridge topic prefix.
func (p *Publisher) Prefix() string {
	return p.prefix
}

func (p *Publisher) suppressed() {
	if p.m != nil {
		p.m.PublishesDropped.Inc()
	}
}

// canonicalize normalizes a value for storage, comparison and payload.
// All numeric Go kinds collapse into float64 so 5 and 5.0 compare equal.
func canonicalize(value interface{}) (storedValue, string) {
	switch v := value.(type) {
	case float64:
		return storedValue{isNum: true, num: v}, formatFloat(v)
	case float32:
		return canonicalize(float64(v))
	case int:
		return canonicalize(float64(v))
	case int64:
		return canonicalize(float64(v))
	case uint16:
		return canonicalize(float64(v))
	case uint32:
		return canonicalize(float64(v))
	case string:
		return storedValue{text: v}, v
	default:
		s := fmt.Sprintf("%v", value)
		return storedValue{text: s}, s
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
