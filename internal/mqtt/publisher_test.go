package mqtt

import (
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken satisfies mqtt.Token for the fake broker
type fakeToken struct{}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return nil }

// fakeBroker records publishes instead of talking to a broker
type fakeBroker struct {
	connected bool
	published []publishedMsg
}

type publishedMsg struct {
	topic   string
	payload string
	retain  bool
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b.published = append(b.published, publishedMsg{topic, payload.(string), retained})
	return &fakeToken{}
}

func (b *fakeBroker) IsConnected() bool { return b.connected }

// testPublisher returns a publisher with a controllable clock
func testPublisher() (*Publisher, *fakeBroker, *time.Time) {
	broker := &fakeBroker{connected: true}
	pub := NewPublisher(broker, "test_bridge", nil)
	now := time.Unix(1700000000, 0)
	pub.now = func() time.Time { return now }
	return pub, broker, &now
}

func TestFirstPublishUnconditional(t *testing.T) {
	pub, broker, _ := testPublisher()

	if !pub.Publish("soc", 80, false, DefaultMinInterval) {
		t.Fatal("first publish of a topic must go through")
	}
	if len(broker.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(broker.published))
	}
	if broker.published[0].topic != "test_bridge/soc" {
		t.Errorf("unexpected topic %s", broker.published[0].topic)
	}
	if broker.published[0].payload != "80" {
		t.Errorf("unexpected payload %s", broker.published[0].payload)
	}
}

func TestUnchangedValueSuppressed(t *testing.T) {
	pub, broker, now := testPublisher()

	pub.Publish("voltage", 48.6, false, DefaultMinInterval)
	*now = now.Add(2 * time.Second)
	pub.Publish("voltage", 48.6, false, DefaultMinInterval)
	*now = now.Add(2 * time.Second)
	pub.Publish("voltage", 48.6, false, DefaultMinInterval)

	if len(broker.published) != 1 {
		t.Errorf("unchanged value republished: %d publishes", len(broker.published))
	}
}

func TestNumericCanonicalEquality(t *testing.T) {
	pub, broker, now := testPublisher()

	pub.Publish("soc", 5, false, DefaultMinInterval)
	*now = now.Add(2 * time.Second)
	// 5 and 5.0 are the same canonical value
	pub.Publish("soc", 5.0, false, DefaultMinInterval)

	if len(broker.published) != 1 {
		t.Errorf("5 followed by 5.0 must not republish, got %d publishes", len(broker.published))
	}
}

func TestTypeSwitchAlwaysPublishes(t *testing.T) {
	pub, broker, now := testPublisher()

	pub.Publish("state", 1, false, DefaultMinInterval)
	*now = now.Add(2 * time.Second)
	pub.Publish("state", "1", false, DefaultMinInterval)

	if len(broker.published) != 2 {
		t.Errorf("numeric to string switch must publish, got %d publishes", len(broker.published))
	}
}

func TestMinIntervalHardFloor(t *testing.T) {
	pub, broker, now := testPublisher()

	pub.Publish("current", 1.0, false, time.Second)
	*now = now.Add(500 * time.Millisecond)
	// changed value, but inside the min interval
	if pub.Publish("current", 2.0, false, time.Second) {
		t.Error("publish inside min_interval must be suppressed even when changed")
	}
	if len(broker.published) != 1 {
		t.Errorf("expected 1 publish, got %d", len(broker.published))
	}
}

// The concrete hysteresis scenario: values 3.350, 3.351, 3.353, 3.360
// delivered at 0.0, 0.5, 1.5, 2.5 s with min_interval=1s and hyst=0.01
// must produce exactly two publishes (t=0 and t=2.5).
func TestHysteresisScenario(t *testing.T) {
	pub, broker, now := testPublisher()
	start := *now

	steps := []struct {
		at    time.Duration
		value float64
	}{
		{0, 3.350},
		{500 * time.Millisecond, 3.351},
		{1500 * time.Millisecond, 3.353},
		{2500 * time.Millisecond, 3.360},
	}

	for _, s := range steps {
		*now = start.Add(s.at)
		pub.PublishHyst("cell01", s.value, false, time.Second, 0.01)
	}

	if len(broker.published) != 2 {
		t.Fatalf("expected exactly 2 publishes, got %d", len(broker.published))
	}
	if broker.published[1].payload != "3.36" {
		t.Errorf("second publish should carry 3.36, got %s", broker.published[1].payload)
	}
}

// Force republish: a constant value delivered every 10 s produces one
// publish per 60-second force interval.
func TestForceRepublish(t *testing.T) {
	pub, broker, now := testPublisher()
	start := *now

	for i := 0; i <= 12; i++ {
		*now = start.Add(time.Duration(i) * 10 * time.Second)
		pub.PublishHyst("cell01", 3.350, false, time.Second, 0.01)
	}

	// t=0, t=60, t=120
	if len(broker.published) != 3 {
		t.Errorf("expected 3 publishes over 120s, got %d", len(broker.published))
	}
}

func TestHysteresisRejectsNonNumeric(t *testing.T) {
	pub, broker, _ := testPublisher()

	if pub.PublishHyst("alarms", "pack_overvolt", false, time.Second, 0.01) {
		t.Error("hysteresis publish of a string must be suppressed")
	}
	if len(broker.published) != 0 {
		t.Errorf("expected no publishes, got %d", len(broker.published))
	}
}

func TestCacheNotUpdatedWhileDisconnected(t *testing.T) {
	pub, broker, now := testPublisher()

	broker.connected = false
	if pub.Publish("soc", 80, false, DefaultMinInterval) {
		t.Error("publish while disconnected must report failure")
	}

	// After reconnect the same value must go out: the failed attempt
	// did not populate the cache.
	broker.connected = true
	*now = now.Add(2 * time.Second)
	if !pub.Publish("soc", 80, false, DefaultMinInterval) {
		t.Error("value must be retried after reconnect")
	}
	if len(broker.published) != 1 {
		t.Errorf("expected 1 publish, got %d", len(broker.published))
	}
}

func TestAvailabilityBypassesCache(t *testing.T) {
	pub, broker, _ := testPublisher()

	pub.PublishAvailability(true)
	pub.PublishAvailability(true)
	pub.PublishAvailability(false)

	if len(broker.published) != 3 {
		t.Fatalf("availability must always publish, got %d", len(broker.published))
	}
	last := broker.published[2]
	if last.topic != "test_bridge/status" || last.payload != "offline" || !last.retain {
		t.Errorf("unexpected availability message %+v", last)
	}
}
