package discovery

import (
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"solar-mqtt-bridge/internal/config"
)

type fakeToken struct{}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return nil }

type fakeBroker struct {
	published map[string]string
	order     []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{published: make(map[string]string)}
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b.published[topic] = payload.(string)
	b.order = append(b.order, topic)
	return &fakeToken{}
}

func (b *fakeBroker) IsConnected() bool { return true }

func testDevice() config.DeviceConfig {
	return config.DeviceConfig{
		ID:           "deye_bms_master",
		Name:         "Deye BMS",
		Model:        "CAN",
		Manufacturer: "Shoto",
	}
}

func TestUniqueIDPrecedence(t *testing.T) {
	a := NewAnnouncer(newFakeBroker(), "homeassistant", "deye_bms", testDevice())

	if got := a.UniqueID(Sensor{Name: "soc"}); got != "deye_bms_master_soc" {
		t.Errorf("default unique id = %s", got)
	}
	if got := a.UniqueID(Sensor{Name: "soc", LegacyID: "deye-tcp-battery-soc"}); got != "deye-tcp-battery-soc" {
		t.Errorf("legacy id must win, got %s", got)
	}

	a.WithSolarmanIdentity("deye", "2957831690", map[string]string{"soc": "Battery SOC"})
	if got := a.UniqueID(Sensor{Name: "soc"}); got != "deye_2957831690_Battery SOC" {
		t.Errorf("solarman id = %s", got)
	}
	// unmapped names fall back to the default form
	if got := a.UniqueID(Sensor{Name: "unmapped"}); got != "deye_bms_master_unmapped" {
		t.Errorf("unmapped name must not use solarman form, got %s", got)
	}
	// legacy id still beats solarman
	if got := a.UniqueID(Sensor{Name: "soc", LegacyID: "keep-me"}); got != "keep-me" {
		t.Errorf("legacy id must beat solarman, got %s", got)
	}
}

func TestConfigTopicKinds(t *testing.T) {
	a := NewAnnouncer(newFakeBroker(), "homeassistant", "deye_bms", testDevice())

	if got := a.ConfigTopic(Sensor{Name: "soc"}); got != "homeassistant/sensor/deye_bms_master/soc/config" {
		t.Errorf("sensor config topic = %s", got)
	}
	if got := a.ConfigTopic(Sensor{Name: "charge_mosfet", Binary: true}); got != "homeassistant/binary_sensor/deye_bms_master/charge_mosfet/config" {
		t.Errorf("binary_sensor config topic = %s", got)
	}
}

func TestAnnouncePayload(t *testing.T) {
	broker := newFakeBroker()
	a := NewAnnouncer(broker, "homeassistant", "deye_bms", testDevice())

	sensors := []Sensor{
		{Name: "soc", Unit: "%", DeviceClass: "battery", StateClass: "measurement"},
		{Name: "charge_mosfet", Binary: true, StateTopic: "ext/charge_mosfet"},
	}
	if err := a.Announce(sensors); err != nil {
		t.Fatal(err)
	}

	raw, ok := broker.published["homeassistant/sensor/deye_bms_master/soc/config"]
	if !ok {
		t.Fatal("soc config not published")
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg["name"] != "Soc" {
		t.Errorf("display name = %v", cfg["name"])
	}
	if cfg["state_topic"] != "deye_bms/soc" {
		t.Errorf("state_topic = %v", cfg["state_topic"])
	}
	if cfg["unique_id"] != "deye_bms_master_soc" {
		t.Errorf("unique_id = %v", cfg["unique_id"])
	}
	if cfg["availability_topic"] != "deye_bms/status" {
		t.Errorf("availability_topic = %v", cfg["availability_topic"])
	}
	if cfg["unit_of_measurement"] != "%" || cfg["device_class"] != "battery" {
		t.Errorf("metadata fields missing: %v", cfg)
	}
	if _, present := cfg["icon"]; present {
		t.Error("unset icon must be absent from the document")
	}

	raw, ok = broker.published["homeassistant/binary_sensor/deye_bms_master/charge_mosfet/config"]
	if !ok {
		t.Fatal("binary sensor config not published")
	}
	var bin map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &bin); err != nil {
		t.Fatal(err)
	}
	if bin["payload_on"] != "1" || bin["payload_off"] != "0" {
		t.Errorf("binary payloads = %v / %v", bin["payload_on"], bin["payload_off"])
	}
	if bin["state_topic"] != "deye_bms/ext/charge_mosfet" {
		t.Errorf("relative state topic override = %v", bin["state_topic"])
	}

	// availability goes out last
	if broker.order[len(broker.order)-1] != "deye_bms/status" {
		t.Errorf("availability must be published after the schema, order=%v", broker.order)
	}
	if broker.published["deye_bms/status"] != "online" {
		t.Errorf("availability payload = %s", broker.published["deye_bms/status"])
	}
}

// Identity stability: repeated announces with identical inputs produce the
// same topic set and unique ids.
func TestAnnounceDeterministic(t *testing.T) {
	sensors := []Sensor{
		{Name: "soc", Unit: "%"},
		{Name: "voltage", Unit: "V", Precision: 2},
	}

	b1 := newFakeBroker()
	b2 := newFakeBroker()
	a1 := NewAnnouncer(b1, "homeassistant", "deye_bms", testDevice())
	a2 := NewAnnouncer(b2, "homeassistant", "deye_bms", testDevice())

	if err := a1.Announce(sensors); err != nil {
		t.Fatal(err)
	}
	if err := a2.Announce(sensors); err != nil {
		t.Fatal(err)
	}

	if len(b1.published) != len(b2.published) {
		t.Fatalf("topic sets differ: %d vs %d", len(b1.published), len(b2.published))
	}
	for topic, payload := range b1.published {
		if b2.published[topic] != payload {
			t.Errorf("payload for %s differs between runs", topic)
		}
	}
}

func TestTitleCase(t *testing.T) {
	cases := map[string]string{
		"soc":              "Soc",
		"battery_voltage":  "Battery Voltage",
		"pv1_power":        "Pv1 Power",
		"cell_volt_max":    "Cell Volt Max",
		"charge_current_a": "Charge Current A",
	}
	for in, want := range cases {
		if got := titleCase(in); got != want {
			t.Errorf("titleCase(%q) = %q, want %q", in, got, want)
		}
	}
}
