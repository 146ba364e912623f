// Package discovery emits Home Assistant MQTT Discovery metadata for the
// sensors a bridge publishes. Every document is retained so consumers that
// attach later still learn the schema.
package discovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"solar-mqtt-bridge/internal/config"
	"solar-mqtt-bridge/internal/logger"
	"solar-mqtt-bridge/internal/mqtt"
)

// Scan groups for polled buses. Fast registers are read every tick,
// normal every third tick, slow every sixth.
const (
	GroupFast   = "fast"
	GroupNormal = "normal"
	GroupSlow   = "slow"
)

// Sensor describes one sensor a bridge exposes. The zero value of the
// optional fields means "absent from the discovery document".
type Sensor struct {
	// Name is the stable snake_case identifier, unique within a bridge.
	Name string
	// DisplayName overrides the title-cased Name in the consumer UI.
	DisplayName string
	// StateTopic is relative to the bridge topic prefix; defaults to Name.
	StateTopic string

	Unit        string
	DeviceClass string
	StateClass  string
	Icon        string
	// Precision is the suggested display precision; 0 means unset.
	Precision int

	// Group assigns a polled register to a scan cadence.
	Group string

	// LegacyID overrides the derived unique id to preserve the entity
	// history of a predecessor integration.
	LegacyID string

	// Binary marks an on/off entity announced as binary_sensor with
	// "1"/"0" payloads.
	Binary bool
}

// deviceInfo groups all sensors of one bridge under one consumer device.
type deviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

type sensorConfig struct {
	Name                string     `json:"name"`
	StateTopic          string     `json:"state_topic"`
	UniqueID            string     `json:"unique_id"`
	AvailabilityTopic   string     `json:"availability_topic"`
	PayloadAvailable    string     `json:"payload_available"`
	PayloadNotAvailable string     `json:"payload_not_available"`
	Device              deviceInfo `json:"device"`

	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	Icon              string `json:"icon,omitempty"`
	Precision         int    `json:"suggested_display_precision,omitempty"`

	PayloadOn  string `json:"payload_on,omitempty"`
	PayloadOff string `json:"payload_off,omitempty"`
}

// Announcer publishes retained discovery documents for one bridge.
type Announcer struct {
	broker          mqtt.Broker
	discoveryPrefix string
	statePrefix     string
	availTopic      string
	device          config.DeviceConfig

	// Solarman-compatible identity, applied when prefix and serial are
	// both set and the sensor name has a mapping.
	solarmanPrefix string
	solarmanSerial string
	solarmanNames  map[string]string
}

// NewAnnouncer builds an announcer for the bridge rooted at statePrefix.
func NewAnnouncer(broker mqtt.Broker, discoveryPrefix, statePrefix string, device config.DeviceConfig) *Announcer {
	return &Announcer{
		broker:          broker,
		discoveryPrefix: discoveryPrefix,
		statePrefix:     statePrefix,
		availTopic:      statePrefix + "/status",
		device:          device,
	}
}

// WithSolarmanIdentity enables Solarman-compatible unique ids. names maps
// sensor names to the display names the predecessor integration used.
func (a *Announcer) WithSolarmanIdentity(prefix, serial string, names map[string]string) *Announcer {
	a.solarmanPrefix = prefix
	a.solarmanSerial = serial
	a.solarmanNames = names
	return a
}

// UniqueID derives the stable identity of a sensor. Precedence: explicit
// legacy id, then Solarman format, then device_id_name. The result never
// changes for a given configuration.
func (a *Announcer) UniqueID(s Sensor) string {
	if s.LegacyID != "" {
		return s.LegacyID
	}
	if a.solarmanPrefix != "" && a.solarmanSerial != "" {
		if mapped, ok := a.solarmanNames[s.Name]; ok {
			return fmt.Sprintf("%s_%s_%s", a.solarmanPrefix, a.solarmanSerial, mapped)
		}
	}
	return a.device.ID + "_" + s.Name
}

// ConfigTopic returns the retained discovery topic for a sensor.
func (a *Announcer) ConfigTopic(s Sensor) string {
	kind := "sensor"
	if s.Binary {
		kind = "binary_sensor"
	}
	return fmt.Sprintf("%s/%s/%s/%s/config", a.discoveryPrefix, kind, a.device.ID, s.Name)
}

// AvailabilityTopic returns the retained online/offline topic referenced
// from every discovery document.
func (a *Announcer) AvailabilityTopic() string {
	return a.availTopic
}

func (a *Announcer) configPayload(s Sensor) ([]byte, error) {
	stateTopic := s.StateTopic
	if stateTopic == "" {
		stateTopic = s.Name
	}
	displayName := s.DisplayName
	if displayName == "" {
		displayName = titleCase(s.Name)
	}

	cfg := sensorConfig{
		Name:                displayName,
		StateTopic:          a.statePrefix + "/" + stateTopic,
		UniqueID:            a.UniqueID(s),
		AvailabilityTopic:   a.availTopic,
		PayloadAvailable:    "online",
		PayloadNotAvailable: "offline",
		Device: deviceInfo{
			Identifiers:  []string{a.device.ID},
			Name:         a.device.Name,
			Manufacturer: a.device.Manufacturer,
			Model:        a.device.Model,
		},
		UnitOfMeasurement: s.Unit,
		DeviceClass:       s.DeviceClass,
		StateClass:        s.StateClass,
		Icon:              s.Icon,
		Precision:         s.Precision,
	}
	if s.Binary {
		cfg.PayloadOn = "1"
		cfg.PayloadOff = "0"
	}
	return json.Marshal(cfg)
}

// Announce publishes one retained discovery document per sensor, then the
// retained online availability. Called at startup and after every broker
// reconnect.
func (a *Announcer) Announce(sensors []Sensor) error {
	if !a.broker.IsConnected() {
		return fmt.Errorf("discovery announce skipped: broker not connected")
	}

	for _, s := range sensors {
		payload, err := a.configPayload(s)
		if err != nil {
			return fmt.Errorf("cannot encode discovery config for %s: %w", s.Name, err)
		}
		a.broker.Publish(a.ConfigTopic(s), 0, true, string(payload))
	}

	a.broker.Publish(a.availTopic, 0, true, "online")
	logger.LogInfo("Published discovery config for %d sensors on device %s", len(sensors), a.device.ID)
	return nil
}

// titleCase turns a snake_case sensor name into a display name.
func titleCase(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
