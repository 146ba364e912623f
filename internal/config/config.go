package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration shared by the three bridge daemons.
// Each daemon reads its own bus section; the MQTT and Home Assistant
// sections are common. Values come from environment variables first, then
// an optional YAML file overlays them.
type Config struct {
	MQTT          MQTTConfig    `yaml:"mqtt"`
	HomeAssistant HAConfig      `yaml:"homeassistant"`
	CAN           CANConfig     `yaml:"can"`
	RS485         RS485Config   `yaml:"rs485"`
	Modbus        ModbusConfig  `yaml:"modbus"`
	Logging       LoggingConfig `yaml:"logging"`
	Metrics       MetricsConfig `yaml:"metrics"`
}

// MQTTConfig contains broker connection settings
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HAConfig contains Home Assistant MQTT Discovery settings
type HAConfig struct {
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// DeviceConfig identifies one logical device in discovery documents.
// The ID must stay stable across releases; entity history hangs off it.
type DeviceConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Model        string `yaml:"model"`
	Manufacturer string `yaml:"manufacturer"`
}

// CANConfig contains the CAN bridge settings
type CANConfig struct {
	Interface    string       `yaml:"interface"`
	TopicPrefix  string       `yaml:"topic_prefix"`
	StaleTimeout int          `yaml:"stale_timeout"` // seconds without a valid frame before offline
	Device       DeviceConfig `yaml:"device"`
}

// RS485Config contains the RS485 bridge settings
type RS485Config struct {
	Port         string       `yaml:"port"`
	Baud         int          `yaml:"baud"`
	StackAddress int          `yaml:"stack_address"`
	NumBatteries int          `yaml:"num_batteries"`
	PollInterval int          `yaml:"poll_interval"` // seconds between full stack reads
	TopicPrefix  string       `yaml:"topic_prefix"`
	Device       DeviceConfig `yaml:"device"`
}

// ModbusConfig contains the Modbus-TCP bridge settings
type ModbusConfig struct {
	Host         string       `yaml:"host"`
	Port         int          `yaml:"port"`
	SlaveID      int          `yaml:"slave_id"`
	PollInterval int          `yaml:"poll_interval"` // fast-group tick, seconds
	TopicPrefix  string       `yaml:"topic_prefix"`
	Device       DeviceConfig `yaml:"device"`
	// Solarman-compatible unique_id generation for preserving entity
	// history from the predecessor integration. Applied only when both
	// values are set.
	SolarmanPrefix string `yaml:"solarman_prefix"`
	SolarmanSerial string `yaml:"solarman_serial"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig contains the prometheus listener settings.
// An empty address disables the listener.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load builds the configuration from environment variables and, when
// configPath (or CONFIG_FILE) names a readable YAML file, overlays it.
func Load(configPath string) (*Config, error) {
	cfg := fromEnv()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_FILE")
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read configuration file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing configuration from %s: %w", configPath, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Host:     envStr("MQTT_HOST", "localhost"),
			Port:     envInt("MQTT_PORT", 1883),
			Username: os.Getenv("MQTT_USER"),
			Password: os.Getenv("MQTT_PASS"),
		},
		HomeAssistant: HAConfig{
			DiscoveryPrefix: envStr("DISCOVERY_PREFIX", "homeassistant"),
		},
		CAN: CANConfig{
			Interface:    envStr("CAN_IFACE", "can0"),
			TopicPrefix:  envStr("CAN_TOPIC_PREFIX", "deye_bms"),
			StaleTimeout: envInt("CAN_STALE_TIMEOUT", 30),
			Device: DeviceConfig{
				ID:           envStr("CAN_DEVICE_ID", "deye_bms_master"),
				Name:         envStr("CAN_DEVICE_NAME", "Deye BMS (CAN)"),
				Model:        envStr("CAN_DEVICE_MODEL", "Pylontech-profile CAN"),
				Manufacturer: envStr("CAN_DEVICE_MANUFACTURER", "Shoto"),
			},
		},
		RS485: RS485Config{
			Port:         envStr("RS485_PORT", "/dev/ttyUSB0"),
			Baud:         envInt("RS485_BAUD", 9600),
			StackAddress: envInt("RS485_ADDR", 2),
			NumBatteries: envInt("NUM_BATTERIES", 3),
			PollInterval: envInt("RS485_POLL_INTERVAL", 30),
			TopicPrefix:  envStr("RS485_TOPIC_PREFIX", "deye_bms/rs485"),
			Device: DeviceConfig{
				ID:           envStr("RS485_DEVICE_ID", "deye_bms_rs485"),
				Name:         envStr("RS485_DEVICE_NAME", "Deye BMS (RS485)"),
				Model:        envStr("RS485_DEVICE_MODEL", "Pylontech RS485 Protocol"),
				Manufacturer: envStr("RS485_DEVICE_MANUFACTURER", "Shoto"),
			},
		},
		Modbus: ModbusConfig{
			Host:         envStr("MODBUS_HOST", "localhost"),
			Port:         envInt("MODBUS_PORT", 502),
			SlaveID:      envInt("MODBUS_SLAVE", 1),
			PollInterval: envInt("MODBUS_POLL_INTERVAL", 10),
			TopicPrefix:  envStr("MODBUS_TOPIC_PREFIX", "deye_inverter"),
			Device: DeviceConfig{
				ID:           envStr("MODBUS_DEVICE_ID", "deye_inverter"),
				Name:         envStr("MODBUS_DEVICE_NAME", "Deye Inverter"),
				Model:        envStr("MODBUS_DEVICE_MODEL", "SUN-12K-SG04LP3-EU"),
				Manufacturer: envStr("MODBUS_DEVICE_MANUFACTURER", "Deye"),
			},
			SolarmanPrefix: os.Getenv("SOLARMAN_PREFIX"),
			SolarmanSerial: os.Getenv("SOLARMAN_SERIAL"),
		},
		Logging: LoggingConfig{
			Level: envStr("LOG_LEVEL", "info"),
			File:  os.Getenv("LOG_FILE"),
		},
		Metrics: MetricsConfig{
			ListenAddr: os.Getenv("METRICS_ADDR"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Validate checks if the configuration is usable by any of the daemons
func (c *Config) Validate() error {
	if c.MQTT.Host == "" {
		return fmt.Errorf("MQTT host is not specified")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("MQTT port %d out of range", c.MQTT.Port)
	}
	if c.HomeAssistant.DiscoveryPrefix == "" {
		return fmt.Errorf("discovery prefix is not specified")
	}
	if c.CAN.StaleTimeout <= 0 {
		return fmt.Errorf("CAN stale timeout must be positive")
	}
	if c.RS485.NumBatteries <= 0 {
		return fmt.Errorf("number of batteries must be positive")
	}
	if c.RS485.PollInterval <= 0 {
		return fmt.Errorf("RS485 poll interval must be positive")
	}
	if c.Modbus.SlaveID <= 0 || c.Modbus.SlaveID > 247 {
		return fmt.Errorf("Modbus slave ID %d out of range", c.Modbus.SlaveID)
	}
	if c.Modbus.PollInterval <= 0 {
		return fmt.Errorf("Modbus poll interval must be positive")
	}
	return nil
}
