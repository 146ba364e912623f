package mqtt

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"solar-mqtt-bridge/internal/config"
	"solar-mqtt-bridge/internal/logger"
)

// Client wraps the paho client together with the stream of connect events.
// The library's on-connect callback is turned into a channel so the bridge
// loop can re-announce discovery in ordinary message flow instead of from
// callback context.
type Client struct {
	mqtt.Client
	availTopic string

	// one token per (re)connect; buffered so the callback never blocks
	connects chan struct{}
}

// NewClient builds a broker client with the last will installed on the
// availability topic and automatic reconnection between 1 s and 60 s.
func NewClient(cfg *config.MQTTConfig, clientID, availTopic string) *Client {
	c := &Client{
		availTopic: availTopic,
		connects:   make(chan struct{}, 4),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(1 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWill(availTopic, "offline", 0, true)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.LogInfo("Connected to MQTT broker %s:%d", cfg.Host, cfg.Port)
		select {
		case c.connects <- struct{}{}:
		default:
		}
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.LogWarn("MQTT disconnected (%v), will auto-reconnect", err)
	})

	c.Client = mqtt.NewClient(opts)
	return c
}

// ConnectEvents delivers one token per successful (re)connection.
func (c *Client) ConnectEvents() <-chan struct{} {
	return c.connects
}

// Connect blocks until the first connection is established or ctx ends.
func (c *Client) Connect(ctx context.Context) error {
	token := c.Client.Connect()
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("MQTT connection cancelled: %w", ctx.Err())
	case <-done:
		if token.Error() != nil {
			return fmt.Errorf("MQTT connection failed: %w", token.Error())
		}
	}
	return nil
}

// Close publishes a retained offline availability, gives the broker a
// short flush window and disconnects.
func (c *Client) Close() {
	if c.Client.IsConnected() {
		c.Client.Publish(c.availTopic, 0, true, "offline")
		time.Sleep(500 * time.Millisecond)
		c.Client.Disconnect(250)
	}
}
