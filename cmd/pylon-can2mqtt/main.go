// pylon-can2mqtt bridges a Pylontech-profile BMS on a CAN bus to MQTT
// with Home Assistant auto-discovery.
package main

import (
	"context"
	"math"
	"os"
	"time"

	"solar-mqtt-bridge/internal/bridge"
	"solar-mqtt-bridge/internal/canbus"
	"solar-mqtt-bridge/internal/config"
	"solar-mqtt-bridge/internal/discovery"
	"solar-mqtt-bridge/internal/logger"
	"solar-mqtt-bridge/internal/metrics"
	"solar-mqtt-bridge/internal/mqtt"
)

type canBridge struct {
	cfg       *config.Config
	client    *mqtt.Client
	pub       *mqtt.Publisher
	announcer *discovery.Announcer
	sup       *bridge.Supervisor
	m         *metrics.Metrics
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logger.LogError("Configuration error: %v", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.File)
	logger.LogStartup("pylon-can2mqtt starting: CAN=%s MQTT=%s:%d", cfg.CAN.Interface, cfg.MQTT.Host, cfg.MQTT.Port)

	m := metrics.New("can")
	metrics.Serve(cfg.Metrics.ListenAddr)

	ctx, cancel := bridge.SignalContext()
	defer cancel()

	availTopic := cfg.CAN.TopicPrefix + "/status"
	client := mqtt.NewClient(&cfg.MQTT, "pylon-can2mqtt", availTopic)
	if err := client.Connect(ctx); err != nil {
		logger.LogError("MQTT connect failed: %v", err)
		os.Exit(1)
	}
	defer client.Close()

	pub := mqtt.NewPublisher(client, cfg.CAN.TopicPrefix, m)
	b := &canBridge{
		cfg:       cfg,
		client:    client,
		pub:       pub,
		announcer: discovery.NewAnnouncer(client, cfg.HomeAssistant.DiscoveryPrefix, cfg.CAN.TopicPrefix, cfg.CAN.Device),
		sup:       bridge.NewSupervisor(pub, time.Duration(cfg.CAN.StaleTimeout)*time.Second, m),
		m:         m,
	}

	if err := b.announcer.Announce(canbus.Sensors()); err != nil {
		logger.LogWarn("Initial discovery announce failed: %v", err)
	}

	b.run(ctx)
	logger.LogInfo("pylon-can2mqtt stopped")
}

// run owns the bus handle: open with retry, receive until an I/O error
// forces a reopen, repeat until shutdown.
func (b *canBridge) run(ctx context.Context) {
	for ctx.Err() == nil {
		var sock *canbus.Socket
		err := bridge.RetryOpen(ctx, "CAN interface "+b.cfg.CAN.Interface, bridge.InitRetryInterval, func() error {
			var openErr error
			sock, openErr = canbus.OpenSocket(b.cfg.CAN.Interface)
			return openErr
		})
		if err != nil {
			return
		}
		logger.LogInfo("CAN interface %s open", b.cfg.CAN.Interface)
		b.sup.Start()

		b.receiveLoop(ctx, sock)
		sock.Close()
	}
}

func (b *canBridge) receiveLoop(ctx context.Context, sock *canbus.Socket) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.client.ConnectEvents():
			// Broker restarts can clear retained discovery
			if err := b.announcer.Announce(canbus.Sensors()); err != nil {
				logger.LogWarn("Discovery re-announce failed: %v", err)
			}
		default:
		}

		frame, err := sock.Receive()
		if err != nil {
			logger.LogError("CAN bus error: %v", err)
			b.m.BusErrors.Inc()
			return
		}
		if frame == nil {
			// quiet bus; staleness keeps accruing
			b.sup.Tick()
			continue
		}

		decoded := canbus.Decode(frame)
		if decoded == nil {
			if frame.ID == canbus.IDLimits || frame.ID == canbus.IDSOC || frame.ID == canbus.IDExtremes {
				b.m.RejectedFrames.Inc()
			}
			b.sup.Tick()
			continue
		}

		b.m.FramesTotal.Inc()
		b.sup.FrameReceived()
		b.publish(decoded)
		b.sup.Tick()
	}
}

func (b *canBridge) publish(decoded interface{}) {
	switch v := decoded.(type) {
	case *canbus.Limits:
		b.pub.Publish("limit/v_charge_max", round1(v.ChargeVoltageMax), true, canbus.MinIntervalLimits)
		b.pub.Publish("limit/v_low", round1(v.LowVoltageLim), true, canbus.MinIntervalLimits)
		b.pub.Publish("limit/i_charge", round1(v.ChargeCurrentLim), false, canbus.MinIntervalLimits)
		b.pub.Publish("limit/i_discharge", round1(v.DischargeCurrentLim), false, canbus.MinIntervalLimits)

	case *canbus.StateOfCharge:
		b.pub.Publish("soc", v.SOC, false, canbus.MinIntervalSOC)
		b.pub.Publish("soh", v.SOH, true, canbus.MinIntervalSOC)

	case *canbus.Flags:
		b.pub.Publish("flags", v.String(), false, mqtt.DefaultMinInterval)

	case *canbus.Extremes:
		b.pub.PublishHyst("ext/cell_v_min", round3(v.CellVMin), false, mqtt.DefaultMinInterval, canbus.VoltHyst)
		b.pub.PublishHyst("ext/cell_v_max", round3(v.CellVMax), false, mqtt.DefaultMinInterval, canbus.VoltHyst)
		b.pub.PublishHyst("ext/cell_v_delta", round3(v.CellDelta), false, canbus.MinIntervalDelta, canbus.DeltaHyst)
		b.pub.PublishHyst("ext/temp_min", round1(v.TempMin), false, canbus.MinIntervalDelta, canbus.TempHyst)
		b.pub.PublishHyst("ext/temp_max", round1(v.TempMax), false, canbus.MinIntervalDelta, canbus.TempHyst)
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
