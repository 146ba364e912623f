// deye-modbus2mqtt scans a Deye SG04LP3 hybrid inverter over Modbus-TCP
// and publishes its registers to MQTT with Home Assistant auto-discovery.
// Unique ids can mirror the Solarman integration so entity history
// carries over.
package main

import (
	"context"
	"os"
	"time"

	"solar-mqtt-bridge/internal/bridge"
	"solar-mqtt-bridge/internal/config"
	"solar-mqtt-bridge/internal/deye"
	"solar-mqtt-bridge/internal/discovery"
	"solar-mqtt-bridge/internal/logger"
	"solar-mqtt-bridge/internal/metrics"
	"solar-mqtt-bridge/internal/modbus"
	"solar-mqtt-bridge/internal/mqtt"
)

// full scan ticks with zero readable registers before the TCP transport
// is reconnected
const maxFailedTicks = 3

type modbusBridge struct {
	cfg       *config.Config
	client    *mqtt.Client
	pub       *mqtt.Publisher
	announcer *discovery.Announcer
	sup       *bridge.Supervisor
	m         *metrics.Metrics

	registers []modbus.Register
	groupOf   map[string]string
	tick      uint64
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logger.LogError("Configuration error: %v", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.File)
	logger.LogStartup("deye-modbus2mqtt starting: inverter=%s:%d slave=%d MQTT=%s:%d",
		cfg.Modbus.Host, cfg.Modbus.Port, cfg.Modbus.SlaveID, cfg.MQTT.Host, cfg.MQTT.Port)

	m := metrics.New("modbus")
	metrics.Serve(cfg.Metrics.ListenAddr)

	ctx, cancel := bridge.SignalContext()
	defer cancel()

	availTopic := cfg.Modbus.TopicPrefix + "/status"
	client := mqtt.NewClient(&cfg.MQTT, "deye-modbus2mqtt", availTopic)
	if err := client.Connect(ctx); err != nil {
		logger.LogError("MQTT connect failed: %v", err)
		os.Exit(1)
	}
	defer client.Close()

	announcer := discovery.NewAnnouncer(client, cfg.HomeAssistant.DiscoveryPrefix, cfg.Modbus.TopicPrefix, cfg.Modbus.Device)
	if cfg.Modbus.SolarmanPrefix != "" && cfg.Modbus.SolarmanSerial != "" {
		announcer.WithSolarmanIdentity(cfg.Modbus.SolarmanPrefix, cfg.Modbus.SolarmanSerial, deye.SolarmanNames())
		logger.LogInfo("Solarman-compatible unique ids enabled (serial %s)", cfg.Modbus.SolarmanSerial)
	}

	pub := mqtt.NewPublisher(client, cfg.Modbus.TopicPrefix, m)
	staleTimeout := time.Duration(3*cfg.Modbus.PollInterval) * time.Second

	groupOf := make(map[string]string)
	for _, d := range deye.Registers() {
		groupOf[d.Name] = d.Group
	}

	b := &modbusBridge{
		cfg:       cfg,
		client:    client,
		pub:       pub,
		announcer: announcer,
		sup:       bridge.NewSupervisor(pub, staleTimeout, m),
		m:         m,
		registers: deye.ModbusRegisters(),
		groupOf:   groupOf,
	}

	if err := announcer.Announce(deye.Sensors()); err != nil {
		logger.LogWarn("Initial discovery announce failed: %v", err)
	}

	b.run(ctx)
	logger.LogInfo("deye-modbus2mqtt stopped")
}

func (b *modbusBridge) run(ctx context.Context) {
	for ctx.Err() == nil {
		poller := modbus.NewPoller(b.cfg.Modbus.Host, b.cfg.Modbus.Port, b.cfg.Modbus.SlaveID)
		err := bridge.RetryOpen(ctx, "Modbus inverter", bridge.InitRetryInterval, poller.Connect)
		if err != nil {
			return
		}
		logger.LogInfo("Connected to inverter at %s:%d", b.cfg.Modbus.Host, b.cfg.Modbus.Port)

		b.sup.Start()
		b.scanLoop(ctx, poller)
		poller.Close()
	}
}

func (b *modbusBridge) scanLoop(ctx context.Context, poller *modbus.Poller) {
	interval := time.Duration(b.cfg.Modbus.PollInterval) * time.Second
	scan := time.NewTicker(interval)
	defer scan.Stop()
	housekeeping := time.NewTicker(time.Second)
	defer housekeeping.Stop()

	failedTicks := 0
	b.scanOnce(poller, &failedTicks)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.client.ConnectEvents():
			if err := b.announcer.Announce(deye.Sensors()); err != nil {
				logger.LogWarn("Discovery re-announce failed: %v", err)
			}
		case <-housekeeping.C:
			b.sup.Tick()
		case <-scan.C:
			b.scanOnce(poller, &failedTicks)
			if failedTicks >= maxFailedTicks {
				logger.LogError("Inverter unreachable for %d scans, reconnecting", failedTicks)
				b.m.BusErrors.Inc()
				return
			}
		}
	}
}

func (b *modbusBridge) scanOnce(poller *modbus.Poller, failedTicks *int) {
	groups := modbus.GroupsForTick(b.tick)
	b.tick++

	values := poller.Poll(b.registers, groups)
	if len(values) == 0 {
		*failedTicks++
		b.sup.Tick()
		return
	}
	*failedTicks = 0
	b.m.FramesTotal.Inc()
	b.sup.FrameReceived()

	for name, value := range values {
		b.pub.Publish(name, value, false, deye.MinInterval(b.groupOf[name]))
	}
	b.sup.Tick()
}
