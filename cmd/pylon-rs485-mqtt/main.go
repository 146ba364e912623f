// pylon-rs485-mqtt polls a parallel Pylontech-protocol battery stack
// over RS485 and publishes per-battery and stack roll-up topics to MQTT
// with Home Assistant auto-discovery.
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"solar-mqtt-bridge/internal/bridge"
	"solar-mqtt-bridge/internal/config"
	"solar-mqtt-bridge/internal/discovery"
	"solar-mqtt-bridge/internal/logger"
	"solar-mqtt-bridge/internal/metrics"
	"solar-mqtt-bridge/internal/mqtt"
	"solar-mqtt-bridge/internal/pylontech"
)

const (
	cellsPerBattery = 16
	tempsPerBattery = 4

	// full scan cycles with zero successful reads before the serial
	// handle is reopened
	maxFailedCycles = 3
)

type rs485Bridge struct {
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
	logger.LogStartup("pylon-rs485-mqtt starting: port=%s batteries=%d MQTT=%s:%d",
		cfg.RS485.Port, cfg.RS485.NumBatteries, cfg.MQTT.Host, cfg.MQTT.Port)

	m := metrics.New("rs485")
	metrics.Serve(cfg.Metrics.ListenAddr)

	ctx, cancel := bridge.SignalContext()
	defer cancel()

	availTopic := cfg.RS485.TopicPrefix + "/status"
	client := mqtt.NewClient(&cfg.MQTT, "pylon-rs485-mqtt", availTopic)
	if err := client.Connect(ctx); err != nil {
		logger.LogError("MQTT connect failed: %v", err)
		os.Exit(1)
	}
	defer client.Close()

	pub := mqtt.NewPublisher(client, cfg.RS485.TopicPrefix, m)
	staleTimeout := time.Duration(3*cfg.RS485.PollInterval) * time.Second
	b := &rs485Bridge{
		cfg:       cfg,
		client:    client,
		pub:       pub,
		announcer: discovery.NewAnnouncer(client, cfg.HomeAssistant.DiscoveryPrefix, cfg.RS485.TopicPrefix, cfg.RS485.Device),
		sup:       bridge.NewSupervisor(pub, staleTimeout, m),
		m:         m,
	}

	if err := b.announce(); err != nil {
		logger.LogWarn("Initial discovery announce failed: %v", err)
	}

	b.run(ctx)
	logger.LogInfo("pylon-rs485-mqtt stopped")
}

func (b *rs485Bridge) announce() error {
	return b.announcer.Announce(pylontech.Sensors(b.cfg.RS485.NumBatteries, cellsPerBattery, tempsPerBattery))
}

func (b *rs485Bridge) run(ctx context.Context) {
	for ctx.Err() == nil {
		var poller *pylontech.Poller
		err := bridge.RetryOpen(ctx, "RS485 port "+b.cfg.RS485.Port, bridge.InitRetryInterval, func() error {
			var openErr error
			poller, openErr = pylontech.OpenPoller(b.cfg.RS485.Port, b.cfg.RS485.Baud, b.cfg.RS485.StackAddress)
			return openErr
		})
		if err != nil {
			return
		}
		logger.LogInfo("RS485 port %s open", b.cfg.RS485.Port)

		info := poller.ReadDeviceInfo(ctx)
		if info.Manufacturer != "" || info.Firmware != "" || info.Serial != "" {
			logger.LogInfo("Battery stack: manufacturer=%q firmware=%q serial=%q",
				info.Manufacturer, info.Firmware, info.Serial)
		}

		b.sup.Start()
		b.pollLoop(ctx, poller)
		poller.Close()
	}
}

// pollLoop scans the stack once per poll interval until shutdown or too
// many consecutive dead cycles.
func (b *rs485Bridge) pollLoop(ctx context.Context, poller *pylontech.Poller) {
	interval := time.Duration(b.cfg.RS485.PollInterval) * time.Second
	scan := time.NewTicker(interval)
	defer scan.Stop()
	housekeeping := time.NewTicker(time.Second)
	defer housekeeping.Stop()

	failedCycles := 0
	if !b.scanOnce(ctx, poller, &failedCycles) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.client.ConnectEvents():
			if err := b.announce(); err != nil {
				logger.LogWarn("Discovery re-announce failed: %v", err)
			}
		case <-housekeeping.C:
			b.sup.Tick()
		case <-scan.C:
			if !b.scanOnce(ctx, poller, &failedCycles) {
				return
			}
			if failedCycles >= maxFailedCycles {
				logger.LogError("No battery answered for %d cycles, reopening %s", failedCycles, b.cfg.RS485.Port)
				b.m.BusErrors.Inc()
				return
			}
		}
	}
}

// scanOnce reads every battery once and publishes the results. Returns
// false on a serial I/O failure, which forces an immediate port reopen;
// timeouts only count towards staleness.
func (b *rs485Bridge) scanOnce(ctx context.Context, poller *pylontech.Poller, failedCycles *int) bool {
	modules := make([]pylontech.ModuleReading, 0, b.cfg.RS485.NumBatteries)

	for batt := 0; batt < b.cfg.RS485.NumBatteries; batt++ {
		analog, err := poller.ReadAnalog(ctx, batt)
		if err != nil {
			if fatal := b.readFailed(batt, "analog", err); fatal {
				return false
			}
			continue
		}
		if len(analog.Cells) == 0 {
			logger.LogWarn("Battery %d returned no cell data", batt)
			b.m.RejectedFrames.Inc()
			continue
		}
		b.m.FramesTotal.Inc()

		alarm, err := poller.ReadAlarm(ctx, batt)
		if err != nil {
			if fatal := b.readFailed(batt, "alarm", err); fatal {
				return false
			}
			alarm = nil
		} else {
			b.m.FramesTotal.Inc()
		}

		modules = append(modules, pylontech.ModuleReading{ID: batt, Analog: analog, Alarm: alarm})
	}

	if len(modules) == 0 {
		*failedCycles++
		b.sup.Tick()
		return true
	}
	*failedCycles = 0
	b.sup.FrameReceived()

	for _, mod := range modules {
		b.publishBattery(mod)
	}
	if stack := pylontech.Aggregate(modules); stack != nil {
		b.publishStack(stack)
	}
	b.sup.Tick()
	return true
}

// readFailed logs one failed battery read and reports whether the error
// is fatal for the serial handle. Timeouts, checksum failures and error
// return codes are tolerated; only serial I/O failures force a reopen.
func (b *rs485Bridge) readFailed(batt int, what string, err error) bool {
	if errors.Is(err, pylontech.ErrBus) {
		logger.LogError("Battery %d %s read failed: %v, reopening %s", batt, what, err, b.cfg.RS485.Port)
		b.m.BusErrors.Inc()
		return true
	}
	logger.LogWarn("Battery %d %s read failed: %v", batt, what, err)
	b.m.DecodeErrors.Inc()
	return false
}

func (b *rs485Bridge) publishBattery(mod pylontech.ModuleReading) {
	topic := fmt.Sprintf("battery%d", mod.ID)
	a := mod.Analog

	b.pub.PublishHyst(topic+"/cell_min", round3(a.CellMin()), false, pylontech.CellMinInterval, pylontech.VoltHyst)
	b.pub.PublishHyst(topic+"/cell_max", round3(a.CellMax()), false, pylontech.CellMinInterval, pylontech.VoltHyst)
	b.pub.Publish(topic+"/cell_delta_mv", round1(a.CellDeltaMV()), false, pylontech.CellMinInterval)
	b.pub.Publish(topic+"/voltage", round2(a.Voltage()), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/current", round2(a.Current), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/soc", round1(a.SOC()), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/remain_ah", round2(a.RemainAh), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/total_ah", round2(a.TotalAh), true, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/cycles", a.Cycles, true, mqtt.DefaultMinInterval)

	for i, v := range a.Cells {
		b.pub.PublishHyst(fmt.Sprintf("%s/cell%02d", topic, i+1), round3(v), false, pylontech.CellMinInterval, pylontech.VoltHyst)
	}
	for i, t := range a.Temps {
		b.pub.Publish(fmt.Sprintf("%s/temp%d", topic, i+1), round1(t), false, pylontech.CellMinInterval)
	}

	if mod.Alarm == nil {
		return
	}
	al := mod.Alarm
	b.pub.Publish(topic+"/state", al.State(), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/balancing_count", al.BalancingCount(), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/balancing_active", boolPayload(al.BalanceOn), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/balancing_cells", cellList(al.BalancingCells), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/cw_active", boolPayload(al.CWActive), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/cw_cells", cellList(al.CWCells), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/charge_mosfet", boolPayload(al.ChargeMOSFET), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/discharge_mosfet", boolPayload(al.DischargeMOSFET), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/lmcharge_mosfet", boolPayload(al.LimitedChargeMOSFET), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/heater", boolPayload(al.Heater), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/warnings", nameList(al.Warnings), false, mqtt.DefaultMinInterval)
	b.pub.Publish(topic+"/alarms", nameList(al.Alarms), false, mqtt.DefaultMinInterval)
}

func (b *rs485Bridge) publishStack(s *pylontech.StackReading) {
	b.pub.PublishHyst("stack/cell_min", s.CellMin, false, pylontech.CellMinInterval, pylontech.VoltHyst)
	b.pub.PublishHyst("stack/cell_max", s.CellMax, false, pylontech.CellMinInterval, pylontech.VoltHyst)
	b.pub.Publish("stack/cell_delta_mv", s.CellDeltaMV, false, pylontech.CellMinInterval)
	b.pub.Publish("stack/voltage", s.Voltage, false, mqtt.DefaultMinInterval)
	b.pub.Publish("stack/current", s.Current, false, mqtt.DefaultMinInterval)
	if s.HasTemps {
		b.pub.Publish("stack/temp_min", s.TempMin, false, pylontech.CellMinInterval)
		b.pub.Publish("stack/temp_max", s.TempMax, false, pylontech.CellMinInterval)
	}
	b.pub.Publish("stack/balancing_count", s.BalancingCount, false, mqtt.DefaultMinInterval)
	b.pub.Publish("stack/balancing_active", boolPayload(s.BalancingCount > 0), false, mqtt.DefaultMinInterval)
	b.pub.Publish("stack/balancing_cells", nameList(s.BalancingCells), false, mqtt.DefaultMinInterval)
	b.pub.Publish("stack/alarms", nameList(s.Alarms), false, mqtt.DefaultMinInterval)
}

func boolPayload(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// cellList renders 1-based cell indices as a comma list, "none" when empty.
func cellList(cells []int) string {
	if len(cells) == 0 {
		return "none"
	}
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

func nameList(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
