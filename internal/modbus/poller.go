package modbus

import (
	"encoding/binary"
	"fmt"
	"time"

	mb "github.com/goburrow/modbus"

	"solar-mqtt-bridge/internal/discovery"
	"solar-mqtt-bridge/internal/logger"
)

// Poller owns the Modbus-TCP transport towards one inverter. Not safe
// for concurrent use; one polling goroutine drives it.
type Poller struct {
	handler *mb.TCPClientHandler
	client  mb.Client
}

// NewPoller prepares a poller for the inverter at host:port. Connect
// must be called before the first read.
func NewPoller(host string, port, slaveID int) *Poller {
	handler := mb.NewTCPClientHandler(fmt.Sprintf("%s:%d", host, port))
	handler.Timeout = 5 * time.Second
	handler.SlaveId = byte(slaveID)
	return &Poller{
		handler: handler,
		client:  mb.NewClient(handler),
	}
}

// Connect opens the TCP transport.
func (p *Poller) Connect() error {
	if err := p.handler.Connect(); err != nil {
		return fmt.Errorf("cannot connect to Modbus device at %s: %w", p.handler.Address, err)
	}
	return nil
}

// Close tears the transport down.
func (p *Poller) Close() error {
	return p.handler.Close()
}

// ReadRegister reads and decodes one register.
func (p *Poller) ReadRegister(reg Register) (float64, error) {
	count := reg.Encoding.WordCount()
	raw, err := p.client.ReadHoldingRegisters(reg.Address, count)
	if err != nil {
		return 0, fmt.Errorf("read of register %s (%d) failed: %w", reg.Name, reg.Address, err)
	}
	if len(raw) < int(count)*2 {
		return 0, fmt.Errorf("short reply for register %s: %d bytes", reg.Name, len(raw))
	}
	words := make([]uint16, count)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	return reg.Value(words)
}

// GroupsForTick returns which scan groups are due on tick n: fast every
// tick, normal every third, slow every sixth.
func GroupsForTick(n uint64) []string {
	groups := []string{discovery.GroupFast}
	if n%3 == 0 {
		groups = append(groups, discovery.GroupNormal)
	}
	if n%6 == 0 {
		groups = append(groups, discovery.GroupSlow)
	}
	return groups
}

// Poll reads every register whose group is due. Failures are
// per-register: a failed read is logged and left out of the result, the
// remaining registers still report.
func (p *Poller) Poll(registers []Register, groups []string) map[string]float64 {
	due := make(map[string]bool, len(groups))
	for _, g := range groups {
		due[g] = true
	}

	values := make(map[string]float64)
	for _, reg := range registers {
		if !due[reg.Group] {
			continue
		}
		v, err := p.ReadRegister(reg)
		if err != nil {
			logger.LogDebug("Skipping register %s: %v", reg.Name, err)
			continue
		}
		values[reg.Name] = v
	}
	return values
}
