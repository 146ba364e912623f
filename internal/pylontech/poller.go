package pylontech

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"

	"solar-mqtt-bridge/internal/logger"
)

const (
	readTimeout     = 200 * time.Millisecond
	exchangeTimeout = 2 * time.Second
)

// ErrTimeout marks a battery that did not answer within the exchange
// window. Counts towards staleness but does not require a port reopen.
var ErrTimeout = errors.New("timeout waiting for battery response")

// ErrBus marks a serial I/O failure. The port handle is no longer
// trustworthy and must be reopened.
var ErrBus = errors.New("serial I/O failure")

// Poller owns the serial handle towards one battery stack and issues
// request/response exchanges against it. Not safe for concurrent use;
// one polling goroutine drives it.
type Poller struct {
	port serial.Port
	addr int
}

// OpenPoller opens the RS485 serial device at 8N1.
func OpenPoller(device string, baud, addr int) (*Poller, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("cannot open serial port %s: %w", device, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("cannot set read timeout on %s: %w", device, err)
	}
	return &Poller{port: port, addr: addr}, nil
}

// Close releases the serial handle.
func (p *Poller) Close() error {
	return p.port.Close()
}

// exchange writes one command frame and accumulates the reply up to the
// terminating CR. A reply that does not complete within the exchange
// window is reported as a timeout error.
func (p *Poller) exchange(ctx context.Context, cmd []byte) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.port.ResetInputBuffer()
	if _, err := p.port.Write(cmd); err != nil {
		return nil, fmt.Errorf("%w: write: %v", ErrBus, err)
	}

	var frame []byte
	buf := make([]byte, 256)
	deadline := time.Now().Add(exchangeTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		n, err := p.port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: read: %v", ErrBus, err)
		}
		if n == 0 {
			continue
		}
		frame = append(frame, buf[:n]...)
		if frame[len(frame)-1] == '\r' {
			break
		}
	}

	if logger.IsDebugEnabled() {
		logger.LogTrace("RS485 exchange: > %q < %q", cmd, frame)
	}
	return ParseResponse(frame)
}

func (p *Poller) command(ctx context.Context, cid2 byte, info string) (*Response, error) {
	cmd, err := BuildRequest(p.addr, cid2, info)
	if err != nil {
		return nil, err
	}
	return p.exchange(ctx, cmd)
}

// ReadAnalog queries the analog values of one battery module.
func (p *Poller) ReadAnalog(ctx context.Context, battery int) (*AnalogReading, error) {
	resp, err := p.command(ctx, CmdAnalog, fmt.Sprintf("%02X", battery))
	if err != nil {
		return nil, fmt.Errorf("analog read of battery %d failed: %w", battery, err)
	}
	return DecodeAnalog(resp.Info), nil
}

// ReadAlarm queries the alarm and balancing status of one battery module.
func (p *Poller) ReadAlarm(ctx context.Context, battery int) (*AlarmReading, error) {
	resp, err := p.command(ctx, CmdAlarm, fmt.Sprintf("%02X", battery))
	if err != nil {
		return nil, fmt.Errorf("alarm read of battery %d failed: %w", battery, err)
	}
	return DecodeAlarm(resp.Info), nil
}

// DeviceInfo carries the identification strings of the battery stack.
type DeviceInfo struct {
	Manufacturer string
	Firmware     string
	Serial       string
}

// ReadDeviceInfo queries manufacturer, firmware and serial number.
// Commands the stack does not answer leave the field empty.
func (p *Poller) ReadDeviceInfo(ctx context.Context) DeviceInfo {
	var d DeviceInfo
	if resp, err := p.command(ctx, CmdManufacturer, ""); err == nil {
		d.Manufacturer = DecodeASCIIInfo(resp.Info)
	}
	if resp, err := p.command(ctx, CmdFirmware, ""); err == nil {
		d.Firmware = DecodeASCIIInfo(resp.Info)
	}
	if resp, err := p.command(ctx, CmdSerial, ""); err == nil {
		d.Serial = DecodeASCIIInfo(resp.Info)
	}
	return d
}

// DecodeASCIIInfo converts a hex-encoded INFO payload into the printable
// ASCII string it carries. NULs and padding are stripped.
func DecodeASCIIInfo(info string) string {
	if len(info)%2 != 0 {
		info = info[:len(info)-1]
	}
	raw, err := hex.DecodeString(info)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, c := range raw {
		if c >= 0x20 && c < 0x7F {
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}
