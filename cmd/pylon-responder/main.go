// pylon-responder is a fake Pylontech battery for bench-testing the
// RS485 bridge without hardware. It answers analog, alarm and
// identification requests on a serial port with synthetic data.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.bug.st/serial"

	"solar-mqtt-bridge/internal/logger"
	"solar-mqtt-bridge/internal/pylontech"
)

type fakeBattery struct {
	numCells   int
	cellBaseMV int
	numTemps   int
	tempC      float64
	currentA   float64
	socPercent int
	capacityAh float64
	cycles     int
	balanceOn  bool
}

// analogInfo renders the analog-values INFO payload. Cell voltages get a
// small deterministic spread so deltas are visible downstream.
func (b *fakeBattery) analogInfo(battNum int) string {
	info := fmt.Sprintf("00%02X%02X", battNum, b.numCells)
	for i := 0; i < b.numCells; i++ {
		mv := b.cellBaseMV + (i%3)*5 - 5
		info += fmt.Sprintf("%04X", mv)
	}
	info += fmt.Sprintf("%02X", b.numTemps)
	for i := 0; i < b.numTemps; i++ {
		info += fmt.Sprintf("%04X", int(b.tempC*10)+2731)
	}
	info += fmt.Sprintf("%04X", int(b.currentA*100)&0xFFFF)

	packMV := 0
	for i := 0; i < b.numCells; i++ {
		packMV += b.cellBaseMV + (i%3)*5 - 5
	}
	info += fmt.Sprintf("%04X", packMV/10) // centivolts

	remain := b.capacityAh * float64(b.socPercent) / 100
	info += fmt.Sprintf("%04X", int(remain*100))
	info += "03" // user-defined byte
	info += fmt.Sprintf("%04X", int(b.capacityAh*100))
	info += fmt.Sprintf("%04X", b.cycles)
	return info
}

// alarmInfo renders an all-normal alarm-info payload: per-cell and
// per-probe statuses, the three current/voltage status bytes, the
// extended status block and the trailing operating state.
func (b *fakeBattery) alarmInfo(battNum int) string {
	info := fmt.Sprintf("00%02X%02X", battNum, b.numCells)
	for i := 0; i < b.numCells; i++ {
		info += "00"
	}
	info += fmt.Sprintf("%02X", b.numTemps)
	for i := 0; i < b.numTemps; i++ {
		info += "00"
	}
	info += "000000" // charge current, pack voltage, discharge current

	ext := make([]byte, 11)
	ext[8] = 0x03 // discharge + charge MOSFETs closed
	if b.balanceOn {
		ext[0] = 0x01
		ext[9] = 0x05 // cells 1 and 3
	}
	for _, v := range ext {
		info += fmt.Sprintf("%02X", v)
	}

	info += "00000" // padding before the CW pair
	info += "0000"  // CW balance pair, idle

	state := byte(0x10) // Standby
	if b.currentA > 0.1 {
		state = 0x02
	} else if b.currentA < -0.1 {
		state = 0x01
	}
	info += fmt.Sprintf("%02X", state)
	return info
}

func asciiInfo(s string) string {
	info := ""
	for _, c := range []byte(s) {
		info += fmt.Sprintf("%02X", c)
	}
	return info
}

func (b *fakeBattery) respond(req *pylontech.Request, addr int) ([]byte, error) {
	battNum := 0
	if len(req.Info) >= 2 {
		if v, err := strconv.ParseUint(req.Info[:2], 16, 8); err == nil {
			battNum = int(v)
		}
	}

	switch req.CID2 {
	case pylontech.CmdAnalog:
		return pylontech.BuildResponse(addr, pylontech.RTNOK, b.analogInfo(battNum))
	case pylontech.CmdAlarm:
		return pylontech.BuildResponse(addr, pylontech.RTNOK, b.alarmInfo(battNum))
	case pylontech.CmdSystemParams:
		return pylontech.BuildResponse(addr, pylontech.RTNOK, fmt.Sprintf("0001%02X00", b.numCells))
	case pylontech.CmdManufacturer:
		return pylontech.BuildResponse(addr, pylontech.RTNOK, asciiInfo("PYLONTECH"))
	case pylontech.CmdFirmware:
		return pylontech.BuildResponse(addr, pylontech.RTNOK, asciiInfo("V1.0"))
	case pylontech.CmdSerial:
		return pylontech.BuildResponse(addr, pylontech.RTNOK, asciiInfo("FAKE00001"))
	case pylontech.CmdProtocolVersion:
		return pylontech.BuildResponse(addr, pylontech.RTNOK, "0020")
	default:
		logger.LogWarn("Unknown CID2 0x%02X", req.CID2)
		// 0x04 = invalid CID2
		return pylontech.BuildResponse(addr, 0x04, "")
	}
}

func main() {
	port := flag.String("port", "/dev/ttyUSB0", "serial port")
	baud := flag.Int("baud", 115200, "baud rate")
	addr := flag.Int("addr", 2, "battery address to respond as")
	soc := flag.Int("soc", 80, "fake state of charge, percent")
	cellMV := flag.Int("cell-mv", 3350, "fake base cell voltage, millivolts")
	current := flag.Float64("current", 0, "fake pack current, amps")
	balance := flag.Bool("balance", false, "report cells 1 and 3 balancing")
	flag.Parse()

	logger.Setup("info", "")
	logger.LogStartup("Fake battery on %s @ %d baud, address %d, SOC %d%%", *port, *baud, *addr, *soc)

	battery := &fakeBattery{
		numCells:   16,
		cellBaseMV: *cellMV,
		numTemps:   4,
		tempC:      25.0,
		currentA:   *current,
		socPercent: *soc,
		capacityAh: 100,
		cycles:     50,
		balanceOn:  *balance,
	}

	mode := &serial.Mode{
		BaudRate: *baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	sp, err := serial.Open(*port, mode)
	if err != nil {
		logger.LogError("Cannot open %s: %v", *port, err)
		os.Exit(1)
	}
	defer sp.Close()
	sp.SetReadTimeout(100 * time.Millisecond)

	var buffer []byte
	buf := make([]byte, 256)
	requests := 0

	for {
		n, err := sp.Read(buf)
		if err != nil {
			logger.LogError("Serial read failed: %v", err)
			os.Exit(1)
		}
		if n == 0 {
			continue
		}
		buffer = append(buffer, buf[:n]...)

		for {
			frame, rest, ok := nextFrame(buffer)
			if !ok {
				buffer = rest
				break
			}
			buffer = rest

			req, err := pylontech.ParseRequest(frame)
			if err != nil {
				logger.LogWarn("Bad request %q: %v", frame, err)
				continue
			}
			requests++
			logger.LogInfo("[%4d] addr=%d cid2=0x%02X info=%q", requests, req.Addr, req.CID2, req.Info)

			resp, err := battery.respond(req, *addr)
			if err != nil {
				logger.LogError("Cannot build response: %v", err)
				continue
			}
			if _, err := sp.Write(resp); err != nil {
				logger.LogError("Serial write failed: %v", err)
				os.Exit(1)
			}
			sp.Drain()
		}
	}
}

// nextFrame extracts the first complete '~'..CR frame from the buffer.
// Returns the frame, the remaining buffer and whether a frame was found.
func nextFrame(buffer []byte) ([]byte, []byte, bool) {
	start := -1
	for i, c := range buffer {
		if c == '~' {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, nil, false
	}
	for i := start; i < len(buffer); i++ {
		if buffer[i] == '\r' {
			return buffer[start : i+1], buffer[i+1:], true
		}
	}
	return nil, buffer[start:], false
}
