package pylontech

import (
	"sort"
	"strconv"
	"strings"
)

// Operating state bits in the final INFO byte.
const (
	stateDischarge = 0x01
	stateCharge    = 0x02
	stateFloat     = 0x04
	stateFull      = 0x08
	stateStandby   = 0x10
	stateShutdown  = 0x20
)

// Extended status block byte 0 flags.
const (
	extBalanceOn            = 0x01
	extStaticBalance        = 0x02
	extStaticBalanceTimeout = 0x04
)

// Extended status block byte 4: voltage alarm and protect flags.
const (
	extCellOVAlarm   = 0x01
	extCellUVAlarm   = 0x02
	extPackOVAlarm   = 0x04
	extPackUVAlarm   = 0x08
	extCellOVProtect = 0x10
	extCellUVProtect = 0x20
	extPackOVProtect = 0x40
	extPackUVProtect = 0x80
)

// Extended status block byte 8: MOSFET states.
const (
	extDischargeFET = 0x01
	extChargeFET    = 0x02
	extLimitedFET   = 0x04
	extHeaterFET    = 0x08
)

// AlarmReading is the decoded alarm-info reply of one battery module.
// Alarm conditions split into three severities: Warnings are over-voltage
// indications that are normal near top of charge, Protections are actual
// protection trips, and Alarms mirrors Protections for the consumer.
type AlarmReading struct {
	InfoFlag   int
	BatteryNum int
	CellCount  int
	TempCount  int

	UndervoltCells   []int
	OvervoltCells    []int
	UndertempSensors []int
	OvertempSensors  []int

	// Balance status from extended byte 0.
	BalanceOn            bool
	StaticBalance        bool
	StaticBalanceTimeout bool

	// Per-cell balance flags from extended bytes 9-10, LSB first.
	// Populated only while BalanceOn is set.
	BalancingCells []int

	// The empirically-correlated CW balance view, decoded from the byte
	// pair further into the payload. Kept alongside BalancingCells until
	// field data settles which one tracks the physical balancer.
	CWActive bool
	CWCells  []int

	DischargeMOSFET     bool
	ChargeMOSFET        bool
	LimitedChargeMOSFET bool
	Heater              bool

	OperatingState byte

	Warnings    []string
	Protections []string
	Alarms      []string
}

// State renders the operating-state bitfield. Multiple bits join with
// '+'; no bits set renders as Idle.
func (r *AlarmReading) State() string {
	names := []string{}
	for _, s := range []struct {
		bit  byte
		name string
	}{
		{stateDischarge, "Discharge"},
		{stateCharge, "Charge"},
		{stateFloat, "Float"},
		{stateFull, "Full"},
		{stateStandby, "Standby"},
		{stateShutdown, "Shutdown"},
	} {
		if r.OperatingState&s.bit != 0 {
			names = append(names, s.name)
		}
	}
	if len(names) == 0 {
		return "Idle"
	}
	return strings.Join(names, "+")
}

// BalancingCount returns the number of balancing cells in the primary view.
func (r *AlarmReading) BalancingCount() int {
	return len(r.BalancingCells)
}

func extByte(info string, start, index int) (byte, bool) {
	pos := start + index*2
	if pos+2 > len(info) {
		return 0, false
	}
	v, err := strconv.ParseUint(info[pos:pos+2], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

// balanceBits expands a low/high byte pair into 1-based cell indices,
// cell 1 at bit 0 of the low byte.
func balanceBits(lo, hi byte) []int {
	cells := []int{}
	for bit := 0; bit < 8; bit++ {
		if lo&(1<<bit) != 0 {
			cells = append(cells, bit+1)
		}
	}
	for bit := 0; bit < 8; bit++ {
		if hi&(1<<bit) != 0 {
			cells = append(cells, bit+9)
		}
	}
	return cells
}

// DecodeAlarm decodes the alarm-info reply INFO. Truncated payloads yield
// a partial result; severity lists are always non-nil.
func DecodeAlarm(info string) *AlarmReading {
	r := &AlarmReading{
		UndervoltCells:   []int{},
		OvervoltCells:    []int{},
		UndertempSensors: []int{},
		OvertempSensors:  []int{},
		BalancingCells:   []int{},
		CWCells:          []int{},
		Warnings:         []string{},
		Protections:      []string{},
		Alarms:           []string{},
	}
	c := &hexCursor{s: info}

	var ok bool
	if r.InfoFlag, ok = c.u8(); !ok {
		return r
	}
	if r.BatteryNum, ok = c.u8(); !ok {
		return r
	}
	if r.CellCount, ok = c.u8(); !ok {
		return r
	}

	// Per-cell status: 0x01 under limit, 0x02 over limit, others ignored
	for i := 0; i < r.CellCount; i++ {
		status, ok := c.u8()
		if !ok {
			return r
		}
		switch status {
		case 0x01:
			r.UndervoltCells = append(r.UndervoltCells, i+1)
		case 0x02:
			r.OvervoltCells = append(r.OvervoltCells, i+1)
		}
	}

	if r.TempCount, ok = c.u8(); !ok {
		return r
	}
	for i := 0; i < r.TempCount; i++ {
		status, ok := c.u8()
		if !ok {
			return r
		}
		switch status {
		case 0x01:
			r.UndertempSensors = append(r.UndertempSensors, i+1)
		case 0x02:
			r.OvertempSensors = append(r.OvertempSensors, i+1)
		}
	}

	// Charge-current, pack-voltage and discharge-current status bytes
	chargeStatus, ok := c.u8()
	if !ok {
		return r.finish()
	}
	voltStatus, ok := c.u8()
	if !ok {
		return r.finish()
	}
	dischargeStatus, ok := c.u8()
	if !ok {
		return r.finish()
	}

	if chargeStatus == 0x01 || chargeStatus == 0x02 {
		r.Protections = append(r.Protections, "charge_overcurrent")
	}
	switch voltStatus {
	case 0x01:
		r.Protections = append(r.Protections, "pack_undervolt")
	case 0x02:
		// Pack over-limit during absorb is routine
		r.Warnings = append(r.Warnings, "pack_overvolt")
	}
	if dischargeStatus == 0x01 || dischargeStatus == 0x02 {
		r.Protections = append(r.Protections, "discharge_overcurrent")
	}

	// Extended status block starts right after the three status bytes
	ext := c.i

	if b0, ok := extByte(info, ext, 0); ok {
		r.BalanceOn = b0&extBalanceOn != 0
		r.StaticBalance = b0&extStaticBalance != 0
		r.StaticBalanceTimeout = b0&extStaticBalanceTimeout != 0
	}

	if b4, ok := extByte(info, ext, 4); ok {
		if b4&extCellOVAlarm != 0 {
			r.Warnings = append(r.Warnings, "cell_overvolt")
		}
		if b4&extPackOVAlarm != 0 {
			r.Warnings = append(r.Warnings, "pack_overvolt_alarm")
		}
		if b4&extCellUVAlarm != 0 {
			r.Protections = append(r.Protections, "cell_undervolt")
		}
		if b4&extPackUVAlarm != 0 {
			r.Protections = append(r.Protections, "pack_undervolt_alarm")
		}
		if b4&extCellOVProtect != 0 {
			r.Protections = append(r.Protections, "cell_overvolt_protect")
		}
		if b4&extCellUVProtect != 0 {
			r.Protections = append(r.Protections, "cell_undervolt_protect")
		}
		if b4&extPackOVProtect != 0 {
			r.Protections = append(r.Protections, "pack_overvolt_protect")
		}
		if b4&extPackUVProtect != 0 {
			r.Protections = append(r.Protections, "pack_undervolt_protect")
		}
	}

	if b8, ok := extByte(info, ext, 8); ok {
		r.DischargeMOSFET = b8&extDischargeFET != 0
		r.ChargeMOSFET = b8&extChargeFET != 0
		r.LimitedChargeMOSFET = b8&extLimitedFET != 0
		r.Heater = b8&extHeaterFET != 0
	}

	// Balance flags report stale bits while the master balance-on flag
	// is clear, so gate on it
	if r.BalanceOn {
		lo, okLo := extByte(info, ext, 9)
		hi, okHi := extByte(info, ext, 10)
		if okLo {
			if !okHi {
				hi = 0
			}
			r.BalancingCells = balanceBits(lo, hi)
		}
	}

	// The CW byte pair sits 9 characters past the primary balance pair
	cwPos := ext + 9*2 + 9
	if cwPos+4 <= len(info) {
		lo, errLo := strconv.ParseUint(info[cwPos:cwPos+2], 16, 8)
		hi, errHi := strconv.ParseUint(info[cwPos+2:cwPos+4], 16, 8)
		if errLo == nil && errHi == nil {
			r.CWCells = balanceBits(byte(lo), byte(hi))
			r.CWActive = len(r.CWCells) > 0
		}
	}

	// Operating state is the final INFO byte
	if len(info) >= 2 {
		if v, err := strconv.ParseUint(info[len(info)-2:], 16, 8); err == nil {
			r.OperatingState = byte(v)
		}
	}

	return r.finish()
}

// finish derives Alarms from Protections and keeps the lists ordered.
func (r *AlarmReading) finish() *AlarmReading {
	sort.Strings(r.Warnings)
	sort.Strings(r.Protections)
	r.Alarms = append([]string{}, r.Protections...)
	return r
}
