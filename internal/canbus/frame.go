package canbus

import "fmt"

// Recognised arbitration IDs of the Pylontech CAN profile.
const (
	IDLimits   = 0x351
	IDSOC      = 0x355
	IDFlags    = 0x359
	IDExtremes = 0x370
)

// Sanity windows. Values outside are physically impossible for this
// installation and mark a frame as garbage, most notably the all-zero
// frames the BMS emits in the boot window after a reset.
const (
	TempMinC  = -10.0
	TempMaxC  = 50.0
	CellVMinV = 2.0
	CellVMaxV = 4.5
	PackVMinV = 30.0
	PackVMaxV = 65.0
	IMaxAbsA  = 500.0
)

// Limits carries the charge/discharge envelope from frame 0x351.
type Limits struct {
	ChargeVoltageMax    float64 // V
	ChargeCurrentLim    float64 // A
	DischargeCurrentLim float64 // A
	LowVoltageLim       float64 // V
}

// StateOfCharge carries SOC and SOH percentages from frame 0x355.
type StateOfCharge struct {
	SOC int
	SOH int
}

// Flags carries the raw BMS flag bitfield from frame 0x359.
type Flags struct {
	Raw uint64
}

// String renders the bitfield the way it is published.
func (f Flags) String() string {
	return fmt.Sprintf("0x%016X", f.Raw)
}

// Extremes carries the temperature and cell-voltage extremes from frame
// 0x370. Out-of-window cell readings are dropped individually, so min
// and max may come from a single surviving cell.
type Extremes struct {
	TempMin   float64
	TempMax   float64
	CellVMin  float64
	CellVMax  float64
	CellDelta float64
}

func leU16(b0, b1 byte) int {
	return int(b0) | int(b1)<<8
}

// Decode interprets one BMS frame. The result is *Limits,
// *StateOfCharge, *Flags or *Extremes; nil for unknown IDs, short frames
// and frames rejected by the sanity windows.
func Decode(f *Frame) interface{} {
	if f == nil || f.Len != 8 {
		return nil
	}
	d := f.Data

	switch f.ID {
	case IDLimits:
		l := &Limits{
			ChargeVoltageMax:    float64(leU16(d[0], d[1])) / 10,
			ChargeCurrentLim:    float64(leU16(d[2], d[3])) / 10,
			DischargeCurrentLim: float64(leU16(d[4], d[5])) / 10,
			LowVoltageLim:       float64(leU16(d[6], d[7])) / 10,
		}
		if l.ChargeVoltageMax < PackVMinV || l.ChargeVoltageMax > PackVMaxV {
			return nil
		}
		if l.LowVoltageLim < PackVMinV || l.LowVoltageLim > PackVMaxV {
			return nil
		}
		if l.ChargeCurrentLim < 0 || l.ChargeCurrentLim > IMaxAbsA {
			return nil
		}
		if l.DischargeCurrentLim < 0 || l.DischargeCurrentLim > IMaxAbsA {
			return nil
		}
		return l

	case IDSOC:
		s := &StateOfCharge{
			SOC: leU16(d[0], d[1]),
			SOH: leU16(d[2], d[3]),
		}
		if s.SOC < 0 || s.SOC > 100 || s.SOH < 0 || s.SOH > 100 {
			return nil
		}
		return s

	case IDFlags:
		var raw uint64
		for i := 7; i >= 0; i-- {
			raw = raw<<8 | uint64(d[i])
		}
		return &Flags{Raw: raw}

	case IDExtremes:
		t1 := float64(leU16(d[0], d[1])) / 10
		t2 := float64(leU16(d[2], d[3])) / 10
		tmin, tmax := t1, t2
		if tmin > tmax {
			tmin, tmax = tmax, tmin
		}
		if tmin < TempMinC || tmin > TempMaxC || tmax < TempMinC || tmax > TempMaxC {
			return nil
		}

		v1 := float64(leU16(d[4], d[5])) / 1000
		v2 := float64(leU16(d[6], d[7])) / 1000
		var cells []float64
		for _, v := range []float64{v1, v2} {
			if v >= CellVMinV && v <= CellVMaxV {
				cells = append(cells, v)
			}
		}
		if len(cells) == 0 {
			return nil
		}
		vmin, vmax := cells[0], cells[0]
		for _, v := range cells[1:] {
			if v < vmin {
				vmin = v
			}
			if v > vmax {
				vmax = v
			}
		}
		return &Extremes{
			TempMin:   tmin,
			TempMax:   tmax,
			CellVMin:  vmin,
			CellVMax:  vmax,
			CellDelta: vmax - vmin,
		}
	}

	return nil
}
