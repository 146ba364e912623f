package pylontech

import "strconv"

// hexCursor walks an INFO payload as fixed-width uppercase hex fields.
// Reads past the end fail without advancing, so decoders degrade to a
// partial result on truncated responses.
type hexCursor struct {
	s string
	i int
}

func (c *hexCursor) take(width int) (uint64, bool) {
	if c.i+width > len(c.s) {
		return 0, false
	}
	v, err := strconv.ParseUint(c.s[c.i:c.i+width], 16, 32)
	if err != nil {
		return 0, false
	}
	c.i += width
	return v, true
}

func (c *hexCursor) u8() (int, bool) {
	v, ok := c.take(2)
	return int(v), ok
}

func (c *hexCursor) u16() (int, bool) {
	v, ok := c.take(4)
	return int(v), ok
}

// s16 reads a 16-bit two's complement value.
func (c *hexCursor) s16() (int, bool) {
	v, ok := c.take(4)
	if !ok {
		return 0, false
	}
	n := int(v)
	if n > 0x7FFF {
		n -= 0x10000
	}
	return n, true
}

func (c *hexCursor) skip(width int) {
	if c.i+width <= len(c.s) {
		c.i += width
	} else {
		c.i = len(c.s)
	}
}

// AnalogReading is the decoded analog-values reply of one battery module.
type AnalogReading struct {
	Cells       []float64 // volts
	Temps       []float64 // celsius
	Current     float64   // amps, negative while discharging
	PackVoltage float64   // volts, as reported by the module terminal field
	RemainAh    float64
	TotalAh     float64
	Cycles      int
}

// Voltage is the module voltage derived as the sum of cell voltages. The
// reported terminal field stays available as PackVoltage.
func (r *AnalogReading) Voltage() float64 {
	sum := 0.0
	for _, v := range r.Cells {
		sum += v
	}
	return sum
}

// SOC computes the state of charge in percent from the capacity fields.
func (r *AnalogReading) SOC() float64 {
	if r.TotalAh <= 0 {
		return 0
	}
	return r.RemainAh / r.TotalAh * 100
}

// CellMin returns the lowest cell voltage, 0 with no cells.
func (r *AnalogReading) CellMin() float64 {
	if len(r.Cells) == 0 {
		return 0
	}
	min := r.Cells[0]
	for _, v := range r.Cells[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// CellMax returns the highest cell voltage, 0 with no cells.
func (r *AnalogReading) CellMax() float64 {
	if len(r.Cells) == 0 {
		return 0
	}
	max := r.Cells[0]
	for _, v := range r.Cells[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// CellDeltaMV returns the cell voltage spread in millivolts.
func (r *AnalogReading) CellDeltaMV() float64 {
	return (r.CellMax() - r.CellMin()) * 1000
}

// DecodeAnalog decodes the analog-values reply INFO. Truncated payloads
// yield whatever fields were complete.
//
// Layout: header(4), cell count(2), cells(N x 4, mV), temp count(2),
// temps(T x 4, deciKelvin), current(4, signed centiamps), pack
// voltage(4, centivolts), remaining capacity(4, 10mAh), user byte(2),
// total capacity(4, 10mAh), cycle count(4).
func DecodeAnalog(info string) *AnalogReading {
	r := &AnalogReading{Cells: []float64{}, Temps: []float64{}}
	c := &hexCursor{s: info}

	c.skip(4) // info flag + battery number

	numCells, ok := c.u8()
	if !ok {
		return r
	}
	for i := 0; i < numCells; i++ {
		mv, ok := c.u16()
		if !ok {
			return r
		}
		r.Cells = append(r.Cells, float64(mv)/1000)
	}

	numTemps, ok := c.u8()
	if !ok {
		return r
	}
	for i := 0; i < numTemps; i++ {
		raw, ok := c.u16()
		if !ok {
			return r
		}
		r.Temps = append(r.Temps, float64(raw-2731)/10)
	}

	if raw, ok := c.s16(); ok {
		r.Current = float64(raw) / 100
	}
	if raw, ok := c.u16(); ok {
		r.PackVoltage = float64(raw) / 100
	}
	if raw, ok := c.u16(); ok {
		r.RemainAh = float64(raw) / 100
	}
	c.skip(2) // user-defined byte
	if raw, ok := c.u16(); ok {
		r.TotalAh = float64(raw) / 100
	}
	if raw, ok := c.u16(); ok {
		r.Cycles = raw
	}
	return r
}
