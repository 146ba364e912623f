package pylontech

import (
	"fmt"
	"math"
	"strings"
	"testing"
)

// synthAnalogInfo builds an analog INFO payload the way a battery does:
// 16 cells, 4 temperature probes, capacities in 10 mAh units.
func synthAnalogInfo(cellMV, numCells int, tempC float64, numTemps int, currentCA int, packCV, remainCAh, totalCAh, cycles int) string {
	var b strings.Builder
	b.WriteString("0000") // info flag + battery number
	fmt.Fprintf(&b, "%02X", numCells)
	for i := 0; i < numCells; i++ {
		fmt.Fprintf(&b, "%04X", cellMV)
	}
	fmt.Fprintf(&b, "%02X", numTemps)
	for i := 0; i < numTemps; i++ {
		fmt.Fprintf(&b, "%04X", int(tempC*10)+2731)
	}
	fmt.Fprintf(&b, "%04X", currentCA&0xFFFF)
	fmt.Fprintf(&b, "%04X", packCV)
	fmt.Fprintf(&b, "%04X", remainCAh)
	b.WriteString("03") // user-defined byte
	fmt.Fprintf(&b, "%04X", totalCAh)
	fmt.Fprintf(&b, "%04X", cycles)
	return b.String()
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDecodeAnalog(t *testing.T) {
	info := synthAnalogInfo(3350, 16, 25.0, 4, 0, 5360, 8000, 10000, 50)
	r := DecodeAnalog(info)

	if len(r.Cells) != 16 {
		t.Fatalf("cells = %d", len(r.Cells))
	}
	if !approx(r.Cells[0], 3.350) {
		t.Errorf("cell voltage = %v", r.Cells[0])
	}
	if len(r.Temps) != 4 || !approx(r.Temps[0], 25.0) {
		t.Errorf("temps = %v", r.Temps)
	}
	if r.Current != 0 {
		t.Errorf("current = %v", r.Current)
	}
	if !approx(r.PackVoltage, 53.60) {
		t.Errorf("pack voltage = %v", r.PackVoltage)
	}
	if !approx(r.RemainAh, 80) || !approx(r.TotalAh, 100) {
		t.Errorf("capacity = %v / %v", r.RemainAh, r.TotalAh)
	}
	if r.Cycles != 50 {
		t.Errorf("cycles = %d", r.Cycles)
	}
	if !approx(r.SOC(), 80) {
		t.Errorf("soc = %v", r.SOC())
	}
	if !approx(r.Voltage(), 16*3.350) {
		t.Errorf("voltage = %v", r.Voltage())
	}
}

func TestDecodeAnalogNegativeCurrent(t *testing.T) {
	// -5.00 A is 0xFE0C centiamps in two's complement
	info := synthAnalogInfo(3350, 2, 25.0, 1, -500, 5360, 8000, 10000, 50)
	r := DecodeAnalog(info)
	if !approx(r.Current, -5.00) {
		t.Errorf("current = %v", r.Current)
	}
}

func TestDecodeAnalogCurrentNearLimit(t *testing.T) {
	// 0x8000 is the most negative signed 16-bit value
	info := "0000" + "00" + "00" + "8000"
	r := DecodeAnalog(info)
	if !approx(r.Current, -327.68) {
		t.Errorf("current = %v", r.Current)
	}
}

func TestDecodeAnalogZeroCells(t *testing.T) {
	// zero cells, zero temps, remaining fields present
	info := "0000" + "00" + "00" + "0000" + "14F0" + "1F40" + "03" + "2710" + "0032"
	r := DecodeAnalog(info)
	if len(r.Cells) != 0 {
		t.Errorf("cells = %v", r.Cells)
	}
	if len(r.Temps) != 0 {
		t.Errorf("temps = %v", r.Temps)
	}
	if !approx(r.PackVoltage, 53.60) {
		t.Errorf("pack voltage = %v", r.PackVoltage)
	}
	if r.Cycles != 50 {
		t.Errorf("cycles = %d", r.Cycles)
	}
	if r.Voltage() != 0 || r.CellMin() != 0 || r.CellMax() != 0 {
		t.Error("cell aggregates over no cells must be zero")
	}
}

func TestDecodeAnalogTruncated(t *testing.T) {
	full := synthAnalogInfo(3350, 16, 25.0, 4, 0, 5360, 8000, 10000, 50)
	// every truncation point decodes without panicking
	for i := 0; i < len(full); i++ {
		r := DecodeAnalog(full[:i])
		if r == nil {
			t.Fatalf("truncation at %d returned nil", i)
		}
	}
	// cut inside the temperature list: cells survive, later fields zero
	r := DecodeAnalog(full[:4+2+16*4+2+4])
	if len(r.Cells) != 16 {
		t.Errorf("cells after truncation = %d", len(r.Cells))
	}
	if len(r.Temps) != 1 {
		t.Errorf("temps after truncation = %d", len(r.Temps))
	}
	if r.Cycles != 0 || r.TotalAh != 0 {
		t.Error("fields past the truncation must stay zero")
	}
}
