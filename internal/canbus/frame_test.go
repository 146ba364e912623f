package canbus

import (
	"math"
	"testing"
)

func frame(id uint32, data ...byte) *Frame {
	f := &Frame{ID: id, Len: len(data)}
	copy(f.Data[:], data)
	return f
}

func TestDecodeLimits(t *testing.T) {
	// 48.6 V, 30.0 A, 30.0 A, 50.0 V
	d := Decode(frame(IDLimits, 0xE6, 0x01, 0x2C, 0x01, 0x2C, 0x01, 0xF4, 0x01))
	l, ok := d.(*Limits)
	if !ok {
		t.Fatalf("decode = %T", d)
	}
	if l.ChargeVoltageMax != 48.6 || l.ChargeCurrentLim != 30.0 || l.DischargeCurrentLim != 30.0 || l.LowVoltageLim != 50.0 {
		t.Errorf("limits = %+v", l)
	}
}

func TestDecodeLimitsAllZerosRejected(t *testing.T) {
	// the BMS emits zeroed frames in the boot window after a reset
	if d := Decode(frame(IDLimits, 0, 0, 0, 0, 0, 0, 0, 0)); d != nil {
		t.Errorf("all-zero limits frame must be rejected, got %+v", d)
	}
}

func TestDecodeSOC(t *testing.T) {
	d := Decode(frame(IDSOC, 80, 0, 99, 0, 0, 0, 0, 0))
	s, ok := d.(*StateOfCharge)
	if !ok {
		t.Fatalf("decode = %T", d)
	}
	if s.SOC != 80 || s.SOH != 99 {
		t.Errorf("soc/soh = %+v", s)
	}

	// over 100 percent is garbage
	if d := Decode(frame(IDSOC, 101, 0, 99, 0, 0, 0, 0, 0)); d != nil {
		t.Errorf("soc over 100 must be rejected, got %+v", d)
	}
}

func TestDecodeFlags(t *testing.T) {
	d := Decode(frame(IDFlags, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08))
	f, ok := d.(*Flags)
	if !ok {
		t.Fatalf("decode = %T", d)
	}
	if f.Raw != 0x0807060504030201 {
		t.Errorf("flags raw = 0x%X", f.Raw)
	}
	if f.String() != "0x0807060504030201" {
		t.Errorf("flags string = %s", f.String())
	}
}

func TestDecodeExtremes(t *testing.T) {
	// temps 25.0 and 23.5 °C (250, 235), cells 3350 and 3360 mV
	d := Decode(frame(IDExtremes, 0xFA, 0x00, 0xEB, 0x00, 0x16, 0x0D, 0x20, 0x0D))
	e, ok := d.(*Extremes)
	if !ok {
		t.Fatalf("decode = %T", d)
	}
	if e.TempMin != 23.5 || e.TempMax != 25.0 {
		t.Errorf("temps = %v .. %v", e.TempMin, e.TempMax)
	}
	if e.CellVMin != 3.350 || e.CellVMax != 3.360 {
		t.Errorf("cells = %v .. %v", e.CellVMin, e.CellVMax)
	}
	if math.Abs(e.CellDelta-0.010) > 1e-9 {
		t.Errorf("delta = %v", e.CellDelta)
	}
}

func TestDecodeExtremesPartialCells(t *testing.T) {
	// second cell field zero: dropped individually, first survives
	d := Decode(frame(IDExtremes, 0xFA, 0x00, 0xFA, 0x00, 0x16, 0x0D, 0x00, 0x00))
	e, ok := d.(*Extremes)
	if !ok {
		t.Fatalf("decode = %T", d)
	}
	if e.CellVMin != 3.350 || e.CellVMax != 3.350 || e.CellDelta != 0 {
		t.Errorf("extremes = %+v", e)
	}

	// both cells out of window: whole frame rejected
	if d := Decode(frame(IDExtremes, 0xFA, 0x00, 0xFA, 0x00, 0, 0, 0, 0)); d != nil {
		t.Errorf("frame without valid cells must be rejected, got %+v", d)
	}
}

func TestDecodeExtremesBadTemps(t *testing.T) {
	// 200.0 °C is outside the window
	if d := Decode(frame(IDExtremes, 0xD0, 0x07, 0xFA, 0x00, 0x16, 0x0D, 0x20, 0x0D)); d != nil {
		t.Errorf("out-of-window temperature must reject the frame, got %+v", d)
	}
}

func TestDecodeIgnoresUnknownAndShort(t *testing.T) {
	if d := Decode(frame(0x123, 1, 2, 3, 4, 5, 6, 7, 8)); d != nil {
		t.Errorf("unknown id must decode to nothing, got %+v", d)
	}
	if d := Decode(frame(IDSOC, 80, 0)); d != nil {
		t.Errorf("short frame must decode to nothing, got %+v", d)
	}
	if d := Decode(nil); d != nil {
		t.Error("nil frame must decode to nothing")
	}
}
