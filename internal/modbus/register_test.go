package modbus

import (
	"reflect"
	"testing"

	"solar-mqtt-bridge/internal/discovery"
)

func TestEncodingWordCount(t *testing.T) {
	if Signed16.WordCount() != 1 || Unsigned16.WordCount() != 1 {
		t.Error("16-bit encodings span one word")
	}
	if Signed32LSWFirst.WordCount() != 2 || Unsigned32LSWFirst.WordCount() != 2 {
		t.Error("32-bit encodings span two words")
	}
}

func TestSigned16TwosComplement(t *testing.T) {
	cases := map[uint16]int64{
		0x0000: 0,
		0x7FFF: 32767,
		0x8000: -32768,
		0xFFFF: -1,
		0xFE0C: -500,
	}
	for raw, want := range cases {
		got, err := Signed16.Decode([]uint16{raw})
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Signed16(0x%04X) = %d, want %d", raw, got, want)
		}
	}
}

func TestUnsigned32LowWordFirst(t *testing.T) {
	// high word 0, low word 0xFFFF is 65535, not negative
	got, err := Unsigned32LSWFirst.Decode([]uint16{0xFFFF, 0x0000})
	if err != nil {
		t.Fatal(err)
	}
	if got != 65535 {
		t.Errorf("decode = %d, want 65535", got)
	}

	// 0x00012345 split low-word-first
	got, _ = Unsigned32LSWFirst.Decode([]uint16{0x2345, 0x0001})
	if got != 0x12345 {
		t.Errorf("decode = 0x%X, want 0x12345", got)
	}
}

func TestSigned32LowWordFirst(t *testing.T) {
	got, err := Signed32LSWFirst.Decode([]uint16{0xFFFF, 0xFFFF})
	if err != nil {
		t.Fatal(err)
	}
	if got != -1 {
		t.Errorf("decode = %d, want -1", got)
	}
}

func TestDecodeShortWords(t *testing.T) {
	if _, err := Unsigned32LSWFirst.Decode([]uint16{0x1234}); err == nil {
		t.Error("32-bit decode of one word must fail")
	}
	if _, err := Signed16.Decode(nil); err == nil {
		t.Error("decode of no words must fail")
	}
}

func TestRegisterValueScaling(t *testing.T) {
	// battery temperature style: raw * 0.1 - 100
	reg := Register{Name: "battery_temperature", Encoding: Signed16, Scale: 0.1, Offset: -100}
	v, err := reg.Value([]uint16{1234})
	if err != nil {
		t.Fatal(err)
	}
	if v != 23.4 {
		t.Errorf("value = %v, want 23.4", v)
	}

	// zero scale defaults to identity
	reg = Register{Name: "soc", Encoding: Unsigned16}
	if v, _ := reg.Value([]uint16{80}); v != 80 {
		t.Errorf("value = %v, want 80", v)
	}
}

func TestRegisterValueRounding(t *testing.T) {
	reg := Register{Name: "current", Encoding: Signed16, Scale: 0.001}
	v, err := reg.Value([]uint16{3333})
	if err != nil {
		t.Fatal(err)
	}
	if v != 3.333 {
		t.Errorf("value = %v", v)
	}
}

func TestGroupsForTick(t *testing.T) {
	cases := map[uint64][]string{
		0: {discovery.GroupFast, discovery.GroupNormal, discovery.GroupSlow},
		1: {discovery.GroupFast},
		2: {discovery.GroupFast},
		3: {discovery.GroupFast, discovery.GroupNormal},
		4: {discovery.GroupFast},
		5: {discovery.GroupFast},
		6: {discovery.GroupFast, discovery.GroupNormal, discovery.GroupSlow},
		9: {discovery.GroupFast, discovery.GroupNormal},
	}
	for tick, want := range cases {
		if got := GroupsForTick(tick); !reflect.DeepEqual(got, want) {
			t.Errorf("GroupsForTick(%d) = %v, want %v", tick, got, want)
		}
	}
}
