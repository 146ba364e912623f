package pylontech

import (
	"reflect"
	"testing"
)

func module(id int, cells []float64, temps []float64, current float64, alarm *AlarmReading) ModuleReading {
	return ModuleReading{
		ID: id,
		Analog: &AnalogReading{
			Cells:    cells,
			Temps:    temps,
			Current:  current,
			RemainAh: 80,
			TotalAh:  100,
		},
		Alarm: alarm,
	}
}

func TestAggregateParallelStack(t *testing.T) {
	mods := []ModuleReading{
		module(0, []float64{3.350, 3.360}, []float64{24.0, 25.0}, 10.0, nil),
		module(1, []float64{3.340, 3.355}, []float64{26.0}, -4.0, nil),
	}
	s := Aggregate(mods)
	if s == nil {
		t.Fatal("aggregate returned nil")
	}

	if s.NumModules != 2 || s.NumCells != 4 {
		t.Errorf("counts = %d modules, %d cells", s.NumModules, s.NumCells)
	}
	if s.CellMin != 3.340 || s.CellMax != 3.360 {
		t.Errorf("cell range = %v .. %v", s.CellMin, s.CellMax)
	}
	if s.CellDeltaMV != 20.0 {
		t.Errorf("cell delta = %v mV", s.CellDeltaMV)
	}
	if s.TempMin != 24.0 || s.TempMax != 26.0 {
		t.Errorf("temp range = %v .. %v", s.TempMin, s.TempMax)
	}
	// parallel: mean of module voltages, sum of currents
	wantVoltage := ((3.350 + 3.360) + (3.340 + 3.355)) / 2
	if s.Voltage != round2(wantVoltage) {
		t.Errorf("voltage = %v, want %v", s.Voltage, round2(wantVoltage))
	}
	if s.Current != 6.0 {
		t.Errorf("current = %v", s.Current)
	}
}

func TestAggregateBalancingTokens(t *testing.T) {
	mods := []ModuleReading{
		module(0, []float64{3.35}, nil, 0, &AlarmReading{BalancingCells: []int{1, 5}}),
		module(2, []float64{3.35}, nil, 0, &AlarmReading{BalancingCells: []int{16}}),
	}
	s := Aggregate(mods)

	want := []string{"B0C1", "B0C5", "B2C16"}
	if !reflect.DeepEqual(s.BalancingCells, want) {
		t.Errorf("balancing cells = %v, want %v", s.BalancingCells, want)
	}
	if s.BalancingCount != 3 {
		t.Errorf("balancing count = %d", s.BalancingCount)
	}
}

func TestAggregateAlarmUnion(t *testing.T) {
	mods := []ModuleReading{
		module(0, []float64{3.35}, nil, 0, &AlarmReading{Alarms: []string{"pack_undervolt", "charge_overcurrent"}}),
		module(1, []float64{3.35}, nil, 0, &AlarmReading{Alarms: []string{"pack_undervolt"}}),
	}
	s := Aggregate(mods)

	want := []string{"charge_overcurrent", "pack_undervolt"}
	if !reflect.DeepEqual(s.Alarms, want) {
		t.Errorf("alarms = %v, want %v", s.Alarms, want)
	}
}

func TestAggregateSkipsEmptyModules(t *testing.T) {
	mods := []ModuleReading{
		{ID: 0, Analog: &AnalogReading{}},
		module(1, []float64{3.35, 3.36}, nil, 2.0, nil),
	}
	s := Aggregate(mods)
	if s.NumModules != 1 {
		t.Errorf("modules = %d", s.NumModules)
	}

	if got := Aggregate(nil); got != nil {
		t.Error("aggregate over nothing must be nil")
	}
	if got := Aggregate([]ModuleReading{{ID: 0, Analog: &AnalogReading{}}}); got != nil {
		t.Error("aggregate over empty modules must be nil")
	}
}

func TestAggregateNoTemps(t *testing.T) {
	s := Aggregate([]ModuleReading{module(0, []float64{3.35}, nil, 0, nil)})
	if s.HasTemps {
		t.Error("no temps reported")
	}
	if s.TempMin != 0 || s.TempMax != 0 {
		t.Error("temp aggregates must stay zero without probes")
	}
}
