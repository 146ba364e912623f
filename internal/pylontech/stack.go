package pylontech

import (
	"fmt"
	"math"
	"sort"
)

// ModuleReading pairs the analog and alarm replies of one battery module
// within a scan cycle. Alarm may be nil when the alarm query failed; the
// analog data still publishes.
type ModuleReading struct {
	ID     int
	Analog *AnalogReading
	Alarm  *AlarmReading
}

// SOC returns the module state of charge in percent.
func (m *ModuleReading) SOC() float64 {
	return m.Analog.SOC()
}

// StackReading is the roll-up over all modules of a parallel stack.
type StackReading struct {
	NumModules int
	NumCells   int

	CellMin     float64
	CellMax     float64
	CellDeltaMV float64
	TempMin     float64
	TempMax     float64
	HasTemps    bool

	// Parallel configuration: voltage is the mean over modules, current
	// is the sum.
	Voltage float64
	Current float64

	BalancingCount int
	BalancingCells []string // B{module}C{cell} tokens
	Alarms         []string // set union over modules
}

// Aggregate rolls per-module readings into one stack summary. Returns nil
// when no module contributed cells.
func Aggregate(modules []ModuleReading) *StackReading {
	s := &StackReading{
		BalancingCells: []string{},
		Alarms:         []string{},
	}

	cellMin, cellMax := math.Inf(1), math.Inf(-1)
	tempMin, tempMax := math.Inf(1), math.Inf(-1)
	voltageSum := 0.0
	alarmSet := map[string]bool{}

	for _, m := range modules {
		if m.Analog == nil || len(m.Analog.Cells) == 0 {
			continue
		}
		s.NumModules++
		s.NumCells += len(m.Analog.Cells)
		for _, v := range m.Analog.Cells {
			if v < cellMin {
				cellMin = v
			}
			if v > cellMax {
				cellMax = v
			}
		}
		for _, t := range m.Analog.Temps {
			s.HasTemps = true
			if t < tempMin {
				tempMin = t
			}
			if t > tempMax {
				tempMax = t
			}
		}
		voltageSum += m.Analog.Voltage()
		s.Current += m.Analog.Current

		if m.Alarm != nil {
			for _, cell := range m.Alarm.BalancingCells {
				s.BalancingCells = append(s.BalancingCells, fmt.Sprintf("B%dC%d", m.ID, cell))
			}
			for _, a := range m.Alarm.Alarms {
				alarmSet[a] = true
			}
		}
	}

	if s.NumModules == 0 {
		return nil
	}

	s.CellMin = round3(cellMin)
	s.CellMax = round3(cellMax)
	s.CellDeltaMV = round1((cellMax - cellMin) * 1000)
	s.Voltage = round2(voltageSum / float64(s.NumModules))
	s.Current = round2(s.Current)
	if s.HasTemps {
		s.TempMin = round1(tempMin)
		s.TempMax = round1(tempMax)
	}
	s.BalancingCount = len(s.BalancingCells)

	for a := range alarmSet {
		s.Alarms = append(s.Alarms, a)
	}
	sort.Strings(s.Alarms)
	return s
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
