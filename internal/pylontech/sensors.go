package pylontech

import (
	"fmt"
	"time"

	"solar-mqtt-bridge/internal/discovery"
)

// Publish tuning for the RS485 bridge.
const (
	VoltHyst        = 0.002 // volts, cells jitter by a millivolt or two
	CellMinInterval = 5 * time.Second
)

// Sensors returns the discovery schema of the RS485 bridge: stack
// roll-ups plus per-battery sensors including individual cells and
// temperature probes.
func Sensors(numBatteries, cellsPerBattery, tempsPerBattery int) []discovery.Sensor {
	sensors := []discovery.Sensor{
		{Name: "stack_cell_min", DisplayName: "Stack Cell Min", StateTopic: "stack/cell_min", Unit: "V", DeviceClass: "voltage", StateClass: "measurement", Precision: 3},
		{Name: "stack_cell_max", DisplayName: "Stack Cell Max", StateTopic: "stack/cell_max", Unit: "V", DeviceClass: "voltage", StateClass: "measurement", Precision: 3},
		{Name: "stack_cell_delta", DisplayName: "Stack Cell Delta", StateTopic: "stack/cell_delta_mv", Unit: "mV", StateClass: "measurement", Icon: "mdi:chart-bell-curve-cumulative", Precision: 1},
		{Name: "stack_voltage", DisplayName: "Stack Voltage", StateTopic: "stack/voltage", Unit: "V", DeviceClass: "voltage", StateClass: "measurement", Precision: 2},
		{Name: "stack_current", DisplayName: "Stack Current", StateTopic: "stack/current", Unit: "A", DeviceClass: "current", StateClass: "measurement", Precision: 2},
		{Name: "stack_temp_min", DisplayName: "Stack Temp Min", StateTopic: "stack/temp_min", Unit: "°C", DeviceClass: "temperature", StateClass: "measurement", Precision: 1},
		{Name: "stack_temp_max", DisplayName: "Stack Temp Max", StateTopic: "stack/temp_max", Unit: "°C", DeviceClass: "temperature", StateClass: "measurement", Precision: 1},
		{Name: "stack_balancing_count", DisplayName: "Stack Balancing Cells", StateTopic: "stack/balancing_count", StateClass: "measurement", Icon: "mdi:scale-balance"},
		{Name: "stack_balancing_active", DisplayName: "Stack Balancing Active", StateTopic: "stack/balancing_active", Icon: "mdi:scale-balance", Binary: true},
		{Name: "stack_balancing_cells", DisplayName: "Stack Balancing Cell List", StateTopic: "stack/balancing_cells", Icon: "mdi:scale-balance"},
		{Name: "stack_alarms", DisplayName: "Stack Alarms", StateTopic: "stack/alarms", Icon: "mdi:alert"},
	}

	for b := 0; b < numBatteries; b++ {
		id := fmt.Sprintf("batt%d", b)
		label := fmt.Sprintf("Battery %d", b)
		topic := fmt.Sprintf("battery%d", b)

		sensors = append(sensors,
			discovery.Sensor{Name: id + "_cell_min", DisplayName: label + " Cell Min", StateTopic: topic + "/cell_min", Unit: "V", DeviceClass: "voltage", StateClass: "measurement", Precision: 3},
			discovery.Sensor{Name: id + "_cell_max", DisplayName: label + " Cell Max", StateTopic: topic + "/cell_max", Unit: "V", DeviceClass: "voltage", StateClass: "measurement", Precision: 3},
			discovery.Sensor{Name: id + "_cell_delta", DisplayName: label + " Cell Delta", StateTopic: topic + "/cell_delta_mv", Unit: "mV", StateClass: "measurement", Icon: "mdi:chart-bell-curve-cumulative", Precision: 1},
			discovery.Sensor{Name: id + "_voltage", DisplayName: label + " Voltage", StateTopic: topic + "/voltage", Unit: "V", DeviceClass: "voltage", StateClass: "measurement", Precision: 2},
			discovery.Sensor{Name: id + "_current", DisplayName: label + " Current", StateTopic: topic + "/current", Unit: "A", DeviceClass: "current", StateClass: "measurement", Precision: 2},
			discovery.Sensor{Name: id + "_soc", DisplayName: label + " SOC", StateTopic: topic + "/soc", Unit: "%", StateClass: "measurement", Icon: "mdi:battery"},
			discovery.Sensor{Name: id + "_remain_ah", DisplayName: label + " Remaining Capacity", StateTopic: topic + "/remain_ah", Unit: "Ah", StateClass: "measurement", Icon: "mdi:battery-arrow-down", Precision: 1},
			discovery.Sensor{Name: id + "_total_ah", DisplayName: label + " Total Capacity", StateTopic: topic + "/total_ah", Unit: "Ah", Icon: "mdi:battery-high", Precision: 1},
			discovery.Sensor{Name: id + "_cycles", DisplayName: label + " Cycles", StateTopic: topic + "/cycles", StateClass: "total_increasing", Icon: "mdi:counter"},
			discovery.Sensor{Name: id + "_state", DisplayName: label + " State", StateTopic: topic + "/state", Icon: "mdi:battery-sync"},
			discovery.Sensor{Name: id + "_balancing_count", DisplayName: label + " Balancing Cells", StateTopic: topic + "/balancing_count", StateClass: "measurement", Icon: "mdi:scale-balance"},
			discovery.Sensor{Name: id + "_balancing_active", DisplayName: label + " Balancing Active", StateTopic: topic + "/balancing_active", Icon: "mdi:scale-balance", Binary: true},
			discovery.Sensor{Name: id + "_cw_active", DisplayName: label + " CW Balancing Active", StateTopic: topic + "/cw_active", Icon: "mdi:scale-balance", Binary: true},
			discovery.Sensor{Name: id + "_cw_cells", DisplayName: label + " CW Balancing Cells", StateTopic: topic + "/cw_cells", Icon: "mdi:scale-balance"},
			discovery.Sensor{Name: id + "_charge_mosfet", DisplayName: label + " Charge MOSFET", StateTopic: topic + "/charge_mosfet", Icon: "mdi:electric-switch", Binary: true},
			discovery.Sensor{Name: id + "_discharge_mosfet", DisplayName: label + " Discharge MOSFET", StateTopic: topic + "/discharge_mosfet", Icon: "mdi:electric-switch", Binary: true},
			discovery.Sensor{Name: id + "_lmcharge_mosfet", DisplayName: label + " Limited Charge MOSFET", StateTopic: topic + "/lmcharge_mosfet", Icon: "mdi:electric-switch", Binary: true},
			discovery.Sensor{Name: id + "_heater", DisplayName: label + " Heater", StateTopic: topic + "/heater", Icon: "mdi:radiator", Binary: true},
			discovery.Sensor{Name: id + "_warnings", DisplayName: label + " Warnings", StateTopic: topic + "/warnings", Icon: "mdi:alert-outline"},
			discovery.Sensor{Name: id + "_alarms", DisplayName: label + " Alarms", StateTopic: topic + "/alarms", Icon: "mdi:alert"},
		)

		for cell := 1; cell <= cellsPerBattery; cell++ {
			sensors = append(sensors, discovery.Sensor{
				Name:        fmt.Sprintf("%s_cell%02d", id, cell),
				DisplayName: fmt.Sprintf("%s Cell %d", label, cell),
				StateTopic:  fmt.Sprintf("%s/cell%02d", topic, cell),
				Unit:        "V",
				DeviceClass: "voltage",
				StateClass:  "measurement",
				Precision:   3,
			})
		}
		for temp := 1; temp <= tempsPerBattery; temp++ {
			sensors = append(sensors, discovery.Sensor{
				Name:        fmt.Sprintf("%s_temp%d", id, temp),
				DisplayName: fmt.Sprintf("%s Temp %d", label, temp),
				StateTopic:  fmt.Sprintf("%s/temp%d", topic, temp),
				Unit:        "°C",
				DeviceClass: "temperature",
				StateClass:  "measurement",
				Precision:   1,
			})
		}
	}

	return sensors
}
