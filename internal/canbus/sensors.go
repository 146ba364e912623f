package canbus

import (
	"time"

	"solar-mqtt-bridge/internal/discovery"
)

// Publish tuning for the CAN bridge. Limits change rarely and retain for
// late subscribers; SOC moves slowly; the extremes jitter and get
// hysteresis instead of a long interval.
const (
	MinIntervalLimits = 500 * time.Millisecond
	MinIntervalSOC    = 5 * time.Second
	MinIntervalDelta  = 2 * time.Second

	VoltHyst  = 0.01  // V, cell min/max
	TempHyst  = 0.2   // °C
	DeltaHyst = 0.005 // V, cell delta
)

// Sensors returns the discovery schema of the CAN bridge.
func Sensors() []discovery.Sensor {
	return []discovery.Sensor{
		{Name: "soc", DisplayName: "BMS SOC", Unit: "%", StateClass: "measurement", Icon: "mdi:battery"},
		{Name: "soh", DisplayName: "BMS SOH", Unit: "%", StateClass: "measurement", Icon: "mdi:battery-heart"},

		{Name: "v_charge_max", DisplayName: "BMS Charge Voltage Max", StateTopic: "limit/v_charge_max", Unit: "V", DeviceClass: "voltage", StateClass: "measurement", Precision: 1},
		{Name: "v_low", DisplayName: "BMS Low Voltage Limit", StateTopic: "limit/v_low", Unit: "V", DeviceClass: "voltage", StateClass: "measurement", Precision: 1},
		{Name: "i_charge", DisplayName: "BMS Charge Current Limit", StateTopic: "limit/i_charge", Unit: "A", DeviceClass: "current", StateClass: "measurement", Precision: 1},
		{Name: "i_discharge", DisplayName: "BMS Discharge Current Limit", StateTopic: "limit/i_discharge", Unit: "A", DeviceClass: "current", StateClass: "measurement", Precision: 1},

		{Name: "cell_v_min", DisplayName: "Cell Min Voltage", StateTopic: "ext/cell_v_min", Unit: "V", DeviceClass: "voltage", StateClass: "measurement", Precision: 3},
		{Name: "cell_v_max", DisplayName: "Cell Max Voltage", StateTopic: "ext/cell_v_max", Unit: "V", DeviceClass: "voltage", StateClass: "measurement", Precision: 3},
		{Name: "cell_v_delta", DisplayName: "Cell Delta Voltage", StateTopic: "ext/cell_v_delta", Unit: "V", StateClass: "measurement", Icon: "mdi:chart-bell-curve-cumulative", Precision: 3},

		{Name: "temp_min", DisplayName: "Min Temperature", StateTopic: "ext/temp_min", Unit: "°C", DeviceClass: "temperature", StateClass: "measurement", Precision: 1},
		{Name: "temp_max", DisplayName: "Max Temperature", StateTopic: "ext/temp_max", Unit: "°C", DeviceClass: "temperature", StateClass: "measurement", Precision: 1},

		{Name: "flags", DisplayName: "BMS Flags", Icon: "mdi:flag"},
	}
}
