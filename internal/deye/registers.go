// Package deye declares the register map of the Deye SG04LP3 hybrid
// inverter and its discovery schema.
package deye

import (
	"time"

	"solar-mqtt-bridge/internal/discovery"
	"solar-mqtt-bridge/internal/modbus"
)

// RegisterDef couples a Modbus register with its consumer-facing
// metadata.
type RegisterDef struct {
	modbus.Register
	Unit        string
	DeviceClass string
	StateClass  string
	Icon        string
	// LegacyID preserves the unique id of the predecessor integration
	// for a handful of long-lived entities.
	LegacyID string
}

func r16(addr uint16, name string, scale float64, group, unit, dclass, sclass string) RegisterDef {
	return RegisterDef{
		Register:    modbus.Register{Address: addr, Name: name, Encoding: modbus.Signed16, Scale: scale, Group: group},
		Unit:        unit,
		DeviceClass: dclass,
		StateClass:  sclass,
	}
}

func u16(addr uint16, name string, scale float64, group, unit, dclass, sclass string) RegisterDef {
	d := r16(addr, name, scale, group, unit, dclass, sclass)
	d.Encoding = modbus.Unsigned16
	return d
}

func u32(addr uint16, name string, scale float64, group, unit, dclass, sclass string) RegisterDef {
	d := r16(addr, name, scale, group, unit, dclass, sclass)
	d.Encoding = modbus.Unsigned32LSWFirst
	return d
}

func (d RegisterDef) legacy(id string) RegisterDef { d.LegacyID = id; return d }
func (d RegisterDef) icon(icon string) RegisterDef { d.Icon = icon; return d }
func (d RegisterDef) offset(o float64) RegisterDef { d.Offset = o; return d }

const (
	fast   = discovery.GroupFast
	normal = discovery.GroupNormal
	slow   = discovery.GroupSlow
)

// Registers returns the SG04LP3 register map. Addresses are decimal.
func Registers() []RegisterDef {
	return []RegisterDef{
		// Solar input
		r16(672, "pv1_power", 1, fast, "W", "power", "measurement").legacy("deye-tcp-pv1-power"),
		r16(673, "pv2_power", 1, fast, "W", "power", "measurement").legacy("deye-tcp-pv2-power"),
		u16(676, "pv1_voltage", 0.1, normal, "V", "voltage", "measurement"),
		u16(678, "pv2_voltage", 0.1, normal, "V", "voltage", "measurement"),
		u16(677, "pv1_current", 0.1, normal, "A", "current", "measurement"),
		u16(679, "pv2_current", 0.1, normal, "A", "current", "measurement"),
		u16(529, "daily_production", 0.1, normal, "kWh", "energy", "total_increasing"),
		u32(534, "total_production", 0.1, slow, "kWh", "energy", "total_increasing"),

		// Battery
		u16(99, "battery_equalization_voltage", 0.01, slow, "V", "voltage", "measurement"),
		u16(100, "battery_absorption_voltage", 0.01, slow, "V", "voltage", "measurement"),
		u16(101, "battery_float_voltage", 0.01, slow, "V", "voltage", "measurement"),
		u16(102, "battery_capacity_setting", 1, slow, "Ah", "", "measurement").icon("mdi:battery"),
		u16(108, "battery_max_charge_current", 1, slow, "A", "current", "measurement"),
		u16(109, "battery_max_discharge_current", 1, slow, "A", "current", "measurement"),
		u16(514, "daily_battery_charge", 0.1, normal, "kWh", "energy", "total_increasing"),
		u16(515, "daily_battery_discharge", 0.1, normal, "kWh", "energy", "total_increasing"),
		u32(516, "total_battery_charge", 0.1, slow, "kWh", "energy", "total_increasing"),
		u32(518, "total_battery_discharge", 0.1, slow, "kWh", "energy", "total_increasing"),
		r16(586, "battery_temperature", 0.1, normal, "°C", "temperature", "measurement").offset(-100),
		u16(587, "battery_voltage", 0.01, normal, "V", "voltage", "measurement"),
		u16(588, "battery_soc", 1, normal, "%", "battery", "measurement").legacy("deye-tcp-battery-soc"),
		r16(590, "battery_power", 1, fast, "W", "power", "measurement").legacy("deye-tcp-battery-power"),
		r16(591, "battery_current", 0.01, normal, "A", "current", "measurement"),

		// Grid
		u16(598, "grid_voltage_l1", 0.1, normal, "V", "voltage", "measurement"),
		u16(599, "grid_voltage_l2", 0.1, normal, "V", "voltage", "measurement"),
		u16(600, "grid_voltage_l3", 0.1, normal, "V", "voltage", "measurement"),
		u16(638, "grid_frequency", 0.01, fast, "Hz", "frequency", "measurement").legacy("deye-tcp-grid-frequency1"),
		r16(625, "total_grid_power", 1, fast, "W", "power", "measurement").legacy("deye-tcp-total-grid-power"),
		r16(604, "grid_power_ct_l1", 1, normal, "W", "power", "measurement"),
		r16(605, "grid_power_ct_l2", 1, normal, "W", "power", "measurement"),
		r16(606, "grid_power_ct_l3", 1, normal, "W", "power", "measurement"),
		r16(616, "grid_power_ext_ct_l1", 1, normal, "W", "power", "measurement"),
		r16(617, "grid_power_ext_ct_l2", 1, normal, "W", "power", "measurement"),
		r16(618, "grid_power_ext_ct_l3", 1, normal, "W", "power", "measurement"),
		u16(520, "daily_energy_bought", 0.1, normal, "kWh", "energy", "total_increasing"),
		u32(522, "total_energy_bought", 0.1, slow, "kWh", "energy", "total_increasing"),
		u16(521, "daily_energy_sold", 0.1, normal, "kWh", "energy", "total_increasing"),
		u32(524, "total_energy_sold", 0.1, slow, "kWh", "energy", "total_increasing"),

		// Load
		r16(653, "total_load_power", 1, fast, "W", "power", "measurement").legacy("deye-tcp-total-load-power"),
		r16(650, "load_power_l1", 1, normal, "W", "power", "measurement"),
		r16(651, "load_power_l2", 1, normal, "W", "power", "measurement"),
		r16(652, "load_power_l3", 1, normal, "W", "power", "measurement"),
		u16(644, "load_voltage_l1", 0.1, normal, "V", "voltage", "measurement"),
		u16(645, "load_voltage_l2", 0.1, normal, "V", "voltage", "measurement"),
		u16(646, "load_voltage_l3", 0.1, normal, "V", "voltage", "measurement"),
		u16(526, "daily_load_consumption", 0.1, normal, "kWh", "energy", "total_increasing"),
		u32(527, "total_load_consumption", 0.1, slow, "kWh", "energy", "total_increasing"),

		// Inverter output
		r16(630, "inverter_current_l1", 0.01, normal, "A", "current", "measurement"),
		r16(631, "inverter_current_l2", 0.01, normal, "A", "current", "measurement"),
		r16(632, "inverter_current_l3", 0.01, normal, "A", "current", "measurement"),
		r16(633, "inverter_power_l1", 1, normal, "W", "power", "measurement"),
		r16(634, "inverter_power_l2", 1, normal, "W", "power", "measurement"),
		r16(635, "inverter_power_l3", 1, normal, "W", "power", "measurement"),
		u16(636, "inverter_frequency", 0.01, normal, "Hz", "frequency", "measurement"),

		// Heatsink temperatures
		r16(540, "dc_temperature", 0.1, normal, "°C", "temperature", "measurement").offset(-100),
		r16(541, "ac_temperature", 0.1, normal, "°C", "temperature", "measurement").offset(-100),

		// Limits the inverter received from the BMS over CAN
		u16(212, "bms_charge_current_limit", 1, normal, "A", "current", "measurement").legacy("deye-tcp-bms-charge-current"),
		u16(213, "bms_discharge_current_limit", 1, normal, "A", "current", "measurement").legacy("deye-tcp-bms-discharge-current"),

		// Settings, read-only monitoring
		u16(143, "max_sell_power", 1, slow, "W", "power", "measurement").legacy("deye-tcp-max-sell-power"),
		u16(142, "sell_mode_enabled", 1, slow, "", "", "").icon("mdi:transmission-tower-export"),

		// Generator port
		u16(661, "gen_voltage_l1", 0.1, slow, "V", "voltage", "measurement"),
		u16(662, "gen_voltage_l2", 0.1, slow, "V", "voltage", "measurement"),
		u16(663, "gen_voltage_l3", 0.1, slow, "V", "voltage", "measurement"),
		r16(664, "gen_power_l1", 1, slow, "W", "power", "measurement"),
		r16(665, "gen_power_l2", 1, slow, "W", "power", "measurement"),
		r16(666, "gen_power_l3", 1, slow, "W", "power", "measurement"),
		r16(667, "gen_total_power", 1, slow, "W", "power", "measurement"),

		// Status and alert codes
		u16(552, "running_status", 1, normal, "", "", "").icon("mdi:state-machine"),
		u16(553, "alert_code_1", 1, slow, "", "", "").icon("mdi:alert"),
		u16(554, "alert_code_2", 1, slow, "", "", "").icon("mdi:alert"),
		u16(555, "alert_code_3", 1, slow, "", "", "").icon("mdi:alert"),
		u16(556, "alert_code_4", 1, slow, "", "", "").icon("mdi:alert"),
		u16(557, "alert_code_5", 1, slow, "", "", "").icon("mdi:alert"),
		u16(558, "alert_code_6", 1, slow, "", "", "").icon("mdi:alert"),
	}
}

// ModbusRegisters projects the table down to the scan descriptors.
func ModbusRegisters() []modbus.Register {
	defs := Registers()
	regs := make([]modbus.Register, len(defs))
	for i, d := range defs {
		regs[i] = d.Register
	}
	return regs
}

// Sensors derives the discovery schema from the register table. The
// suggested precision follows the scale: two decimals for centi-scaled
// registers, one for deci-scaled.
func Sensors() []discovery.Sensor {
	defs := Registers()
	sensors := make([]discovery.Sensor, len(defs))
	for i, d := range defs {
		precision := 0
		if d.Scale > 0 && d.Scale < 1 {
			if d.Scale <= 0.01 {
				precision = 2
			} else {
				precision = 1
			}
		}
		sensors[i] = discovery.Sensor{
			Name:        d.Name,
			Unit:        d.Unit,
			DeviceClass: d.DeviceClass,
			StateClass:  d.StateClass,
			Icon:        d.Icon,
			Precision:   precision,
			Group:       d.Group,
			LegacyID:    d.LegacyID,
		}
	}
	return sensors
}

// MinInterval returns the publish rate floor for a scan group. Slower
// groups refresh less often, so their floors are wider.
func MinInterval(group string) time.Duration {
	switch group {
	case fast:
		return 5 * time.Second
	case slow:
		return 30 * time.Second
	default:
		return 15 * time.Second
	}
}
