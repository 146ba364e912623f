package deye

// SolarmanNames maps register names to the display names the Solarman
// integration used for its unique ids. Only mapped sensors get a
// Solarman-compatible identity; the rest derive theirs from the device
// id.
func SolarmanNames() map[string]string {
	return map[string]string{
		// Solar
		"pv1_power":        "PV1 Power",
		"pv2_power":        "PV2 Power",
		"pv1_voltage":      "PV1 Voltage",
		"pv2_voltage":      "PV2 Voltage",
		"pv1_current":      "PV1 Current",
		"pv2_current":      "PV2 Current",
		"daily_production": "Daily Production",
		"total_production": "Total Production",

		// Battery
		"battery_temperature":     "Battery Temperature",
		"battery_voltage":         "Battery Voltage",
		"battery_soc":             "Battery SOC",
		"battery_power":           "Battery Power",
		"battery_current":         "Battery Current",
		"daily_battery_charge":    "Daily Battery Charge",
		"daily_battery_discharge": "Daily Battery Discharge",
		"total_battery_charge":    "Total Battery Charge",
		"total_battery_discharge": "Total Battery Discharge",

		// Grid
		"grid_voltage_l1":      "Grid Voltage L1",
		"grid_voltage_l2":      "Grid Voltage L2",
		"grid_voltage_l3":      "Grid Voltage L3",
		"grid_frequency":       "Grid Frequency",
		"total_grid_power":     "Total Grid Power",
		"grid_power_ct_l1":     "Grid CT L1 Power",
		"grid_power_ct_l2":     "Grid CT L2 Power",
		"grid_power_ct_l3":     "Grid CT L3 Power",
		"grid_power_ext_ct_l1": "External CT L1 Power",
		"grid_power_ext_ct_l2": "External CT L2 Power",
		"grid_power_ext_ct_l3": "External CT L3 Power",
		"daily_energy_bought":  "Daily Energy Bought",
		"daily_energy_sold":    "Daily Energy Sold",
		"total_energy_bought":  "Total Energy Bought",
		"total_energy_sold":    "Total Energy Sold",

		// Load
		"total_load_power":       "Total Load Power",
		"load_power_l1":          "Load L1 Power",
		"load_power_l2":          "Load L2 Power",
		"load_power_l3":          "Load L3 Power",
		"load_voltage_l1":        "Load Voltage L1",
		"load_voltage_l2":        "Load Voltage L2",
		"load_voltage_l3":        "Load Voltage L3",
		"daily_load_consumption": "Daily Load Consumption",
		"total_load_consumption": "Total Load Consumption",

		// Inverter output
		"inverter_current_l1": "Inverter L1 Current",
		"inverter_current_l2": "Inverter L2 Current",
		"inverter_current_l3": "Inverter L3 Current",
		"inverter_power_l1":   "Inverter L1 Power",
		"inverter_power_l2":   "Inverter L2 Power",
		"inverter_power_l3":   "Inverter L3 Power",
		"inverter_frequency":  "Inverter Frequency",

		// Temperatures
		"dc_temperature": "DC Temperature",
		"ac_temperature": "AC Temperature",
	}
}
