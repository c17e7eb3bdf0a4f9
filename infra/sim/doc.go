// Package sim provides simulated battery and grid meter adapters for local
// runs. Importing it registers the "sim_battery" and "sim_grid" adapter types.
package sim
