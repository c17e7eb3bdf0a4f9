package sim

import (
	"github.com/kilianp07/microgrid/core/device"
	"github.com/kilianp07/microgrid/core/factory"
)

// Adapter type names.
const (
	TypeBattery = "sim_battery"
	TypeGrid    = "sim_grid"
)

func init() {
	_ = device.RegisterAdapter(TypeBattery, func(conf map[string]any) (device.Adapter, error) {
		var c BatteryConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		b, err := NewBattery(c)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	_ = device.RegisterAdapter(TypeGrid, func(conf map[string]any) (device.Adapter, error) {
		var c GridConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewGrid(c), nil
	})
}
