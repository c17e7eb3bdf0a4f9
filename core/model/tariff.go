package model

import "time"

// TariffBand is a time-of-use price band covering [StartHour, EndHour) of the
// day in the schedule's time zone.
type TariffBand struct {
	Name string `json:"name"`
	// StartHour and EndHour are hours of day in [0,24].
	StartHour   int     `json:"start_hour"`
	EndHour     int     `json:"end_hour"`
	ImportPrice float64 `json:"import_price"`
	ExportPrice float64 `json:"export_price"`
	// CarbonIntensity is the grid emission factor in gCO2/kWh.
	CarbonIntensity float64 `json:"carbon_intensity"`
}

func (b TariffBand) covers(hour int) bool {
	if b.StartHour <= b.EndHour {
		return hour >= b.StartHour && hour < b.EndHour
	}
	return hour >= b.StartHour || hour < b.EndHour
}

// TariffSchedule resolves the band of any instant. Bands are evaluated in
// order; the first match wins and Default covers the remaining hours.
type TariffSchedule struct {
	Bands   []TariffBand `json:"bands"`
	Default TariffBand   `json:"default"`
}

// At returns the band in effect at t.
func (s TariffSchedule) At(t time.Time) TariffBand {
	h := t.Hour()
	for _, b := range s.Bands {
		if b.covers(h) {
			return b
		}
	}
	return s.Default
}

// DefaultTariff returns the peak/shoulder/off-peak schedule used when none is
// configured.
func DefaultTariff() TariffSchedule {
	return TariffSchedule{
		Bands: []TariffBand{
			{Name: "peak", StartHour: 6, EndHour: 9, ImportPrice: 8.5, ExportPrice: 3.0, CarbonIntensity: 910},
			{Name: "peak", StartHour: 18, EndHour: 22, ImportPrice: 8.5, ExportPrice: 3.0, CarbonIntensity: 910},
			{Name: "shoulder", StartHour: 9, EndHour: 18, ImportPrice: 6.5, ExportPrice: 2.5, CarbonIntensity: 780},
		},
		Default: TariffBand{Name: "off_peak", ImportPrice: 4.5, ExportPrice: 2.0, CarbonIntensity: 820},
	}
}
