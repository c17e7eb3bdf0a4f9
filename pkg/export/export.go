package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/microgrid/core/model"
)

// WriteJSON writes the schedule to w in JSON format.
func WriteJSON(w io.Writer, s model.Schedule) error {
	enc := json.NewEncoder(w)
	return enc.Encode(s)
}

// WriteCSV writes one row per step with the step start time in RFC3339.
func WriteCSV(w io.Writer, s model.Schedule) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timeslot", "battery_power_kw", "grid_power_kw", "soc_after_percent", "curtailed_kw", "unserved_kw"}); err != nil {
		return err
	}
	for i, st := range s.Steps {
		rec := []string{
			s.Start.Add(time.Duration(i) * s.Step).Format(time.RFC3339),
			formatKW(st.BatteryPowerKW),
			formatKW(st.GridPowerKW),
			formatKW(st.SOCAfterPercent),
			formatKW(st.CurtailedKW),
			formatKW(st.UnservedKW),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatKW(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
