package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	cyclesTotal   *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	actionsTotal  *prometheus.CounterVec
	batterySOC    prometheus.Gauge
)

func newCollectors() (*prometheus.CounterVec, prometheus.Histogram, *prometheus.CounterVec, prometheus.Gauge) {
	cyc := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microgrid_cycles_total",
			Help: "Number of control cycles by result",
		},
		[]string{"result"},
	)
	dur := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "microgrid_cycle_duration_seconds",
			Help:    "Wall time of a control cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
	act := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microgrid_actions_total",
			Help: "Number of actions by device and result",
		},
		[]string{"device", "result"},
	)
	soc := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "microgrid_battery_soc_percent",
			Help: "Battery SOC used as the initial state of the last cycle",
		},
	)
	return cyc, dur, act, soc
}

func init() {
	cyclesTotal, cycleDuration, actionsTotal, batterySOC = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers orchestrator metrics on reg, or on the
// default registerer when reg is nil.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(cyclesTotal, cycleDuration, actionsTotal, batterySOC)
}

// ResetMetrics recreates the collectors and registers them on reg if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	cyclesTotal, cycleDuration, actionsTotal, batterySOC = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
