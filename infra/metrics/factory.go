package metrics

import (
	"github.com/kilianp07/microgrid/core/factory"
	coremetrics "github.com/kilianp07/microgrid/core/metrics"
)

// init registers the Prometheus and InfluxDB sinks.
func init() {
	coremetrics.MustRegisterSink("prometheus", func(map[string]any) (coremetrics.Sink, error) {
		return NewPromSink()
	})

	coremetrics.MustRegisterSink("influx", func(conf map[string]any) (coremetrics.Sink, error) {
		var c InfluxConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewInfluxSinkWithFallback(c), nil
	})
}
