package metrics

import "github.com/kilianp07/microgrid/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusAddr enables the /metrics exporter when not empty.
	PrometheusAddr string `json:"prometheus_addr"`
}
