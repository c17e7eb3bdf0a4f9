// Package metrics provides the Prometheus and InfluxDB sinks for cycle
// events, the bus collector feeding them and the /metrics exporter. Importing
// the package registers the "prometheus" and "influx" sink types.
package metrics
