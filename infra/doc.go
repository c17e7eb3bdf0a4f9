// Package infra holds the technical adapters of the microgrid service: the
// MQTT transport, metric sinks, telemetry ingestion, simulated devices and
// external forecast providers. Subpackages depend only on interfaces defined
// under core.
package infra
