// Package telemetry collects device samples over MQTT or by polling the
// device adapters and feeds them into the telemetry store.
package telemetry
