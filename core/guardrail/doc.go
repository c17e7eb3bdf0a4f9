// Package guardrail is the trust boundary between dispatch decisions and the
// hardware. Every action, whether computed by the solver or issued by an
// operator, is checked here before it may reach a device.
//
// Checks run by category, in order:
//   - range: parameters against the constraint catalog
//   - anomaly: latest telemetry bands, step-over-step jumps and staleness
//   - consistency: SOC trajectory of a full schedule (schedules only)
//
// The first failing category ends validation; all violations inside that
// category are reported. The validator holds no mutable state and is safe for
// concurrent use.
package guardrail
