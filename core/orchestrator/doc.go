// Package orchestrator drives the control cycle of one microgrid:
//
//	Idle → Forecasting → Solving → Validating → [Retrying →] Committed → Actuating → Idle
//
// Cycles never overlap. Every action derived from the committed schedule is
// validated again by the guard rail, with fresh telemetry, right before it is
// sent; rejected actions are replaced by their fallback only when the
// fallback itself passes. Actions submitted from outside a cycle go through
// the same gate via Execute.
package orchestrator
