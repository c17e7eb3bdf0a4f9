// Package api exposes the control cycle journal, live telemetry and the
// external action gate over HTTP. Every route requires a bearer token: the
// configured static token or an HS256 JWT signed with the configured secret.
package api
