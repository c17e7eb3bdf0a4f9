// Package monitoring installs Sentry as the error-capture hook.
package monitoring
