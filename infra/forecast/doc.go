// Package forecast provides forecast providers backed by remote services.
// Importing it registers the "http" provider type.
package forecast
