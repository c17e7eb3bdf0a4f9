// Package monitoring is the global error-capture hook. Components report
// unexpected failures (publish errors, journal writes) here instead of
// handling them inline; the application installs the implementation.
package monitoring

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kilianp07/microgrid/core/logger"
)

// Monitor receives captured errors.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
}

// NopMonitor discards everything.
type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}

// LogMonitor writes captured errors to a logger.
type LogMonitor struct {
	Log logger.Logger
}

// CaptureException implements Monitor.
func (m LogMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil || m.Log == nil {
		return
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, tags[k])
	}
	m.Log.Errorf("captured: %v [%s]", err, strings.Join(parts, " "))
}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the global monitor implementation.
func Init(m Monitor) {
	if m == nil {
		return
	}
	mu.Lock()
	current = m
	mu.Unlock()
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	mu.RLock()
	m := current
	mu.RUnlock()
	m.CaptureException(err, tags)
}

// Recover captures a panic in the calling goroutine and re-panics. Use it as
// the first deferred call of long-running goroutines.
func Recover() {
	if r := recover(); r != nil {
		CaptureException(fmt.Errorf("panic: %v", r), map[string]string{"kind": "panic"})
		panic(r)
	}
}
