// Package device defines the capability contract of device adapters and the
// registry that routes approved actions to them.
package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/microgrid/core/factory"
	"github.com/kilianp07/microgrid/core/model"
)

var (
	// ErrUnknownDevice is returned for actions addressed to no registered
	// adapter.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrNack marks an action the device refused.
	ErrNack = errors.New("device refused action")
)

// Adapter is the capability contract every device integration implements.
type Adapter interface {
	ID() string
	ReadTelemetry(ctx context.Context) (model.TelemetrySample, error)
	SendAction(ctx context.Context, a model.Action) error
}

// Actuator sends approved actions. A nil error is an ack.
type Actuator interface {
	Send(ctx context.Context, a model.Action) error
}

// Recorder stores polled samples.
type Recorder interface {
	Record(model.TelemetrySample)
}

// Registry holds the adapters of one microgrid. It implements Actuator by
// routing on Action.DeviceID.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns a registry holding adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.adapters[a.ID()] = a
	}
	return r
}

// Add registers an adapter, replacing any adapter with the same id.
func (r *Registry) Add(a Adapter) {
	r.mu.Lock()
	r.adapters[a.ID()] = a
	r.mu.Unlock()
}

// IDs returns the registered device ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the adapter of a device.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// Send implements Actuator.
func (r *Registry) Send(ctx context.Context, a model.Action) error {
	ad, ok := r.Get(a.DeviceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, a.DeviceID)
	}
	return ad.SendAction(ctx, a)
}

// Poll reads every adapter once and records the samples. Read failures are
// joined into the returned error; the other devices are still recorded.
func (r *Registry) Poll(ctx context.Context, rec Recorder) error {
	var errs []error
	for _, id := range r.IDs() {
		ad, _ := r.Get(id)
		s, err := ad.ReadTelemetry(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", id, err))
			continue
		}
		if s.DeviceID == "" {
			s.DeviceID = id
		}
		rec.Record(s)
	}
	return errors.Join(errs...)
}

var adapterRegistry = factory.NewRegistry[Adapter]()

// RegisterAdapter adds an adapter factory identified by type name.
func RegisterAdapter(name string, f factory.Factory[Adapter]) error {
	return adapterRegistry.Register(name, f)
}

// NewAdapter builds an adapter from its module configuration.
func NewAdapter(cfg factory.ModuleConfig) (Adapter, error) {
	return adapterRegistry.Create(cfg)
}
