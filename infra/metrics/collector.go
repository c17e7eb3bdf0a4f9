package metrics

import (
	"context"
	"sync"

	"github.com/kilianp07/microgrid/core/events"
	coremetrics "github.com/kilianp07/microgrid/core/metrics"
	"github.com/kilianp07/microgrid/core/monitoring"
	"github.com/kilianp07/microgrid/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and forwards cycle events to
// the recorders the sink implements. It stops when the context is canceled or
// the bus is closed. The returned WaitGroup completes once the subscriber
// goroutine exits.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.Sink) *sync.WaitGroup {
	var wg sync.WaitGroup
	if bus == nil || sink == nil {
		return &wg
	}
	sub := bus.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := dispatch(sink, ev); err != nil {
					monitoring.CaptureException(err, map[string]string{"component": "metrics-collector"})
				}
			}
		}
	}()
	return &wg
}

func dispatch(sink coremetrics.Sink, ev eventbus.Event) error {
	switch e := ev.(type) {
	case events.OutcomeEvent:
		return sink.RecordOutcome(e)
	case events.RejectionEvent:
		if r, ok := sink.(coremetrics.RejectionRecorder); ok {
			return r.RecordRejection(e)
		}
	case events.ActuationEvent:
		if r, ok := sink.(coremetrics.ActuationRecorder); ok {
			return r.RecordActuation(e)
		}
	case events.StateEvent:
		if r, ok := sink.(coremetrics.StateRecorder); ok {
			return r.RecordState(e)
		}
	case events.CycleFailedEvent:
		if r, ok := sink.(coremetrics.FailureRecorder); ok {
			return r.RecordCycleFailure(e)
		}
	case events.HealthEvent:
		if r, ok := sink.(coremetrics.HealthRecorder); ok {
			return r.RecordHealth(e)
		}
	}
	return nil
}
