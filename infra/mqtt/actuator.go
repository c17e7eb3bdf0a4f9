package mqtt

import (
	"context"
	"time"

	"github.com/kilianp07/microgrid/core/device"
	"github.com/kilianp07/microgrid/core/model"
)

// Commander publishes device commands and waits for their acknowledgment.
type Commander interface {
	SendCommand(ctx context.Context, a model.Action) (string, error)
	WaitForAck(ctx context.Context, commandID string, timeout time.Duration) error
}

// Actuator sends approved actions over MQTT. Send returns only once the
// device acknowledged the command.
type Actuator struct {
	cmd     Commander
	timeout time.Duration
}

// NewActuator wraps a Commander. A non-positive timeout defaults to five
// seconds.
func NewActuator(cmd Commander, timeout time.Duration) *Actuator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Actuator{cmd: cmd, timeout: timeout}
}

// Send implements device.Actuator.
func (a *Actuator) Send(ctx context.Context, act model.Action) error {
	id, err := a.cmd.SendCommand(ctx, act)
	if err != nil {
		return err
	}
	return a.cmd.WaitForAck(ctx, id, a.timeout)
}

var _ device.Actuator = (*Actuator)(nil)
