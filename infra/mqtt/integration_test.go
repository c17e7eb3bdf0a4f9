package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/microgrid/core/device"
	"github.com/kilianp07/microgrid/core/model"
)

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
`

func startMosquitto(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if v := os.Getenv("DOCKER_AVAILABLE"); v != "true" && v != "1" {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	path := t.TempDir() + "/mosquitto.conf"
	require.NoError(t, os.WriteFile(path, []byte(mosquittoConf), 0644))

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      path,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cont.Terminate(context.Background()) })

	host, err := cont.Host(ctx)
	require.NoError(t, err)
	port, err := cont.MappedPort(ctx, "1883")
	require.NoError(t, err)
	return fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

// fakeDevice acknowledges set_power commands and refuses everything else.
func fakeDevice(t *testing.T, broker string) {
	t.Helper()
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("fake-bess")
	cli := paho.NewClient(opts)
	tok := cli.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	t.Cleanup(func() { cli.Disconnect(100) })

	tok = cli.Subscribe("microgrid/devices/bess/command", 1, func(c paho.Client, m paho.Message) {
		var cmd command
		if err := json.Unmarshal(m.Payload(), &cmd); err != nil {
			return
		}
		ack := map[string]any{"command_id": cmd.CommandID, "accepted": cmd.Kind == model.KindSetPower}
		b, _ := json.Marshal(ack)
		c.Publish("microgrid/devices/bess/ack", 1, false, b)
	})
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
}

func TestActuatorAgainstMosquitto(t *testing.T) {
	broker := startMosquitto(t)
	fakeDevice(t, broker)

	var (
		cli *PahoClient
		err error
	)
	for i := 0; i < 5; i++ {
		cli, err = NewPahoClient(Config{Broker: broker, ClientID: "controller", QoS: map[string]byte{"command": 1, "ack": 1}})
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, err)
	defer cli.Disconnect()

	act := NewActuator(cli, 5*time.Second)
	ctx := context.Background()
	assert.NoError(t, act.Send(ctx, model.Action{DeviceID: "bess", Kind: model.KindSetPower, Parameters: map[string]float64{"power_kw": 20}}))
	assert.ErrorIs(t, act.Send(ctx, model.Hold("bess")), device.ErrNack)
}
