package e2e

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/microgrid/app"
	"github.com/kilianp07/microgrid/config"
	"github.com/kilianp07/microgrid/core/factory"
	"github.com/kilianp07/microgrid/core/journal"
)

const (
	influxOrg    = "e2e_org"
	influxBucket = "e2e_bucket"
	influxToken  = "e2e-token"
)

// junitReport is a minimal representation of a JUnit XML report. The E2E
// suite writes such a report so CI systems can display the results.
type junitReport struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name    string  `xml:"name,attr"`
	Failure *string `xml:"failure,omitempty"`
	Time    float64 `xml:"time,attr"`
}

// writeJUnit writes the provided report to the given path.
func writeJUnit(path string, rep junitReport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	return enc.Encode(rep)
}

// startInflux starts an InfluxDB 2.7 container already set up with the suite
// organisation, bucket and admin token.
func startInflux(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "e2e",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "e2e-password",
			"DOCKER_INFLUXDB_INIT_ORG":         influxOrg,
			"DOCKER_INFLUXDB_INIT_BUCKET":      influxBucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": influxToken,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start influx container: %v", err)
	}
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "8086")
	url := fmt.Sprintf("http://%s:%s", host, port.Port())
	return cont, url
}

// startMosquitto spins up a Mosquitto broker accepting anonymous clients.
func startMosquitto(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start mosquitto: %v", err)
	}
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "1883")
	return cont, fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

// siteConfig describes a simulated site reporting to both containers.
func siteConfig(t *testing.T, influxURL, broker string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Microgrid.Name = "e2e"
	cfg.Microgrid.Devices = []factory.ModuleConfig{
		{Type: "sim_battery", Conf: map[string]any{"id": "battery", "capacity_kwh": 200, "initial_soc_percent": 50}},
		{Type: "sim_grid", Conf: map[string]any{"id": "grid"}},
	}
	cfg.Orchestrator.GridID = "grid"
	cfg.Orchestrator.Interval = 200 * time.Millisecond
	cfg.Telemetry.PollInterval = 100 * time.Millisecond
	cfg.Metrics.Sinks = []factory.ModuleConfig{
		{Type: "influx", Conf: map[string]any{"url": influxURL, "token": influxToken, "org": influxOrg, "bucket": influxBucket}},
	}
	cfg.MQTT.Broker = broker
	cfg.MQTT.ClientID = "microgrid-e2e"
	cfg.Journal = journal.Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "cycles.db")}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

// Test_E2E_SimulatedSite runs the service against real InfluxDB and Mosquitto
// instances and checks that committed cycles reach both.
func Test_E2E_SimulatedSite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container suite in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not installed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	start := time.Now()

	influxCont, influxURL := startInflux(ctx, t)
	if influxCont != nil {
		defer influxCont.Terminate(ctx) //nolint:errcheck
	}
	mqttCont, mqttURL := startMosquitto(ctx, t)
	if mqttCont != nil {
		defer mqttCont.Terminate(ctx) //nolint:errcheck
	}
	t.Logf("InfluxDB started at %s", influxURL)
	t.Logf("Mosquitto started at %s", mqttURL)

	cli := NewInfluxClient(influxURL, influxOrg, influxBucket, influxToken)
	defer cli.Close()
	if err := cli.SetupBucket(ctx); err != nil {
		t.Fatalf("setup bucket: %v", err)
	}

	var seen atomic.Int64
	watcher := paho.NewClient(paho.NewClientOptions().AddBroker(mqttURL).SetClientID("e2e-watcher"))
	if tok := watcher.Connect(); tok.Wait() && tok.Error() != nil {
		t.Fatalf("watcher connect: %v", tok.Error())
	}
	defer watcher.Disconnect(100)
	if tok := watcher.Subscribe("#", 0, func(paho.Client, paho.Message) { seen.Add(1) }); tok.Wait() && tok.Error() != nil {
		t.Fatalf("watcher subscribe: %v", tok.Error())
	}

	cfg := siteConfig(t, influxURL, mqttURL)
	svc, err := app.New(cfg)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	runCtx, stop := context.WithTimeout(ctx, 3*time.Second)
	defer stop()
	if err := svc.Run(runCtx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if stats := svc.Bridge.Stats(); stats.TotalSolves == 0 {
		t.Fatalf("no solves recorded")
	}
	n, err := cli.CountPoints(ctx, "solve_outcome", 5*time.Minute)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if n == 0 {
		t.Fatalf("no solve_outcome points returned from Influx")
	}
	t.Logf("Influx returned %d solve_outcome points, watcher saw %d MQTT messages", n, seen.Load())

	dir := t.TempDir()
	rep := junitReport{Name: "e2e", Tests: 1, Cases: []junitTestCase{{Name: "Test_E2E_SimulatedSite", Time: time.Since(start).Seconds()}}}
	if err := writeJUnit(filepath.Join(dir, "e2e.xml"), rep); err != nil {
		t.Logf("write junit: %v", err)
	}
}
