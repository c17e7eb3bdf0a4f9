package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/microgrid/api"
	"github.com/kilianp07/microgrid/config"
	"github.com/kilianp07/microgrid/core/device"
	"github.com/kilianp07/microgrid/core/forecast"
	"github.com/kilianp07/microgrid/core/guardrail"
	"github.com/kilianp07/microgrid/core/journal"
	coremetrics "github.com/kilianp07/microgrid/core/metrics"
	coremon "github.com/kilianp07/microgrid/core/monitoring"
	"github.com/kilianp07/microgrid/core/orchestrator"
	"github.com/kilianp07/microgrid/core/solver"
	"github.com/kilianp07/microgrid/core/telemetry"
	_ "github.com/kilianp07/microgrid/infra/forecast"
	"github.com/kilianp07/microgrid/infra/logger"
	infmetrics "github.com/kilianp07/microgrid/infra/metrics"
	infmon "github.com/kilianp07/microgrid/infra/monitoring"
	"github.com/kilianp07/microgrid/infra/mqtt"
	"github.com/kilianp07/microgrid/infra/sim"
	inftelemetry "github.com/kilianp07/microgrid/infra/telemetry"
	"github.com/kilianp07/microgrid/internal/eventbus"
)

// Service wires the control loop of one microgrid to its devices, telemetry,
// metrics and alerting.
type Service struct {
	Orchestrator *orchestrator.Orchestrator
	Bridge       *solver.Bridge
	Telemetry    *telemetry.Store
	Devices      *device.Registry

	cfg      *config.Config
	log      logger.Logger
	bus      *eventbus.Bus
	sink     coremetrics.Sink
	monitor  coremon.Monitor
	registry *prometheus.Registry
	mqtt     *mqtt.PahoClient
	manager  *inftelemetry.Manager
	journal  journal.Store
}

// New creates a Service from the configuration. Nothing runs until Run.
func New(cfg *config.Config) (*Service, error) {
	zerolog.SetGlobalLevel(logger.ParseLevel(cfg.Logging.Level))
	logg := logger.New("service")

	mon, err := infmon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	if cfg.Sentry.DSN == "" {
		mon = coremon.LogMonitor{Log: logger.New("monitoring")}
	}
	coremon.Init(mon)

	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	s := &Service{
		cfg:       cfg,
		log:       logg,
		bus:       eventbus.New(),
		sink:      sink,
		monitor:   mon,
		registry:  prometheus.NewRegistry(),
		Telemetry: telemetry.NewStore(telemetry.DefaultDepth),
	}
	if err := s.buildDevices(); err != nil {
		return nil, err
	}
	if cfg.MQTTEnabled() {
		client, err := mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		s.mqtt = client
	}
	if err := s.buildTelemetry(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.buildOrchestrator(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// buildDevices creates the configured adapters. Without adapters and without
// a broker the site is simulated.
func (s *Service) buildDevices() error {
	s.Devices = device.NewRegistry()
	for _, dc := range s.cfg.Microgrid.Devices {
		a, err := device.NewAdapter(dc)
		if err != nil {
			return fmt.Errorf("device %s: %w", dc.Type, err)
		}
		s.Devices.Add(a)
	}
	if len(s.cfg.Microgrid.Devices) > 0 || s.cfg.MQTTEnabled() {
		return nil
	}
	c := s.cfg.Constraints
	b, err := sim.NewBattery(sim.BatteryConfig{
		ID:             s.cfg.Orchestrator.BatteryID,
		CapacityKWh:    s.cfg.Battery.CapacityKWh,
		Efficiency:     s.cfg.Battery.Efficiency,
		InitialSOC:     (c.SOCMin + c.SOCMax) / 2,
		MaxChargeKW:    c.MaxChargeKW,
		MaxDischargeKW: c.MaxDischargeKW,
	})
	if err != nil {
		return fmt.Errorf("simulated battery: %w", err)
	}
	s.Devices.Add(b)
	if id := s.cfg.Orchestrator.GridID; id != "" {
		s.Devices.Add(sim.NewGrid(sim.GridConfig{ID: id}))
	}
	s.log.Infow("no devices configured, using simulation", map[string]any{"devices": s.Devices.IDs()})
	return nil
}

func (s *Service) buildTelemetry() error {
	var opts []inftelemetry.Option
	mode := s.cfg.Telemetry.Mode
	if s.mqtt != nil && mode != inftelemetry.ModePoll {
		opts = append(opts, inftelemetry.WithSubscriber(s.mqtt, s.mqtt.Config().TelemetryTopic()))
	}
	if mode != inftelemetry.ModePush {
		opts = append(opts, inftelemetry.WithPoller(s.Devices))
	}
	m, err := inftelemetry.NewManager(s.cfg.Telemetry, s.Telemetry, s.registry, opts...)
	if err != nil {
		return err
	}
	s.manager = m
	return nil
}

func (s *Service) actuator() device.Actuator {
	if s.mqtt != nil && len(s.Devices.IDs()) == 0 {
		return mqtt.NewActuator(s.mqtt, s.cfg.MQTT.AckTimeout)
	}
	return s.Devices
}

func (s *Service) buildOrchestrator() error {
	fc, err := forecast.New(s.cfg.Forecast)
	if err != nil {
		return fmt.Errorf("forecast: %w", err)
	}
	primary, err := solver.New(s.cfg.Solver.Primary)
	if err != nil {
		return fmt.Errorf("solver: %w", err)
	}
	v := guardrail.New(s.cfg.Battery)
	s.Bridge = solver.NewBridge(primary, v, solver.Options{
		Margin: s.cfg.Solver.Margin,
		Budget: s.cfg.Solver.Budget,
		Logger: logger.New("solver"),
	})
	s.journal, err = journal.Open(s.cfg.Journal)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	s.Orchestrator, err = orchestrator.New(s.cfg.Orchestrator, s.cfg.Plant(), orchestrator.Deps{
		Forecast:  fc,
		Telemetry: s.Telemetry,
		Actuator:  s.actuator(),
		Bridge:    s.Bridge,
		Validator: v,
		Bus:       s.bus,
		Journal:   s.journal,
		Logger:    logger.New("orchestrator"),
	})
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	return nil
}

// Gatherer returns the service collectors together with the process-wide ones.
func (s *Service) Gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{s.registry, prometheus.DefaultGatherer}
}

// Handler returns the HTTP API of the service.
func (s *Service) Handler() http.Handler {
	return api.NewRouter(s.cfg.API.Auth, api.Deps{
		Gate:      s.Orchestrator,
		Telemetry: s.Telemetry,
		Journal:   s.journal,
	})
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var wgs []*sync.WaitGroup
	wgs = append(wgs, infmetrics.StartEventCollector(ctx, s.bus, s.sink))
	if s.mqtt != nil {
		wgs = append(wgs, mqtt.StartAlertPublisher(ctx, s.bus, s.mqtt, s.mqtt.Config().AlertTopic))
	}
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		g.Go(func() error {
			return infmetrics.StartPromServer(ctx, addr, s.Gatherer(), logger.New("prometheus"))
		})
	}
	if addr := s.cfg.API.Addr; addr != "" {
		g.Go(func() error { return api.Start(ctx, addr, s.Handler(), logger.New("api")) })
	}
	g.Go(func() error { return s.manager.Start(ctx) })
	g.Go(func() error { return s.Orchestrator.Run(ctx, 0) })

	s.log.Infow("service started", map[string]any{
		"microgrid": s.cfg.Microgrid.Name,
		"solver":    s.Bridge.Primary(),
		"telemetry": s.cfg.Telemetry.Mode,
		"interval":  s.Orchestrator.Config().Interval.String(),
	})
	err := g.Wait()
	for _, wg := range wgs {
		wg.Wait()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	s.bus.Close()
	if f, ok := s.monitor.(infmon.Flusher); ok {
		f.Flush(2 * time.Second)
	}
	return errors.Join(errs...)
}
