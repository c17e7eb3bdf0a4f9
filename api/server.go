package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/kilianp07/microgrid/core/journal"
	"github.com/kilianp07/microgrid/infra/logger"
)

// Config enables the HTTP API when Addr is set.
type Config struct {
	Addr string     `json:"addr"`
	Auth AuthConfig `json:"auth"`
}

// Deps are the components served by the API. Journal may be nil.
type Deps struct {
	Gate      Gate
	Telemetry Snapshotter
	Journal   journal.Store
}

// NewRouter returns the API routes.
func NewRouter(auth AuthConfig, d Deps) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /api/cycles", requireRole(auth, "", NewCycleHandler(d.Journal)))
	mux.Handle("GET /api/devices/telemetry", requireRole(auth, "", NewTelemetryHandler(d.Telemetry)))
	mux.Handle("POST /api/actions", requireRole(auth, RoleOperator, NewActionHandler(d.Gate)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// Start serves h on addr until ctx is canceled.
func Start(ctx context.Context, addr string, h http.Handler, log logger.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, h, log)
}

// Serve is Start on an existing listener. It returns nil on a clean shutdown.
func Serve(ctx context.Context, ln net.Listener, h http.Handler, log logger.Logger) error {
	if log == nil {
		log = logger.NopLogger{}
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Infof("api listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
