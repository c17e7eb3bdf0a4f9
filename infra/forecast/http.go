package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kilianp07/microgrid/core/factory"
	coreforecast "github.com/kilianp07/microgrid/core/forecast"
	"github.com/kilianp07/microgrid/core/model"
	"github.com/kilianp07/microgrid/infra/auth"
	"github.com/kilianp07/microgrid/infra/logger"
)

// TypeHTTP is the provider type registered by this package.
const TypeHTTP = "http"

// HTTPConfig configures an HTTPProvider.
type HTTPConfig struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
	Auth    auth.Conf     `json:"auth"`
}

// HTTPProvider fetches forecasts from a remote service. The request carries
// the window as start (RFC 3339), step (Go duration) and steps query
// parameters; the response body is a JSON HorizonForecast.
type HTTPProvider struct {
	url    string
	client *http.Client
	cred   *auth.ClientCred
	log    logger.Logger
}

func init() {
	_ = coreforecast.Register(TypeHTTP, func(conf map[string]any) (coreforecast.Provider, error) {
		var c HTTPConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		p, err := NewHTTPProvider(c)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// NewHTTPProvider validates c and returns a provider.
func NewHTTPProvider(c HTTPConfig) (*HTTPProvider, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("forecast: http provider requires a url")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	p := &HTTPProvider{
		url:    c.URL,
		client: &http.Client{Timeout: c.Timeout},
		log:    logger.New("forecast-http"),
	}
	if c.Auth.Enabled() {
		p.cred = auth.NewClientCred(c.Auth)
	}
	return p, nil
}

// Forecast implements forecast.Provider.
func (p *HTTPProvider) Forecast(ctx context.Context, req coreforecast.Request) (model.HorizonForecast, error) {
	u, err := url.Parse(p.url)
	if err != nil {
		return model.HorizonForecast{}, err
	}
	q := u.Query()
	if !req.Start.IsZero() {
		q.Set("start", req.Start.UTC().Format(time.RFC3339))
	}
	if req.Step > 0 {
		q.Set("step", req.Step.String())
	}
	q.Set("steps", strconv.Itoa(req.Steps))
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.HorizonForecast{}, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if p.cred != nil {
		if err := p.cred.SetAuthHeader(httpReq); err != nil {
			return model.HorizonForecast{}, err
		}
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return model.HorizonForecast{}, fmt.Errorf("fetch forecast: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.HorizonForecast{}, fmt.Errorf("fetch forecast: status %d", resp.StatusCode)
	}
	var f model.HorizonForecast
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return model.HorizonForecast{}, fmt.Errorf("%w: %v", coreforecast.ErrMalformedForecast, err)
	}
	if f.Start.IsZero() {
		f.Start = req.Start
	}
	if f.Step == 0 {
		f.Step = req.Step
	}
	p.log.Debugf("fetched %d forecast steps from %s", len(f.Steps), u.Host)
	return f, nil
}
