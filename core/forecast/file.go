package forecast

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/microgrid/core/model"
)

// FileProvider reads forecasts from a YAML or JSON document with the layout
// of model.HorizonForecast. The file is re-read on every call so an external
// process can refresh it between cycles.
//
// When the document carries a start time, the requested window is located
// relative to it; otherwise the first steps of the file are returned.
type FileProvider struct {
	path string
}

// NewFileProvider returns a provider reading path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Load parses a forecast document.
func Load(path string) (model.HorizonForecast, error) {
	var f model.HorizonForecast
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read forecast %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("%w: decode %s: %v", ErrMalformedForecast, path, err)
	}
	return f, nil
}

// Forecast implements Provider. The returned forecast may be shorter than
// requested when the file does not cover the window; Validate reports that.
func (p *FileProvider) Forecast(ctx context.Context, req Request) (model.HorizonForecast, error) {
	if err := ctx.Err(); err != nil {
		return model.HorizonForecast{}, err
	}
	doc, err := Load(p.path)
	if err != nil {
		return model.HorizonForecast{}, err
	}
	if doc.Step > 0 && req.Step > 0 && doc.Step != req.Step {
		return model.HorizonForecast{}, fmt.Errorf("%w: file step %s, requested %s", ErrMalformedForecast, doc.Step, req.Step)
	}
	offset := 0
	if !doc.Start.IsZero() && !req.Start.IsZero() && req.Step > 0 {
		d := req.Start.Sub(doc.Start)
		if d < 0 {
			return model.HorizonForecast{}, fmt.Errorf("%w: file starts at %s after %s", ErrShortForecast, doc.Start, req.Start)
		}
		offset = int(d / req.Step)
	}
	out := model.HorizonForecast{Start: req.Start, Step: req.Step}
	if offset < len(doc.Steps) {
		end := offset + req.Steps
		if end > len(doc.Steps) {
			end = len(doc.Steps)
		}
		out.Steps = append([]model.ForecastStep(nil), doc.Steps[offset:end]...)
	}
	return out, nil
}
