package forecast

import "github.com/kilianp07/microgrid/core/factory"

var registry = factory.NewRegistry[Provider]()

func init() {
	registry.MustRegister("static", func(conf map[string]any) (Provider, error) {
		var c StaticConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewStaticProvider(c), nil
	})
	registry.MustRegister("file", func(conf map[string]any) (Provider, error) {
		var c struct {
			Path string `json:"path"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Path == "" {
			return nil, errMissingPath
		}
		return NewFileProvider(c.Path), nil
	})
}

// Register adds a provider factory identified by name.
func Register(name string, f factory.Factory[Provider]) error {
	return registry.Register(name, f)
}

// Types lists the registered provider types.
func Types() []string { return registry.Names() }

// New builds the provider selected by cfg.Type. An empty type selects the
// static provider.
func New(cfg factory.ModuleConfig) (Provider, error) {
	if cfg.Type == "" {
		cfg.Type = "static"
	}
	return registry.Create(cfg)
}
