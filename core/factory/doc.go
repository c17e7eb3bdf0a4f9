// Package factory instantiates pluggable modules from configuration. A module
// is selected by a type string and carries a map of raw settings which the
// registered factory decodes into its own typed struct.
//
// Solvers, forecast providers and metrics sinks are all built this way:
//
//	reg := factory.NewRegistry[forecast.Provider]()
//	reg.MustRegister("file", func(conf map[string]any) (forecast.Provider, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return forecast.NewFileProvider(c.Path), nil
//	})
//	p, err := reg.Create(factory.ModuleConfig{Type: "file", Conf: map[string]any{"path": "forecast.yaml"}})
package factory
