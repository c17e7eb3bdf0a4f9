// Package config loads the service configuration with koanf from a yaml or
// json file and MG_ prefixed environment variables.
package config
