package api

import (
	"net"
	"strconv"
	"time"
)

// Defaults applied by APIConfig.ApplyDefaults.
const (
	DefaultBind            = "127.0.0.1"
	DefaultPort            = 7070
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// APIConfig configures the control API HTTP server.
type APIConfig struct {
	// Enabled is a pointer so an omitted key (enabled) differs from an
	// explicit false.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// Bind is the listen host. The API can force migrations and toggle
	// standby, so it binds to loopback unless told otherwise.
	Bind string `mapstructure:"bind" yaml:"bind"`
	Port int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// Zero means the default; Walk requests are exempt from WriteTimeout.
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout bounds the drain of in-flight requests on stop.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// IsEnabled reports whether the server should run. Unset means enabled.
func (c *APIConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ApplyDefaults fills zero fields.
func (c *APIConfig) ApplyDefaults() {
	if c.Bind == "" {
		c.Bind = DefaultBind
	}
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	for _, d := range []struct {
		field *time.Duration
		def   time.Duration
	}{
		{&c.ReadTimeout, DefaultReadTimeout},
		{&c.WriteTimeout, DefaultWriteTimeout},
		{&c.IdleTimeout, DefaultIdleTimeout},
		{&c.ShutdownTimeout, DefaultShutdownTimeout},
	} {
		if *d.field == 0 {
			*d.field = d.def
		}
	}
}

// Address returns the host:port to listen on.
func (c *APIConfig) Address() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}
