// Package config maps the viper configuration onto typed settings.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/nycrime-kg/crimedash/pkg/dataset"
	"github.com/nycrime-kg/crimedash/pkg/filter"
	"github.com/nycrime-kg/crimedash/pkg/whttp"
)

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
}

// APIConfig points the dashboard at the crime query API.
type APIConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	RetryMax int           `mapstructure:"retry_max"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Proxy    string        `mapstructure:"proxy"`
}

type DashboardConfig struct {
	MinorThreshold float64       `mapstructure:"minor_threshold"`
	TopN           int           `mapstructure:"top_n"`
	YearMin        int           `mapstructure:"year_min"`
	YearMax        int           `mapstructure:"year_max"`
	Limits         []int         `mapstructure:"limits"`
	Boroughs       []string      `mapstructure:"boroughs"`
	WaitTimeout    time.Duration `mapstructure:"wait_timeout"`

	// RefreshInterval reloads the dashboard periodically; 0 disables it.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// ServerConfig covers both listeners: the web dashboard and the reference
// query API. Username and Password protect the query API when set.
type ServerConfig struct {
	Listen    string `mapstructure:"listen"`
	APIListen string `mapstructure:"api_listen"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	fo := filter.DefaultOptions()
	do := dataset.DefaultOptions()

	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.retry_max", 2)
	v.SetDefault("api.username", "")
	v.SetDefault("api.password", "")
	v.SetDefault("api.proxy", "")

	v.SetDefault("dashboard.minor_threshold", do.MinorThreshold)
	v.SetDefault("dashboard.top_n", do.TopN)
	v.SetDefault("dashboard.year_min", fo.YearMin)
	v.SetDefault("dashboard.year_max", fo.YearMax)
	v.SetDefault("dashboard.limits", fo.Limits)
	v.SetDefault("dashboard.boroughs", fo.Boroughs)
	v.SetDefault("dashboard.wait_timeout", 20*time.Second)
	v.SetDefault("dashboard.refresh_interval", time.Duration(0))

	v.SetDefault("server.listen", "localhost:8080")
	v.SetDefault("server.api_listen", "localhost:8000")
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")

	v.SetDefault("db.path", "")
}

// Load unmarshals v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if t := c.Dashboard.MinorThreshold; t < 0 || t >= 1 {
		errs = append(errs, fmt.Errorf("dashboard.minor_threshold must be in [0,1), got %v", t))
	}
	if c.Dashboard.TopN <= 0 {
		errs = append(errs, fmt.Errorf("dashboard.top_n must be positive, got %d", c.Dashboard.TopN))
	}
	if c.Dashboard.YearMin > c.Dashboard.YearMax {
		errs = append(errs, fmt.Errorf("dashboard.year_min %d is after year_max %d", c.Dashboard.YearMin, c.Dashboard.YearMax))
	}
	if c.Dashboard.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("dashboard.refresh_interval must not be negative, got %s", c.Dashboard.RefreshInterval))
	}
	for _, l := range c.Dashboard.Limits {
		if l <= 0 {
			errs = append(errs, fmt.Errorf("dashboard.limits must be positive, got %d", l))
			break
		}
	}
	return errors.Join(errs...)
}

// Client returns the transport settings of the query API.
func (c *Config) Client() whttp.Config {
	return whttp.Config{
		BaseURL:  c.API.BaseURL,
		Timeout:  c.API.Timeout,
		RetryMax: c.API.RetryMax,
		Username: c.API.Username,
		Password: c.API.Password,
		Proxy:    c.API.Proxy,
	}
}

// FilterOptions returns the accepted filter values.
func (c *Config) FilterOptions() filter.Options {
	o := filter.Options{
		Boroughs: append([]string(nil), c.Dashboard.Boroughs...),
		YearMin:  c.Dashboard.YearMin,
		YearMax:  c.Dashboard.YearMax,
		Limits:   c.Dashboard.Limits,
	}
	for i, b := range o.Boroughs {
		o.Boroughs[i] = filter.NormalizeName(b)
	}
	return o
}

// DatasetOptions returns the result shaping settings.
func (c *Config) DatasetOptions() dataset.Options {
	return dataset.Options{MinorThreshold: c.Dashboard.MinorThreshold, TopN: c.Dashboard.TopN}
}
