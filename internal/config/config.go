package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"molder/internal/hardware"
	"molder/internal/types"
)

const DefaultPath = "/etc/molder/config.yaml"

type Config struct {
	LogLevel    string            `mapstructure:"log_level"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Hardware    HardwareConfig    `mapstructure:"hardware"`
	Thermometer ThermometerConfig `mapstructure:"thermometer"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Defaults    DefaultsConfig    `mapstructure:"defaults"`
}

type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type HardwareConfig struct {
	Simulate bool `mapstructure:"simulate"`

	hardware.Mapping `mapstructure:",squash"`
}

type ThermometerConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// DefaultsConfig holds the tunables used until the operator saves their own.
type DefaultsConfig struct {
	CycleTime  time.Duration `mapstructure:"cycle_time"`
	InjectTime time.Duration `mapstructure:"inject_time"`
	OpenDelay  time.Duration `mapstructure:"open_delay"`
}

func (d DefaultsConfig) Settings() types.Settings {
	return types.Settings{
		CycleTime:  d.CycleTime,
		InjectTime: d.InjectTime,
		OpenDelay:  d.OpenDelay,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("storage.path", "/var/lib/molder/molder.db")
	v.SetDefault("thermometer.path", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9108")

	m := hardware.DefaultMapping()
	v.SetDefault("hardware.simulate", false)
	v.SetDefault("hardware.chip", m.Chip)
	for name, line := range m.Outputs {
		v.SetDefault("hardware.outputs."+name, line)
	}
	for name, in := range m.Inputs {
		v.SetDefault("hardware.inputs."+name+".line", in.Line)
		v.SetDefault("hardware.inputs."+name+".active_low", in.ActiveLow)
	}

	s := types.DefaultSettings()
	v.SetDefault("defaults.cycle_time", s.CycleTime.String())
	v.SetDefault("defaults.inject_time", s.InjectTime.String())
	v.SetDefault("defaults.open_delay", s.OpenDelay.String())
}

// Load reads the YAML file at path. A missing file leaves every key at its
// default; environment variables (MOLDER_REDIS_HOST, ...) override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MOLDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Defaults.Settings().Validate(); err != nil {
		return nil, fmt.Errorf("invalid defaults: %w", err)
	}
	return &config, nil
}
