package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the whole revcore configuration tree.
type Config struct {
	// Storage backend selection: "etcd" or "memory".
	Store string `mapstructure:"store"`

	Etcd struct {
		Endpoints   []string      `mapstructure:"endpoints"`
		Username    string        `mapstructure:"username"`
		Password    string        `mapstructure:"password"`
		DialTimeout time.Duration `mapstructure:"dial_timeout"`
		Prefix      string        `mapstructure:"prefix"`
	} `mapstructure:"etcd"`

	API struct {
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
	} `mapstructure:"api"`

	Prober struct {
		Interval        time.Duration `mapstructure:"interval"`
		Timeout         time.Duration `mapstructure:"timeout"`
		Workers         int           `mapstructure:"workers"`
		PhantomCycles   int           `mapstructure:"phantom_cycles"`
		StalenessWindow time.Duration `mapstructure:"staleness_window"`
	} `mapstructure:"prober"`

	DNS struct {
		Enabled       bool   `mapstructure:"enabled"`
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
		Zone          string `mapstructure:"zone"`
	} `mapstructure:"dns"`

	Crisis struct {
		StateFile      string        `mapstructure:"state_file"`
		LogFile        string        `mapstructure:"log_file"`
		SampleInterval time.Duration `mapstructure:"sample_interval"`
		LoadThreshold  float64       `mapstructure:"load_threshold"`
	} `mapstructure:"crisis"`

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig reads configuration from an optional YAML file and REVCORE_*
// environment variables, on top of the built-in defaults.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.revcore")
		v.AddConfigPath("/etc/revcore")
	}

	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("REVCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// PhantomCycles below the documented minimum would make every probe miss
	// a phantom verdict immediately.
	if config.Prober.PhantomCycles < 1 {
		config.Prober.PhantomCycles = 1
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store", "etcd")

	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.username", "")
	v.SetDefault("etcd.password", "")
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.prefix", "/revcore/services/")

	v.SetDefault("api.listen_address", "0.0.0.0")
	v.SetDefault("api.port", 8600)

	v.SetDefault("prober.interval", "45s")
	v.SetDefault("prober.timeout", "3s")
	v.SetDefault("prober.workers", 8)
	v.SetDefault("prober.phantom_cycles", 3)
	// Staleness: three missed cycles at the default interval before a cached
	// health value stops being trusted.
	v.SetDefault("prober.staleness_window", "2m15s")

	v.SetDefault("dns.enabled", false)
	v.SetDefault("dns.listen_address", "0.0.0.0")
	v.SetDefault("dns.port", 8653)
	v.SetDefault("dns.zone", "revflow.local.")

	v.SetDefault("crisis.state_file", "/var/lib/revcore/crisis_state.json")
	v.SetDefault("crisis.log_file", "/var/log/revcore/crisis.log")
	v.SetDefault("crisis.sample_interval", "1s")
	v.SetDefault("crisis.load_threshold", 4.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}
