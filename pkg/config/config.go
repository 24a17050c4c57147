package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config represents the bullend configuration
type Config struct {
	Audio struct {
		// Channel layout
		Inputs  int `yaml:"inputs"`
		Outputs int `yaml:"outputs"`

		// Audio parameters (informational once a transport is live;
		// the server's effective values win)
		SampleRate      int `yaml:"sample_rate"`
		FramesPerPeriod int `yaml:"frames_per_period"`
		Periods         int `yaml:"periods"`

		// Device hint: "auto" or a concrete ALSA card identifier
		Device string `yaml:"device"`

		// Initially selected monitor channel (1-based)
		SelectedChannel int `yaml:"selected_channel"`

		// Capture command used to pull frames from the live transport
		CaptureCommand string `yaml:"capture_command"`
	} `yaml:"audio"`

	Transport struct {
		// Ordered list of enabled acquisition strategies
		Strategies []string `yaml:"strategies"`

		// Whether starting a new server is permitted at all
		AllowSpawn bool `yaml:"allow_spawn"`

		// Per-strategy readiness poll budget
		PollAttempts int     `yaml:"poll_attempts"`
		PollInterval float64 `yaml:"poll_interval"`

		// Kernel driver remediation for the expected sound card
		EnableRemediation bool   `yaml:"enable_remediation"`
		DriverModule      string `yaml:"driver_module"`
	} `yaml:"transport"`

	Recording struct {
		Enabled   bool   `yaml:"enabled"`
		Directory string `yaml:"directory"`
	} `yaml:"recording"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	API struct {
		UnixSocket string `yaml:"unix_socket"`
	} `yaml:"api"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		MaxAttempts  int    `yaml:"max_attempts"`
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		Console    bool   `yaml:"console"`
		Structured bool   `yaml:"structured"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Defaults that YAML may explicitly override to false
	var config Config
	config.Transport.AllowSpawn = true
	config.Transport.EnableRemediation = true
	config.Logging.Console = true

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults
	if config.Audio.Inputs == 0 {
		config.Audio.Inputs = 6
	}
	if config.Audio.Outputs == 0 {
		config.Audio.Outputs = 2
	}
	if config.Audio.SampleRate == 0 {
		config.Audio.SampleRate = 48000
	}
	if config.Audio.FramesPerPeriod == 0 {
		config.Audio.FramesPerPeriod = 128
	}
	if config.Audio.Periods == 0 {
		config.Audio.Periods = 2
	}
	if config.Audio.Device == "" {
		config.Audio.Device = "auto"
	}
	if config.Audio.SelectedChannel == 0 {
		config.Audio.SelectedChannel = 1
	}
	if len(config.Transport.Strategies) == 0 {
		config.Transport.Strategies = []string{"direct", "wrapper", "bus", "dummy"}
	}
	if config.Transport.PollAttempts == 0 {
		config.Transport.PollAttempts = 20
	}
	if config.Transport.PollInterval == 0 {
		config.Transport.PollInterval = 0.5
	}
	if config.Transport.DriverModule == "" {
		config.Transport.DriverModule = "snd_soc_audioinjector_octo_soundcard"
	}
	if config.Recording.Directory == "" {
		config.Recording.Directory = "recordings"
	}
	if config.Web.Port == 0 {
		config.Web.Port = 8080
	}
	if config.Web.BindAddress == "" {
		config.Web.BindAddress = "0.0.0.0"
	}
	if config.Storage.MaxAttempts == 0 {
		config.Storage.MaxAttempts = 10000
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = 10
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = 5
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = 30
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Audio.Inputs < 1 || c.Audio.Inputs > 32 {
		return fmt.Errorf("audio inputs must be between 1 and 32")
	}
	if c.Audio.Outputs < 1 || c.Audio.Outputs > 32 {
		return fmt.Errorf("audio outputs must be between 1 and 32")
	}
	if c.Audio.SelectedChannel < 1 || c.Audio.SelectedChannel > c.Audio.Inputs {
		return fmt.Errorf("selected channel %d out of range (1..%d)",
			c.Audio.SelectedChannel, c.Audio.Inputs)
	}
	known := map[string]bool{"direct": true, "wrapper": true, "bus": true, "dummy": true}
	for _, name := range c.Transport.Strategies {
		if !known[name] {
			return fmt.Errorf("unknown transport strategy %q", name)
		}
	}
	if c.Transport.PollAttempts < 1 {
		return fmt.Errorf("transport poll_attempts must be at least 1")
	}
	if c.Transport.PollInterval <= 0 {
		return fmt.Errorf("transport poll_interval must be positive")
	}
	return nil
}
