package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("Valid Config", func(t *testing.T) {
		configContent := `
audio:
  inputs: 8
  outputs: 2
  sample_rate: 44100
  frames_per_period: 256
  device: "audioinjectoroc"
  selected_channel: 3
  capture_command: "jack_capture_client"

transport:
  strategies: ["direct", "dummy"]
  allow_spawn: true
  poll_attempts: 10
  poll_interval: 0.25
  enable_remediation: false

recording:
  enabled: true
  directory: "/var/lib/bullend/recordings"

web:
  port: 9090
  bind_address: "127.0.0.1"

api:
  unix_socket: "/run/bullend.sock"

storage:
  database_path: "/tmp/bullend.db"
  max_attempts: 500

logging:
  level: "debug"
  console: true
`
		config, err := LoadConfig(writeConfig(t, tempDir, configContent))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if config.Audio.Inputs != 8 {
			t.Errorf("Expected 8 inputs, got %d", config.Audio.Inputs)
		}
		if config.Audio.SampleRate != 44100 {
			t.Errorf("Expected sample rate 44100, got %d", config.Audio.SampleRate)
		}
		if config.Audio.Device != "audioinjectoroc" {
			t.Errorf("Expected device audioinjectoroc, got %s", config.Audio.Device)
		}
		if config.Audio.SelectedChannel != 3 {
			t.Errorf("Expected selected channel 3, got %d", config.Audio.SelectedChannel)
		}
		if len(config.Transport.Strategies) != 2 || config.Transport.Strategies[0] != "direct" {
			t.Errorf("Expected strategies [direct dummy], got %v", config.Transport.Strategies)
		}
		if config.Transport.PollInterval != 0.25 {
			t.Errorf("Expected poll interval 0.25, got %v", config.Transport.PollInterval)
		}
		if config.Transport.EnableRemediation {
			t.Error("Expected remediation disabled")
		}
		if !config.Recording.Enabled {
			t.Error("Expected recording enabled")
		}
		if config.Web.Port != 9090 {
			t.Errorf("Expected port 9090, got %d", config.Web.Port)
		}
		if config.API.UnixSocket != "/run/bullend.sock" {
			t.Errorf("Expected unix socket /run/bullend.sock, got %s", config.API.UnixSocket)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		config, err := LoadConfig(writeConfig(t, tempDir, "web:\n  port: 8081\n"))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if config.Audio.Inputs != 6 {
			t.Errorf("Expected default 6 inputs, got %d", config.Audio.Inputs)
		}
		if config.Audio.Outputs != 2 {
			t.Errorf("Expected default 2 outputs, got %d", config.Audio.Outputs)
		}
		if config.Audio.SampleRate != 48000 {
			t.Errorf("Expected default sample rate 48000, got %d", config.Audio.SampleRate)
		}
		if config.Audio.Device != "auto" {
			t.Errorf("Expected default device auto, got %s", config.Audio.Device)
		}
		expected := []string{"direct", "wrapper", "bus", "dummy"}
		if len(config.Transport.Strategies) != len(expected) {
			t.Fatalf("Expected default strategies %v, got %v", expected, config.Transport.Strategies)
		}
		for i, name := range expected {
			if config.Transport.Strategies[i] != name {
				t.Errorf("Expected strategy %d to be %s, got %s", i, name, config.Transport.Strategies[i])
			}
		}
		if config.Transport.PollAttempts != 20 {
			t.Errorf("Expected default 20 poll attempts, got %d", config.Transport.PollAttempts)
		}
		if config.Transport.PollInterval != 0.5 {
			t.Errorf("Expected default poll interval 0.5, got %v", config.Transport.PollInterval)
		}
		if !config.Transport.AllowSpawn {
			t.Error("Expected spawn allowed by default")
		}
		if !config.Transport.EnableRemediation {
			t.Error("Expected remediation enabled by default")
		}
		if config.Transport.DriverModule != "snd_soc_audioinjector_octo_soundcard" {
			t.Errorf("Unexpected default driver module: %s", config.Transport.DriverModule)
		}
	})

	t.Run("Explicit False Overrides Default", func(t *testing.T) {
		config, err := LoadConfig(writeConfig(t, tempDir, "transport:\n  allow_spawn: false\n"))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if config.Transport.AllowSpawn {
			t.Error("Expected allow_spawn false when explicitly disabled")
		}
	})

	t.Run("Missing File", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(tempDir, "missing.yaml")); err == nil {
			t.Error("Expected error for missing file")
		}
	})

	t.Run("Invalid YAML", func(t *testing.T) {
		if _, err := LoadConfig(writeConfig(t, tempDir, "audio: [not: valid")); err == nil {
			t.Error("Expected error for invalid YAML")
		}
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Audio.Inputs = 6
		cfg.Audio.Outputs = 2
		cfg.Audio.SelectedChannel = 1
		cfg.Transport.Strategies = []string{"direct", "dummy"}
		cfg.Transport.PollAttempts = 20
		cfg.Transport.PollInterval = 0.5
		return cfg
	}

	t.Run("Valid", func(t *testing.T) {
		if err := valid().Validate(); err != nil {
			t.Errorf("Expected valid config, got: %v", err)
		}
	})

	t.Run("Selected Channel Out Of Range", func(t *testing.T) {
		cfg := valid()
		cfg.Audio.SelectedChannel = 7
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Expected error for out-of-range channel")
		}
		if !strings.Contains(err.Error(), "selected channel") {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("Unknown Strategy", func(t *testing.T) {
		cfg := valid()
		cfg.Transport.Strategies = []string{"direct", "teleport"}
		err := cfg.Validate()
		if err == nil {
			t.Fatal("Expected error for unknown strategy")
		}
		if !strings.Contains(err.Error(), "teleport") {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("Bad Poll Budget", func(t *testing.T) {
		cfg := valid()
		cfg.Transport.PollAttempts = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for zero poll attempts")
		}

		cfg = valid()
		cfg.Transport.PollInterval = -1
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for negative poll interval")
		}
	})
}
