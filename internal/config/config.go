package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Output types
const (
	OutputTypeStdout  = "stdout"
	OutputTypeCommand = "command"
	OutputTypeWAV     = "wav"
)

// Output roles
const (
	RoleStream  = "stream"
	RoleRecord  = "record"
	RoleMonitor = "monitor"
)

// Config represents the complete splitter configuration
type Config struct {
	Control   ControlConfig   `yaml:"control"`
	HTTP      HTTPConfig      `yaml:"http"`
	Audio     AudioConfig     `yaml:"audio"`
	Recording RecordingConfig `yaml:"recording"`
	Outputs   []OutputConfig  `yaml:"outputs"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ControlConfig contains UDP control channel configuration
type ControlConfig struct {
	Enabled      bool   `yaml:"enabled"`
	UDPPort      int    `yaml:"udp_port"`
	BindAddress  string `yaml:"bind_address"`
	PollInterval int    `yaml:"poll_interval_ms"` // milliseconds
	QueueSize    int    `yaml:"queue_size"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains the raw stream format
type AudioConfig struct {
	SampleRate  int `yaml:"sample_rate"`  // Hz
	SampleBytes int `yaml:"sample_bytes"` // bit depth / 8
	ReadSize    int `yaml:"read_size"`    // bytes per upstream read
}

// RecordingConfig contains recording and pre-roll configuration
type RecordingConfig struct {
	Directory     string `yaml:"directory"`
	BufferSeconds int    `yaml:"buffer_seconds"`
	GracePeriod   int    `yaml:"grace_period_ms"` // milliseconds
	QueueSize     int    `yaml:"queue_size"`      // pending writes per controllable output
}

// OutputConfig describes one output and the roles it plays
type OutputConfig struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	Roles     []string `yaml:"roles"`
	Extension string   `yaml:"extension"`
	Command   []string `yaml:"command"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Control: ControlConfig{
			Enabled:      true,
			UDPPort:      12345,
			BindAddress:  "0.0.0.0",
			PollInterval: 10,
			QueueSize:    64,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: false,
		},
		Audio: AudioConfig{
			SampleRate:  22050,
			SampleBytes: 2,
			ReadSize:    128,
		},
		Recording: RecordingConfig{
			Directory:     "Recordings",
			BufferSeconds: 5,
			GracePeriod:   500,
			QueueSize:     8192,
		},
		Outputs: []OutputConfig{
			{
				Name:  "stdout",
				Type:  OutputTypeStdout,
				Roles: []string{RoleStream},
			},
			{
				Name:      "wav",
				Type:      OutputTypeCommand,
				Roles:     []string{RoleRecord},
				Extension: "wav",
				Command:   []string{"sox", "-t", "raw", "-b", "{bits}", "-e", "signed", "-r", "{rate}", "-c1", "-", "{path}"},
			},
			{
				Name:      "mp3",
				Type:      OutputTypeCommand,
				Roles:     []string{RoleRecord},
				Extension: "mp3",
				Command:   []string{"sox", "-t", "raw", "-b", "{bits}", "-e", "signed", "-r", "{rate}", "-c1", "-", "{path}"},
			},
			{
				Name:    "playback",
				Type:    OutputTypeCommand,
				Roles:   []string{RoleRecord, RoleMonitor},
				Command: []string{"aplay", "-q", "-r", "{rate}", "-f", "S{bits}_LE", "-t", "raw", "-c", "1"},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file on top of Default.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the whole configuration
func (c *Config) Validate() error {
	if err := c.Control.Validate(); err != nil {
		return fmt.Errorf("control config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.validateOutputs(); err != nil {
		return fmt.Errorf("outputs config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	// stdout carries the raw audio stream when a stdout output exists
	if c.Logging.Output == "stdout" {
		for _, o := range c.Outputs {
			if o.Type == OutputTypeStdout {
				return fmt.Errorf("logging config: output cannot be stdout while output %q streams audio to stdout", o.Name)
			}
		}
	}

	return nil
}

// Validate validates control channel configuration
func (s *ControlConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.PollInterval < 1 || s.PollInterval > 1000 {
		return fmt.Errorf("poll_interval_ms must be between 1 and 1000, got %d", s.PollInterval)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 1 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}

	if a.SampleBytes < 1 || a.SampleBytes > 4 {
		return fmt.Errorf("sample_bytes must be between 1 and 4, got %d", a.SampleBytes)
	}

	if a.ReadSize < 1 {
		return fmt.Errorf("read_size must be at least 1 byte, got %d", a.ReadSize)
	}

	return nil
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if r.Directory == "" {
		return fmt.Errorf("directory cannot be empty")
	}

	if r.BufferSeconds < 0 {
		return fmt.Errorf("buffer_seconds cannot be negative, got %d", r.BufferSeconds)
	}

	if r.GracePeriod < 0 {
		return fmt.Errorf("grace_period_ms cannot be negative, got %d", r.GracePeriod)
	}

	if r.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", r.QueueSize)
	}

	return nil
}

func (c *Config) validateOutputs() error {
	if len(c.Outputs) == 0 {
		return fmt.Errorf("at least one output must be configured")
	}

	seen := make(map[string]bool, len(c.Outputs))
	for i := range c.Outputs {
		o := &c.Outputs[i]
		if err := o.Validate(); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
		if seen[o.Name] {
			return fmt.Errorf("duplicate output name %q", o.Name)
		}
		seen[o.Name] = true
	}

	return nil
}

// Validate validates a single output entry
func (o *OutputConfig) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if len(o.Roles) == 0 {
		return fmt.Errorf("output %q must have at least one role", o.Name)
	}

	for _, role := range o.Roles {
		switch role {
		case RoleStream, RoleRecord, RoleMonitor:
		default:
			return fmt.Errorf("output %q: role must be one of [stream, record, monitor], got '%s'", o.Name, role)
		}
	}

	switch o.Type {
	case OutputTypeStdout:
		if !o.HasRole(RoleStream) || len(o.Roles) != 1 {
			return fmt.Errorf("output %q: stdout outputs only support the stream role", o.Name)
		}
	case OutputTypeCommand:
		if len(o.Command) == 0 {
			return fmt.Errorf("output %q: command cannot be empty", o.Name)
		}
		if o.HasRole(RoleStream) {
			return fmt.Errorf("output %q: command outputs cannot use the stream role", o.Name)
		}
	case OutputTypeWAV:
		if o.HasRole(RoleStream) {
			return fmt.Errorf("output %q: wav outputs cannot use the stream role", o.Name)
		}
	default:
		return fmt.Errorf("output %q: type must be one of [stdout, command, wav], got '%s'", o.Name, o.Type)
	}

	return nil
}

// HasRole reports whether the output is assigned role
func (o *OutputConfig) HasRole(role string) bool {
	for _, r := range o.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetPollInterval returns the control socket poll interval
func (s *ControlConfig) GetPollInterval() time.Duration {
	return time.Duration(s.PollInterval) * time.Millisecond
}

// GetGracePeriod returns the shutdown grace period
func (r *RecordingConfig) GetGracePeriod() time.Duration {
	return time.Duration(r.GracePeriod) * time.Millisecond
}

// PrerollCapacity returns the pre-roll size in samples
func (c *Config) PrerollCapacity() int {
	return c.Audio.SampleRate * c.Recording.BufferSeconds
}
