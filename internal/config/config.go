// Package config loads the node's YAML configuration and validates it once at
// boot. The validated form is immutable for the life of the process.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"occupancy-node/internal/gpio"
	"occupancy-node/internal/motion"
)

// Config mirrors the YAML file.
type Config struct {
	WiFiSSID     string `yaml:"wifi_ssid"`
	WiFiPassword string `yaml:"wifi_password"`
	AuthToken    string `yaml:"auth_token"`
	DecayWindow  uint64 `yaml:"decay_window"` // seconds

	Report struct {
		Endpoint           string `yaml:"endpoint"`
		Interval           string `yaml:"interval"`
		Timeout            string `yaml:"timeout"`
		CAFile             string `yaml:"ca_file"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"report"`
	Input struct {
		Port           string `yaml:"port"`
		Line           string `yaml:"line"` // cts, dsr, dcd, ri
		ActiveLow      bool   `yaml:"active_low"`
		PollInterval   string `yaml:"poll_interval"`
		Cooldown       string `yaml:"cooldown"`
		CooldownPolicy string `yaml:"cooldown_policy"` // timer_or_low, timer
	} `yaml:"input"`
	Link struct {
		Interface  string `yaml:"interface"`
		ManageWiFi bool   `yaml:"manage_wifi"`
		JoinRetry  string `yaml:"join_retry"`
	} `yaml:"link"`
	Console struct {
		Listen         string   `yaml:"listen"` // "off" disables the console
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"console"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	HomeKit struct {
		Enabled    bool   `yaml:"enabled"`
		StorageDir string `yaml:"storage_dir"`
		Pin        string `yaml:"pin"`
		Addr       string `yaml:"addr"`
	} `yaml:"homekit"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Exec struct {
		Allowlist []string `yaml:"allowlist"`
		Timeout   string   `yaml:"timeout"`
	} `yaml:"exec"`
	ScriptsDir string `yaml:"scripts_dir"`
}

// ConsoleEnabled reports whether the debug console should listen.
func (c *Config) ConsoleEnabled() bool {
	return c.Console.Listen != "off"
}

// Defaults applied by Load.
const (
	DefaultDecayWindow    = 60 // seconds
	DefaultReportInterval = 60 * time.Second
	DefaultReportTimeout  = 10 * time.Second
	DefaultPollInterval   = 20 * time.Millisecond
	DefaultCooldown       = 5 * time.Second
	DefaultJoinRetry      = 5 * time.Second
	DefaultExecTimeout    = 10 * time.Second

	// MaxDecayWindow is the largest decay_window, in seconds, that fits a
	// time.Duration.
	MaxDecayWindow = math.MaxInt64 / uint64(time.Second)
)

// MissingFieldError reports an empty required field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %s", e.Field)
}

// Validated is the checked, parsed configuration. It is never mutated after
// Validate returns.
type Validated struct {
	WiFiSSID     string
	WiFiPassword string
	AuthToken    string
	DecayWindow  time.Duration

	ReportEndpoint     string
	ReportInterval     time.Duration
	ReportTimeout      time.Duration
	CAFile             string
	InsecureSkipVerify bool

	InputPort      string
	InputLine      gpio.ModemLine
	InputActiveLow bool
	PollInterval   time.Duration
	Cooldown       time.Duration
	CooldownPolicy motion.Policy

	Interface  string
	ManageWiFi bool
	JoinRetry  time.Duration

	ExecTimeout time.Duration
}

// Load reads the file at path and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DecayWindow == 0 {
		c.DecayWindow = DefaultDecayWindow
	}
	if c.Input.Port == "" {
		c.Input.Port = "/dev/ttyUSB0"
	}
	if c.Console.Listen == "" {
		c.Console.Listen = "127.0.0.1:8081"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "occupancy"
	}
	if c.HomeKit.StorageDir == "" {
		c.HomeKit.StorageDir = "homekit"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.ScriptsDir == "" {
		c.ScriptsDir = "scripts"
	}
}

// Validate checks required fields in a fixed order and parses every
// duration. The first empty required field yields a *MissingFieldError.
func (c *Config) Validate() (*Validated, error) {
	required := []struct {
		name  string
		value string
	}{
		{"wifi_ssid", c.WiFiSSID},
		{"wifi_password", c.WiFiPassword},
		{"auth_token", c.AuthToken},
		{"report.endpoint", c.Report.Endpoint},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, &MissingFieldError{Field: r.name}
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return nil, &MissingFieldError{Field: "mqtt.broker"}
	}

	if c.DecayWindow > MaxDecayWindow {
		return nil, fmt.Errorf("decay_window: %d seconds exceeds %d", c.DecayWindow, MaxDecayWindow)
	}

	v := &Validated{
		WiFiSSID:           c.WiFiSSID,
		WiFiPassword:       c.WiFiPassword,
		AuthToken:          c.AuthToken,
		DecayWindow:        time.Duration(c.DecayWindow) * time.Second,
		ReportEndpoint:     c.Report.Endpoint,
		CAFile:             c.Report.CAFile,
		InsecureSkipVerify: c.Report.InsecureSkipVerify,
		InputPort:          c.Input.Port,
		InputActiveLow:     c.Input.ActiveLow,
		Interface:          c.Link.Interface,
		ManageWiFi:         c.Link.ManageWiFi,
	}
	if v.DecayWindow == 0 {
		v.DecayWindow = DefaultDecayWindow * time.Second
	}

	durations := []struct {
		name string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"report.interval", c.Report.Interval, DefaultReportInterval, &v.ReportInterval},
		{"report.timeout", c.Report.Timeout, DefaultReportTimeout, &v.ReportTimeout},
		{"input.poll_interval", c.Input.PollInterval, DefaultPollInterval, &v.PollInterval},
		{"input.cooldown", c.Input.Cooldown, DefaultCooldown, &v.Cooldown},
		{"link.join_retry", c.Link.JoinRetry, DefaultJoinRetry, &v.JoinRetry},
		{"exec.timeout", c.Exec.Timeout, DefaultExecTimeout, &v.ExecTimeout},
	}
	for _, d := range durations {
		parsed, err := parseDuration(d.raw, d.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	line, err := gpio.ParseModemLine(c.Input.Line)
	if err != nil {
		return nil, fmt.Errorf("input.line: %w", err)
	}
	v.InputLine = line

	policy, err := motion.ParsePolicy(c.Input.CooldownPolicy)
	if err != nil {
		return nil, fmt.Errorf("input.cooldown_policy: %w", err)
	}
	v.CooldownPolicy = policy

	return v, nil
}

func parseDuration(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", raw)
	}
	return d, nil
}
