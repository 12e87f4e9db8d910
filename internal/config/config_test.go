package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"occupancy-node/internal/gpio"
	"occupancy-node/internal/motion"
)

const validYAML = `
wifi_ssid: office
wifi_password: hunter2
auth_token: tok-123
report:
  endpoint: https://example.com/api/sensors
`

func mustParse(t *testing.T, data string) *Config {
	t.Helper()
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestValidateDefaults(t *testing.T) {
	v, err := mustParse(t, validYAML).Validate()
	if err != nil {
		t.Fatal(err)
	}

	if v.DecayWindow != 60*time.Second {
		t.Errorf("DecayWindow = %v, want 60s", v.DecayWindow)
	}
	if v.ReportInterval != DefaultReportInterval {
		t.Errorf("ReportInterval = %v", v.ReportInterval)
	}
	if v.ReportTimeout != DefaultReportTimeout {
		t.Errorf("ReportTimeout = %v", v.ReportTimeout)
	}
	if v.Cooldown != DefaultCooldown {
		t.Errorf("Cooldown = %v", v.Cooldown)
	}
	if v.InputLine != gpio.LineCTS {
		t.Errorf("InputLine = %q", v.InputLine)
	}
	if v.CooldownPolicy != motion.PolicyTimerOrLow {
		t.Errorf("CooldownPolicy = %v", v.CooldownPolicy)
	}
}

func TestValidateCustomValues(t *testing.T) {
	cfg := mustParse(t, validYAML+`
decay_window: 120
input:
  line: dcd
  cooldown: 2s
  cooldown_policy: timer
`)
	cfg.Report.Interval = "30s"

	v, err := cfg.Validate()
	if err != nil {
		t.Fatal(err)
	}
	if v.DecayWindow != 2*time.Minute {
		t.Errorf("DecayWindow = %v, want 2m", v.DecayWindow)
	}
	if v.ReportInterval != 30*time.Second {
		t.Errorf("ReportInterval = %v", v.ReportInterval)
	}
	if v.InputLine != gpio.LineDCD {
		t.Errorf("InputLine = %q", v.InputLine)
	}
	if v.Cooldown != 2*time.Second {
		t.Errorf("Cooldown = %v", v.Cooldown)
	}
	if v.CooldownPolicy != motion.PolicyTimer {
		t.Errorf("CooldownPolicy = %v", v.CooldownPolicy)
	}
}

func TestValidateMissingField(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"empty ssid", func(c *Config) { c.WiFiSSID = "" }, "wifi_ssid"},
		{"empty password", func(c *Config) { c.WiFiPassword = "" }, "wifi_password"},
		{"empty token", func(c *Config) { c.AuthToken = "" }, "auth_token"},
		{"blank token", func(c *Config) { c.AuthToken = "   " }, "auth_token"},
		{"empty endpoint", func(c *Config) { c.Report.Endpoint = "" }, "report.endpoint"},
		{"password checked before token", func(c *Config) { c.WiFiPassword = ""; c.AuthToken = "" }, "wifi_password"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mustParse(t, validYAML)
			tt.modify(cfg)

			v, err := cfg.Validate()
			if v != nil {
				t.Error("expected nil Validated on error")
			}
			var mf *MissingFieldError
			if !errors.As(err, &mf) {
				t.Fatalf("err = %v, want *MissingFieldError", err)
			}
			if mf.Field != tt.field {
				t.Errorf("field = %q, want %q", mf.Field, tt.field)
			}
		})
	}
}

func TestValidateInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad interval", func(c *Config) { c.Report.Interval = "soon" }},
		{"negative cooldown", func(c *Config) { c.Input.Cooldown = "-1s" }},
		{"unknown line", func(c *Config) { c.Input.Line = "rts" }},
		{"unknown policy", func(c *Config) { c.Input.CooldownPolicy = "edge" }},
		{"decay window overflows", func(c *Config) { c.DecayWindow = math.MaxUint64 }},
		{"decay window just too large", func(c *Config) { c.DecayWindow = MaxDecayWindow + 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mustParse(t, validYAML)
			tt.modify(cfg)
			if _, err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidateLargestDecayWindow(t *testing.T) {
	cfg := mustParse(t, validYAML)
	cfg.DecayWindow = MaxDecayWindow
	v, err := cfg.Validate()
	if err != nil {
		t.Fatal(err)
	}
	if v.DecayWindow <= 0 {
		t.Errorf("DecayWindow = %v, want positive", v.DecayWindow)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WiFiSSID != "office" {
		t.Errorf("WiFiSSID = %q", cfg.WiFiSSID)
	}
	if cfg.Console.Listen != "127.0.0.1:8081" {
		t.Errorf("Console.Listen = %q", cfg.Console.Listen)
	}
	if cfg.HomeKit.StorageDir != "homekit" {
		t.Errorf("HomeKit.StorageDir = %q", cfg.HomeKit.StorageDir)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log = %q/%q", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("wifi_ssid: [unterminated")); err == nil {
		t.Error("expected parse error")
	}
}

func TestConsoleEnabled(t *testing.T) {
	if !mustParse(t, validYAML).ConsoleEnabled() {
		t.Error("console disabled by default")
	}
	cfg := mustParse(t, validYAML+"console:\n  listen: \"off\"\n")
	if cfg.ConsoleEnabled() {
		t.Error("listen: off should disable the console")
	}
}
