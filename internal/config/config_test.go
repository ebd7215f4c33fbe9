package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is api",
			check:  func(c *Config) bool { return c.Mode == "api" },
			expect: "api",
		},
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default metrics path",
			check:  func(c *Config) bool { return c.MetricsPath == "/metrics" },
			expect: "/metrics",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
		{
			name:   "default slow threshold",
			check:  func(c *Config) bool { return c.SlowThresholdMS == 3000 },
			expect: "3000",
		},
		{
			name:   "default slow rate threshold",
			check:  func(c *Config) bool { return c.SlowRateThreshold == 0.2 },
			expect: "0.2",
		},
		{
			name:   "default min samples for backoff",
			check:  func(c *Config) bool { return c.MinSamplesForBackoff == 100 },
			expect: "100",
		},
		{
			name:   "default fanout concurrency",
			check:  func(c *Config) bool { return c.FanoutConcurrency == 10 },
			expect: "10",
		},
		{
			name:   "default fanout hard cancel is disabled",
			check:  func(c *Config) bool { return !c.FanoutHardCancel },
			expect: "false",
		},
		{
			name:   "default poll wait max",
			check:  func(c *Config) bool { return c.PollWaitMSMax == 10000 },
			expect: "10000",
		},
		{
			name:   "default job ttl",
			check:  func(c *Config) bool { return c.JobTTLSeconds == 600 },
			expect: "600",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}
