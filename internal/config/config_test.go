package config_test

import (
	"testing"
	"time"

	"vedtaksync/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	if err := config.Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
queue:
  url: amqp://broker:5672/
  outbound: ut.kanal
  inbound: inn.kanal
  poll_interval: 250ms
scheduler:
  interval: 10s
mainframe:
  min_send_age: 2m
elector:
  url: http://elector:4040
server:
  addr: ":9090"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Queue.Outbound != "ut.kanal" || cfg.Queue.Inbound != "inn.kanal" {
		t.Fatalf("queues = %+v", cfg.Queue)
	}
	if cfg.Queue.PollInterval.Std() != 250*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.Queue.PollInterval.Std())
	}
	if cfg.Scheduler.Interval.Std() != 10*time.Second {
		t.Fatalf("interval = %v", cfg.Scheduler.Interval.Std())
	}
	if cfg.Mainframe.MinSendAge.Std() != 2*time.Minute {
		t.Fatalf("min send age = %v", cfg.Mainframe.MinSendAge.Std())
	}
	// Untouched sections keep their defaults.
	if cfg.Scheduler.InitialDelay.Std() != 5*time.Second {
		t.Fatalf("initial delay = %v", cfg.Scheduler.InitialDelay.Std())
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.BasePath != "/v0" {
		t.Fatalf("server = %+v", cfg.Server)
	}
}

func TestValidateRejectsSharedQueue(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.Inbound = cfg.Queue.Outbound
	if err := cfg.Validate(); err == nil {
		t.Fatal("same queue for both directions must not validate")
	}
}

func TestFromYAMLRejectsBadDuration(t *testing.T) {
	if _, err := config.FromYAML([]byte("scheduler:\n  interval: soon\n")); err == nil {
		t.Fatal("expected duration parse error")
	}
}

func TestFromYAMLRejectsNonPositiveInterval(t *testing.T) {
	if _, err := config.FromYAML([]byte("scheduler:\n  interval: 0s\n")); err == nil {
		t.Fatal("zero interval must not validate")
	}
}
