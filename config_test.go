package synckit

import (
	"testing"
	"time"
)

func TestConfigNormalizeFillsDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.Normalize()
	if cfg.Clock == nil {
		t.Fatal("clock not defaulted")
	}
	if cfg.AcquireTimeout != DefaultAcquireTimeout {
		t.Fatalf("acquire timeout %s", cfg.AcquireTimeout)
	}
	if cfg.DetectInterval != DefaultDetectInterval {
		t.Fatalf("detect interval %s", cfg.DetectInterval)
	}
	if cfg.HealthInterval != DefaultHealthInterval {
		t.Fatalf("health interval %s", cfg.HealthInterval)
	}
	if cfg.AlertCooldown != DefaultAlertCooldown {
		t.Fatalf("alert cooldown %s", cfg.AlertCooldown)
	}
	if cfg.MaxAlertsPerType != DefaultMaxAlertsPerType {
		t.Fatalf("max alerts per type %d", cfg.MaxAlertsPerType)
	}
	if cfg.RecoveryThreshold != DefaultRecoveryThreshold {
		t.Fatalf("recovery threshold %d", cfg.RecoveryThreshold)
	}
	if cfg.QueueDepthWarn != DefaultQueueDepthWarn {
		t.Fatalf("queue depth warn %d", cfg.QueueDepthWarn)
	}
	if cfg.OldestWaitWarn != DefaultOldestWaitWarn {
		t.Fatalf("oldest wait warn %s", cfg.OldestWaitWarn)
	}
	if cfg.MemoryWarnPercent != DefaultMemoryWarnPercent {
		t.Fatalf("memory warn percent %.1f", cfg.MemoryWarnPercent)
	}
	if cfg.EventBuffer <= 0 {
		t.Fatalf("event buffer %d", cfg.EventBuffer)
	}
}

func TestConfigNormalizeKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		AcquireTimeout: time.Second,
		DetectInterval: -1,
		HealthInterval: -1,
		QueueDepthWarn: 4,
	}
	cfg.Normalize()
	if cfg.AcquireTimeout != time.Second {
		t.Fatalf("acquire timeout overwritten: %s", cfg.AcquireTimeout)
	}
	if cfg.DetectInterval != -1 || cfg.HealthInterval != -1 {
		t.Fatal("disabled intervals overwritten")
	}
	if cfg.QueueDepthWarn != 4 {
		t.Fatalf("queue depth warn overwritten: %d", cfg.QueueDepthWarn)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	good := Config{}
	good.Normalize()
	if err := good.Validate(); err != nil {
		t.Fatalf("normalized config invalid: %v", err)
	}

	for name, cfg := range map[string]Config{
		"negative acquire timeout":  {AcquireTimeout: -time.Second},
		"negative max alerts":       {MaxAlertsPerType: -1},
		"memory percent over 100":   {MemoryWarnPercent: 120},
		"negative memory percent":   {MemoryWarnPercent: -5},
	} {
		cfg := cfg
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
