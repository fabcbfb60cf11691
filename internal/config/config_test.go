package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.QueueBackend != "redis" {
		t.Errorf("queue backend = %q", cfg.QueueBackend)
	}
	if cfg.ServiceFeeMultiplier != 1.05 {
		t.Errorf("fee multiplier = %v", cfg.ServiceFeeMultiplier)
	}
	if cfg.TopUpCooldown != time.Hour {
		t.Errorf("top-up cooldown = %v", cfg.TopUpCooldown)
	}
	if cfg.WorkerBatchSize != 50 {
		t.Errorf("batch size = %d", cfg.WorkerBatchSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ADDR", ":9999")
	t.Setenv("SERVICE_FEE_MULTIPLIER", "1.2")
	t.Setenv("TOP_UP_COOLDOWN", "7200")
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Addr != ":9999" {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.ServiceFeeMultiplier != 1.2 {
		t.Errorf("fee multiplier = %v", cfg.ServiceFeeMultiplier)
	}
	if cfg.TopUpCooldown != 2*time.Hour {
		t.Errorf("top-up cooldown = %v", cfg.TopUpCooldown)
	}
	if !cfg.DevMode {
		t.Error("dev mode not set")
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("SERVICE_FEE_MULTIPLIER", "not-a-number")
	t.Setenv("WORKER_BATCH_SIZE", "-?-")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceFeeMultiplier != 1.05 {
		t.Errorf("fee multiplier = %v, want default", cfg.ServiceFeeMultiplier)
	}
	if cfg.WorkerBatchSize != 50 {
		t.Errorf("batch size = %d, want default", cfg.WorkerBatchSize)
	}
}
