package config

import (
	"os"
	"testing"
	"time"
)

func TestConfigLoad_WorkerDefaults(t *testing.T) {
	// clear env vars
	_ = os.Unsetenv("EVERKEEP_WORKER_INTERVAL")
	_ = os.Unsetenv("EVERKEEP_WORKER_BATCH_SIZE")
	_ = os.Unsetenv("EVERKEEP_RETRY_MAX_ATTEMPTS")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.WorkerInterval != 15*time.Second || cfg.WorkerBatchSize != 50 || cfg.RetryMaxAttempts != 3 {
		t.Fatalf("unexpected default worker config: %+v", cfg)
	}
}

func TestConfigLoad_WorkerEnvOverride(t *testing.T) {
	_ = os.Setenv("EVERKEEP_WORKER_INTERVAL", "5s")
	defer func() { _ = os.Unsetenv("EVERKEEP_WORKER_INTERVAL") }()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.WorkerInterval != 5*time.Second {
		t.Fatalf("worker interval env override failed, got %s", cfg.WorkerInterval)
	}
}

func TestConfigLoad_RecoveryDefaults(t *testing.T) {
	_ = os.Unsetenv("EVERKEEP_RECOVERY_INTERVAL")
	_ = os.Unsetenv("EVERKEEP_STUCK_AFTER")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.RecoveryInterval != time.Minute || cfg.StuckAfter != 5*time.Minute {
		t.Fatalf("unexpected default recovery config: %+v", cfg)
	}
}
