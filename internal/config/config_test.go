package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Scheduler.Interval = 6 * time.Hour
	cfg.Detector.WindowDays = 30
	cfg.Detector.MinSamples = 2
	cfg.Detector.DefaultThresholdPct = 15
	cfg.Export.MaxDataPoints = 1000
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	for _, pct := range []float64{0, 0.5, 100, -3} {
		cfg := validConfig()
		cfg.Detector.DefaultThresholdPct = pct
		if err := cfg.Validate(); err == nil {
			t.Fatalf("threshold %g should be rejected", pct)
		}
	}
}

func TestValidateRejectsZeroWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Detector.WindowDays = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero window should be rejected")
	}
}

func TestValidateTelegramRequiresCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Alerting.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled telegram without token/chat should be rejected")
	}

	cfg.Alerting.Telegram.BotToken = "token"
	cfg.Alerting.Telegram.ChatID = "chat"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("telegram with credentials rejected: %v", err)
	}
}

func TestValidateThresholdBounds(t *testing.T) {
	if err := ValidateThreshold(1); err != nil {
		t.Fatalf("1 is within the declared range: %v", err)
	}
	if err := ValidateThreshold(99); err != nil {
		t.Fatalf("99 is within the declared range: %v", err)
	}
	if err := ValidateThreshold(99.5); err == nil {
		t.Fatal("99.5 is out of range")
	}
}

func TestDetectorWindow(t *testing.T) {
	cfg := validConfig()
	if cfg.Detector.Window() != 30*24*time.Hour {
		t.Fatalf("unexpected window: %s", cfg.Detector.Window())
	}
}
