package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransactionValidate(t *testing.T) {
	valid := Transaction{
		UserID:  "user-001",
		Amount:  decimal.NewFromInt(750),
		Channel: "UPI",
	}

	t.Run("Valid", func(t *testing.T) {
		tx := valid
		if err := tx.Validate(); err != nil {
			t.Errorf("expected valid transaction, got %v", err)
		}
	})

	t.Run("ZeroAmountAllowed", func(t *testing.T) {
		tx := valid
		tx.Amount = decimal.Zero
		if err := tx.Validate(); err != nil {
			t.Errorf("expected zero amount to be valid, got %v", err)
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		tx := valid
		tx.Amount = decimal.NewFromInt(-1)
		if err := tx.Validate(); !errors.Is(err, ErrInvalidTransaction) {
			t.Errorf("expected ErrInvalidTransaction, got %v", err)
		}
	})

	t.Run("MissingChannel", func(t *testing.T) {
		tx := valid
		tx.Channel = "  "
		if err := tx.Validate(); !errors.Is(err, ErrInvalidTransaction) {
			t.Errorf("expected ErrInvalidTransaction, got %v", err)
		}
	})

	t.Run("MissingUser", func(t *testing.T) {
		tx := valid
		tx.UserID = ""
		if err := tx.Validate(); !errors.Is(err, ErrInvalidTransaction) {
			t.Errorf("expected ErrInvalidTransaction, got %v", err)
		}
	})
}

func TestNormalizeDirection(t *testing.T) {
	tests := []struct {
		input    string
		expected Direction
	}{
		{"deposit", DirectionDeposit},
		{"CREDIT", DirectionDeposit},
		{"WITHDRAW", DirectionWithdraw},
		{"", DirectionWithdraw},
		{"refund", DirectionWithdraw},
	}

	for _, tt := range tests {
		if got := NormalizeDirection(tt.input); got != tt.expected {
			t.Errorf("NormalizeDirection(%q) = %s, want %s", tt.input, got, tt.expected)
		}
	}
}

func TestRuleOutcome(t *testing.T) {
	t.Run("DeduplicatesInOrder", func(t *testing.T) {
		out := NewRuleOutcome("R1", "R0", "R1", "", "R4")
		if !out.Flagged {
			t.Error("expected flagged outcome")
		}
		want := []string{"R1", "R0", "R4"}
		if fmt.Sprint(out.Rules) != fmt.Sprint(want) {
			t.Errorf("expected %v, got %v", want, out.Rules)
		}
	})

	t.Run("EmptyIsNotFlagged", func(t *testing.T) {
		out := NewRuleOutcome()
		if out.Flagged {
			t.Error("expected empty outcome to be unflagged")
		}
		if out.Rules == nil {
			t.Error("expected non-nil empty rule list")
		}
	})

	t.Run("AppendKeepsExistingFirst", func(t *testing.T) {
		out := NewRuleOutcome("R0").Append("custom-1", "R0")
		want := []string{"R0", "custom-1"}
		if fmt.Sprint(out.Rules) != fmt.Sprint(want) {
			t.Errorf("expected %v, got %v", want, out.Rules)
		}
	})
}

func TestParseAlertStatus(t *testing.T) {
	for _, s := range []string{"open", "closed", "false_positive", "confirmed_fraud"} {
		if _, err := ParseAlertStatus(s); err != nil {
			t.Errorf("expected %q to be valid, got %v", s, err)
		}
	}

	if _, err := ParseAlertStatus("escalated"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestProfileClone(t *testing.T) {
	p := NewUserProfile("user-001", time.Now())
	p.AmountStats.LastN = append(p.AmountStats.LastN, 10, 20)

	c := p.Clone()
	c.AmountStats.LastN[0] = 99

	if p.AmountStats.LastN[0] != 10 {
		t.Errorf("clone shares history with original: %v", p.AmountStats.LastN)
	}
	if p.TrustScore != DefaultTrustScore {
		t.Errorf("expected default trust %.0f, got %.2f", DefaultTrustScore, p.TrustScore)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("apply: %w", ErrLockTimeout)) {
		t.Error("expected wrapped lock timeout to be retryable")
	}
	if !IsRetryable(ErrStoreUnavailable) {
		t.Error("expected store unavailable to be retryable")
	}
	if IsRetryable(ErrInvalidTransaction) {
		t.Error("expected validation error to be permanent")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Tier != TierCommunity {
			t.Errorf("expected community tier, got %s", cfg.Tier)
		}
		if cfg.Repository.Driver != "sqlite" {
			t.Errorf("expected sqlite driver, got %s", cfg.Repository.Driver)
		}
		if cfg.Scoring.LowFrictionChannel != "UPI" {
			t.Errorf("expected UPI, got %s", cfg.Scoring.LowFrictionChannel)
		}
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("SENTINEL_PORT", "9090")
		t.Setenv("SENTINEL_LOCK_TIMEOUT", "750ms")
		t.Setenv("SENTINEL_LOW_FRICTION_CHANNEL", "imps")
		t.Setenv("SENTINEL_DEBUG", "true")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Lock.Timeout != 750*time.Millisecond {
			t.Errorf("expected 750ms lock timeout, got %s", cfg.Lock.Timeout)
		}
		if cfg.Scoring.LowFrictionChannel != "IMPS" {
			t.Errorf("expected IMPS, got %s", cfg.Scoring.LowFrictionChannel)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected debug level, got %s", cfg.Logging.Level)
		}
	})

	t.Run("ProTier", func(t *testing.T) {
		t.Setenv("SENTINEL_TIER", "pro")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Repository.Driver != "postgres" {
			t.Errorf("expected postgres driver, got %s", cfg.Repository.Driver)
		}
		if cfg.Lock.Type != "redis" {
			t.Errorf("expected redis lock, got %s", cfg.Lock.Type)
		}
	})

	t.Run("InvalidDriver", func(t *testing.T) {
		t.Setenv("SENTINEL_DB_DRIVER", "mysql")

		if _, err := LoadConfig(); err == nil {
			t.Error("expected error for unsupported driver")
		}
	})
}

func TestTransactionRequest(t *testing.T) {
	body := `{"txnId":"t-1","userId":"u-1","amount":"1250.75","channel":"NEFT","direction":"deposit","timestamp":"2025-03-01T02:00:00Z","location":{"country":"India"}}`

	var req TransactionRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	tx := req.ToTransaction()
	if !tx.Amount.Equal(decimal.RequireFromString("1250.75")) {
		t.Errorf("expected amount 1250.75, got %s", tx.Amount)
	}
	if tx.RawTimestamp != "2025-03-01T02:00:00Z" {
		t.Errorf("expected raw timestamp carried over, got %q", tx.RawTimestamp)
	}
	if !tx.Timestamp.IsZero() {
		t.Error("expected timestamp to stay unparsed")
	}
	if tx.Country() != "India" {
		t.Errorf("expected country India, got %q", tx.Country())
	}

	// Numeric amounts decode too.
	if err := json.Unmarshal([]byte(`{"userId":"u","amount":99.5,"channel":"UPI"}`), &req); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !req.Amount.Equal(decimal.RequireFromString("99.5")) {
		t.Errorf("expected amount 99.5, got %s", req.Amount)
	}
}

func TestLoadConfigSecond(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Tier != TierCommunity {
			t.Errorf("expected community tier, got %s", cfg.Tier)
		}
		if cfg.Repository.Driver != "sqlite" {
			t.Errorf("expected sqlite, got %s", cfg.Repository.Driver)
		}
		if cfg.Lock.Timeout != 2*time.Second {
			t.Errorf("expected 2s lock timeout, got %v", cfg.Lock.Timeout)
		}
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("SENTINEL_PORT", "9090")
		t.Setenv("SENTINEL_LOCK_TIMEOUT", "750ms")
		t.Setenv("SENTINEL_LOW_FRICTION_CHANNEL", "imps")
		t.Setenv("SENTINEL_ASYNC_WORKER", "true")
		t.Setenv("SENTINEL_DEBUG", "true")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Lock.Timeout != 750*time.Millisecond {
			t.Errorf("expected 750ms, got %v", cfg.Lock.Timeout)
		}
		if cfg.Scoring.LowFrictionChannel != "IMPS" {
			t.Errorf("expected IMPS, got %s", cfg.Scoring.LowFrictionChannel)
		}
		if !cfg.Worker.Enabled {
			t.Error("expected worker enabled")
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("expected debug level, got %s", cfg.Logging.Level)
		}
	})

	t.Run("ProTier", func(t *testing.T) {
		t.Setenv("SENTINEL_TIER", "pro")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Repository.Driver != "postgres" || cfg.Lock.Type != "redis" || cfg.EventBus.Type != "nats" {
			t.Errorf("expected pro stack, got %s/%s/%s", cfg.Repository.Driver, cfg.Lock.Type, cfg.EventBus.Type)
		}
	})

	t.Run("InvalidDriver", func(t *testing.T) {
		t.Setenv("SENTINEL_DB_DRIVER", "mysql")
		if _, err := LoadConfig(); err == nil {
			t.Error("expected error for unsupported driver")
		}
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"BadPort", func(c *Config) { c.Server.Port = 0 }},
		{"BadLockType", func(c *Config) { c.Lock.Type = "etcd" }},
		{"ZeroLockTimeout", func(c *Config) { c.Lock.Timeout = 0 }},
		{"NoLowFrictionChannel", func(c *Config) { c.Scoring.LowFrictionChannel = "" }},
		{"OTLPWithoutEndpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.ExporterType = "otlp"
			c.Tracing.Endpoint = ""
		}},
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
	if err := ProConfig().Validate(); err != nil {
		t.Fatalf("pro config must be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
