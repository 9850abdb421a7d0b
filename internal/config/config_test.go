package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultsUnmarshal(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal defaults failed: %v", err)
	}
	if cfg.Points.PointsPerUnit != 100 {
		t.Fatalf("unexpected points_per_unit: %d", cfg.Points.PointsPerUnit)
	}
	if cfg.Order.PaymentTTL() != time.Hour {
		t.Fatalf("unexpected payment ttl: %s", cfg.Order.PaymentTTL())
	}
	if cfg.Wechat.APIVersion != "v2" || cfg.Wechat.SignType != "MD5" {
		t.Fatalf("unexpected wechat defaults: %+v", cfg.Wechat)
	}
	if cfg.Queue.Queues["critical"] == 0 {
		t.Fatalf("expected critical queue weight")
	}
}

func TestPaymentTTLFallback(t *testing.T) {
	if got := (OrderConfig{}).PaymentTTL(); got != time.Hour {
		t.Fatalf("expected 1h fallback, got %s", got)
	}
	if got := (OrderConfig{PaymentExpireMinutes: 15}).PaymentTTL(); got != 15*time.Minute {
		t.Fatalf("expected 15m, got %s", got)
	}
}

func TestEnvOverridesNestedKey(t *testing.T) {
	t.Setenv("POINTS_POINTS_PER_UNIT", "50")
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(newEnvReplacer())

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if cfg.Points.PointsPerUnit != 50 {
		t.Fatalf("expected env override 50, got %d", cfg.Points.PointsPerUnit)
	}
}
