package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "BTCUSDT", c.Engine.Symbol)
	assert.Equal(t, time.Minute, c.Engine.TickInterval)
	assert.Equal(t, 0.3, c.Engine.MinConfidence)
	assert.Equal(t, "overwrite", c.Ensemble.RollbackPolicy)
	assert.Equal(t, 5, c.Risk.MaxDailyTrades)
	assert.Equal(t, "paper", c.Exchange.Mode)
	assert.Equal(t, "finlearn.outcomes", c.Kafka.Topics.Outcomes)
	assert.Equal(t, "0 0 0 * * *", c.Maintenance.ResetDailyTrades)
	assert.Empty(t, c.Feedback.Tiers)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
engine:
  symbol: ETHUSDT
  tick_interval: 30s
  auto_trade: true
ensemble:
  rollback_policy: keep_better
  weights:
    fast_linear: 0.2
feedback:
  tiers:
    - tier: 1
      interval: 2h
      slots: [sequence]
`))
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", c.Engine.Symbol)
	assert.Equal(t, 30*time.Second, c.Engine.TickInterval)
	assert.True(t, c.Engine.AutoTrade)
	assert.Equal(t, 0.2, c.Ensemble.Weights["fast_linear"])
	require.Len(t, c.Feedback.Tiers, 1)
	assert.Equal(t, 2*time.Hour, c.Feedback.Tiers[0].Interval)
	assert.Equal(t, 60, c.Engine.LookbackDays)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name  string
		yaml  string
		field string
	}{
		{"confidence range", "engine:\n  min_confidence: 1.5\n", "engine.min_confidence"},
		{"thresholds order", "ensemble:\n  buy_threshold: 0.4\n  sell_threshold: 0.6\n", "ensemble.sell_threshold"},
		{"rollback policy", "ensemble:\n  rollback_policy: never\n", "ensemble.rollback_policy"},
		{"stream key", "stream:\n  enabled: true\n", "stream.api_key"},
		{"http exchange url", "exchange:\n  mode: http\n", "exchange.base_url"},
		{"unknown slot", "feedback:\n  tiers:\n    - tier: 1\n      interval: 1h\n      slots: [forest]\n", "feedback.tiers[0].slots[0]"},
		{"duplicate tier", "feedback:\n  tiers:\n    - {tier: 1, interval: 1h, slots: [sequence]}\n    - {tier: 1, interval: 2h, slots: [sequence]}\n", "feedback.tiers"},
		{"kafka sink", "stream:\n  enabled: true\n  api_key: k\n  sink: kafka\n", "stream.sink"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			var cerr *Error
			require.True(t, errors.As(err, &cerr), "got %v", err)
			assert.Equal(t, tc.field, cerr.Field)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stream:\n  enabled: true\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)

	t.Setenv("STREAM_API_KEY", "secret")
	t.Setenv("ENGINE_SYMBOL", "solusdt")
	t.Setenv("AUTO_TRADE", "true")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", c.Stream.APIKey)
	assert.Equal(t, "SOLUSDT", c.Engine.Symbol)
	assert.True(t, c.Engine.AutoTrade)
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Kafka.Brokers)

	t.Setenv("AUTO_TRADE", "maybe")
	_, err = LoadWithEnv(path)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "AUTO_TRADE", cerr.Field)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
