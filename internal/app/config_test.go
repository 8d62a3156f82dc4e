package app

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)

	tol := cfg.Tolerances()
	assert.Equal(t, 15, tol.OnSchedule)
	assert.Equal(t, 60, tol.Acceptable)
	assert.Nil(t, tol.NegativeSlack)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("RECONCILE_ON_SCHEDULE_MINUTES", "5")
	t.Setenv("RECONCILE_ACCEPTABLE_MINUTES", "30")
	t.Setenv("RECONCILE_NEGATIVE_SLACK_MINUTES", "20")
	t.Setenv("SNAPSHOT_CRON", "0 0 1 * *")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	tol := cfg.Tolerances()
	assert.Equal(t, 5, tol.OnSchedule)
	assert.Equal(t, 30, tol.Acceptable)
	require.NotNil(t, tol.NegativeSlack)
	assert.Equal(t, 20, *tol.NegativeSlack)
	assert.Equal(t, "0 0 1 * *", cfg.SnapshotCron)
}

func TestLoadConfigRejectsInconsistentSettings(t *testing.T) {
	t.Run("backend", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "sqlite")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "STORE_BACKEND")
	})
	t.Run("tolerances", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "memory")
		t.Setenv("RECONCILE_ON_SCHEDULE_MINUTES", "90")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "tolerances")
	})
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&Config{AppEnv: "test", LogFormat: "json"}, &buf).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "test", line["env"])

	buf.Reset()
	NewLoggerTo(nil, &buf).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
