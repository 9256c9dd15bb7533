package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fluxline/workflowcore/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load()

	assert.Equal(t, 3, cfg.Alerter.Threshold)
	assert.Equal(t, 15, cfg.Alerter.WindowMinutes)
	assert.Equal(t, "", cfg.Alerter.WebhookURL)
	assert.Equal(t, "", cfg.Alerter.WebhookToken)

	assert.Equal(t, 10*time.Second, cfg.Materializer.TickInterval)
	assert.Equal(t, 20, cfg.Materializer.BatchSize)
	assert.Equal(t, 5, cfg.Materializer.MaxWindows)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WORKFLOW_FAILURE_ALERT_THRESHOLD", "7")
	t.Setenv("WORKFLOW_FAILURE_ALERT_WINDOW_MINUTES", "30")
	t.Setenv("WORKFLOW_ALERT_WEBHOOK_URL", "https://hooks.example.com/alert")
	t.Setenv("WORKFLOW_ALERT_WEBHOOK_TOKEN", "secret-token")
	t.Setenv("SCHEDULER_INTERVAL_MS", "5000")
	t.Setenv("SCHEDULER_BATCH_SIZE", "50")
	t.Setenv("SCHEDULER_MAX_WINDOWS", "10")

	cfg := config.Load()

	assert.Equal(t, 7, cfg.Alerter.Threshold)
	assert.Equal(t, 30, cfg.Alerter.WindowMinutes)
	assert.Equal(t, "https://hooks.example.com/alert", cfg.Alerter.WebhookURL)
	assert.Equal(t, "secret-token", cfg.Alerter.WebhookToken)

	assert.Equal(t, 5*time.Second, cfg.Materializer.TickInterval)
	assert.Equal(t, 50, cfg.Materializer.BatchSize)
	assert.Equal(t, 10, cfg.Materializer.MaxWindows)
}
