// Package config loads the environment-variable block recognized by the
// core (§6), using spf13/viper the way zjrosen-perles' CLI config layer
// does: AutomaticEnv plus explicit SetDefault calls, no config file.
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/fluxline/workflowcore/alerter"
	"github.com/fluxline/workflowcore/materializer"
)

// Config is the fully-resolved environment block from §6.
type Config struct {
	Alerter      alerter.Config
	Materializer materializer.Options
}

// Load reads the seven recognized environment variables, applying the
// defaults from §6's table when unset.
func Load() Config {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("WORKFLOW_FAILURE_ALERT_THRESHOLD", 3)
	v.SetDefault("WORKFLOW_FAILURE_ALERT_WINDOW_MINUTES", 15)
	v.SetDefault("WORKFLOW_ALERT_WEBHOOK_URL", "")
	v.SetDefault("WORKFLOW_ALERT_WEBHOOK_TOKEN", "")
	v.SetDefault("SCHEDULER_INTERVAL_MS", 10000)
	v.SetDefault("SCHEDULER_BATCH_SIZE", 20)
	v.SetDefault("SCHEDULER_MAX_WINDOWS", 5)

	return Config{
		Alerter: alerter.Config{
			Threshold:     v.GetInt("WORKFLOW_FAILURE_ALERT_THRESHOLD"),
			WindowMinutes: v.GetInt("WORKFLOW_FAILURE_ALERT_WINDOW_MINUTES"),
			WebhookURL:    v.GetString("WORKFLOW_ALERT_WEBHOOK_URL"),
			WebhookToken:  v.GetString("WORKFLOW_ALERT_WEBHOOK_TOKEN"),
		},
		Materializer: materializer.Options{
			TickInterval: time.Duration(v.GetInt("SCHEDULER_INTERVAL_MS")) * time.Millisecond,
			BatchSize:    v.GetInt("SCHEDULER_BATCH_SIZE"),
			MaxWindows:   v.GetInt("SCHEDULER_MAX_WINDOWS"),
			Concurrency:  materializer.DefaultOptions().Concurrency,
		},
	}
}
