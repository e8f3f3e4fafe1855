// internal/workers/profile/sweep-failures/config.go
package sweepfailures

import (
	"fmt"
	"time"

	"github.com/InternetOfUs/app-survey/internal/common/config"
)

type Config struct {
	Enabled       bool
	MaxJobsActive int
	Timeout       time.Duration
}

// DefaultConfig is disabled: without a workers.sweep-failures section the in-process
// scheduler sweeps.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       false,
		MaxJobsActive: 1,
		Timeout:       time.Minute,
	}
}

func ConfigFrom(app *config.Config) *Config {
	cfg := DefaultConfig()
	if app == nil {
		return cfg
	}
	wc, ok := app.Workers[TaskType]
	if !ok {
		return cfg
	}
	cfg.Enabled = wc.Enabled
	if wc.MaxJobsActive > 0 {
		cfg.MaxJobsActive = wc.MaxJobsActive
	}
	if wc.Timeout > 0 {
		cfg.Timeout = config.GetDuration(wc.Timeout)
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxJobsActive <= 0 {
		return fmt.Errorf("max_jobs_active must be positive")
	}
	return nil
}
