package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks cross-field constraints that the decoder cannot express.
// It is used both at startup and as the Watch() validation hook.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	var errs []error

	if cfg.Notifier.Enabled {
		if strings.TrimSpace(cfg.Helpdesk.BaseURL) == "" {
			errs = append(errs, errors.New("helpdesk.base_url is required when notifier.enabled"))
		}
		if strings.TrimSpace(cfg.Helpdesk.ClientID) == "" {
			errs = append(errs, errors.New("helpdesk.client_id is required when notifier.enabled"))
		}
	}

	if _, err := ParseDurationField("helpdesk.timeout", cfg.Helpdesk.Timeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("notifier.idle_timeout", cfg.Notifier.IdleTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	return errors.Join(errs...)
}
