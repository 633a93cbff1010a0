package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Helpdesk HelpdeskConfig `json:"helpdesk"`
	Storage  StorageConfig  `json:"storage"`
	Notifier NotifierConfig `json:"notifier"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HelpdeskConfig describes the ticketing backend's REST API.
//
// BaseURL should point at the API root; a trailing slash is added if missing.
// PortalURL is the customer portal used to build survey links.
type HelpdeskConfig struct {
	BaseURL   string `json:"base_url"`
	ClientID  string `json:"client_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	PortalURL string `json:"portal_url,omitempty"`
	// Timeout is a Go duration string (e.g. "30s"). Zero means a 30s default.
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls the notification registry persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./bridge.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifierConfig controls the event poll loop.
//
// PollSchedule accepts a Go duration string ("10s"), an "interval:" prefixed
// duration, or a cron spec ("*/1 * * * *"). It is re-read every iteration, so
// config reloads take effect without a restart.
//
// IdleTimeout is how long a conversation must sit quiet before a suppressed
// notification is allowed to interrupt it anyway. "0m" means any idle
// conversation may be interrupted.
type NotifierConfig struct {
	Enabled      bool   `json:"enabled"`
	PollSchedule string `json:"poll_schedule,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
}

// TelegramConfig enables the optional telegram delivery adapter.
// When Token is empty the adapter is not constructed.
type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}
