package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Google   GoogleConfig   `json:"google"`
	Storage  StorageConfig  `json:"storage"`
	Reminder ReminderConfig `json:"reminder"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
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

// GoogleConfig points at the OAuth client secrets used to build consent URLs
// and exchange authorization codes. The file is the standard client secrets
// JSON downloaded from the Google Cloud console.
type GoogleConfig struct {
	CredentialsFile string `json:"credentials_file"`
	// MaxResults caps upcoming/past listings. Default 10.
	MaxResults int `json:"max_results,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// ReminderConfig controls the background calendar scan.
//
// All durations are Go duration strings. Defaults (when omitted/zero):
//   - interval: "5m"
//   - tolerance: "2m"
//   - default_offset: 15 (minutes)
//   - workers: 4
//   - rate_per_sec: 5
//   - call_timeout: "30s"
//   - dedup_window: "0s" (an event may be notified once per qualifying tick)
type ReminderConfig struct {
	Enabled       bool   `json:"enabled"`
	Interval      string `json:"interval,omitempty"`
	Tolerance     string `json:"tolerance,omitempty"`
	DefaultOffset int    `json:"default_offset,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	CallTimeout   string `json:"call_timeout,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}
