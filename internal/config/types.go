package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Study    StudyConfig    `json:"study"`

	// Maintenance controls the background repair job. If omitted it
	// defaults to enabled with an hourly resync.
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// NotifyRatePerSec caps outgoing direct messages. Telegram
	// throttles bots hard; keep this low.
	NotifyRatePerSec int `json:"notify_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`

	// BusyTimeout is a Go duration string (sqlite).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// StudyConfig describes the study-mode role surface.
//
// Role names the default profile applied by /study and schedules.
// Profiles map role names to the permission set enforced while the role
// is held; on Telegram "holding the study role" means the member's chat
// permissions are restricted to the profile.
type StudyConfig struct {
	// Timezone is the IANA location used to interpret "HH:MM" in
	// commands (e.g. "Asia/Jakarta"). Empty means the host's local
	// time.
	Timezone string `json:"timezone,omitempty"`

	Role     string                   `json:"role"`
	Profiles map[string]ProfileConfig `json:"profiles"`

	// MaxSessionMinutes bounds /study and schedule durations from the
	// command side. Hard cap is 1440 regardless.
	MaxSessionMinutes int `json:"max_session_minutes,omitempty"`
}

// ProfileConfig mirrors the chat permissions left to a member while in
// study mode. Everything not listed is denied for the duration.
type ProfileConfig struct {
	CanSendMessages bool `json:"can_send_messages"`
	CanSendMedia    bool `json:"can_send_media"`
	CanSendOther    bool `json:"can_send_other"`
	CanAddPreviews  bool `json:"can_add_previews"`
}

// MaintenanceConfig controls the periodic repair job.
//
// All durations are Go duration strings. CheckpointCron is a standard
// 5-field cron spec evaluated in the study timezone.
type MaintenanceConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	ResyncEvery    string `json:"resync_every,omitempty"`    // default "1h"
	CheckpointCron string `json:"checkpoint_cron,omitempty"` // default "0 4 * * *"
}
