package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	HTTP     HTTPConfig     `json:"http,omitempty"`

	Scheduler SchedulerConfig `json:"scheduler"`
	Transport TransportConfig `json:"transport,omitempty"`

	Storage    *StorageConfig   `json:"storage,omitempty"`
	Automation AutomationConfig `json:"automation"`
}

type TelegramConfig struct {
	// Token usually comes from the environment: "token": "${BOT_TOKEN}".
	Token  string `json:"token"`
	APIURL string `json:"api_url,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "1m").
	PollTimeout string `json:"poll_timeout"`

	UpdateWorkers int `json:"update_workers,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards warnings and errors to an operator group.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	Group      string `json:"group"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// HTTPConfig controls the status/metrics HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	Pprof       bool   `json:"pprof,omitempty"`
	PprofPrefix string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// SchedulerConfig controls trigger evaluation and the task engine.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - workers: 4
//   - queue_size: 64
//   - default_timeout: "10m"
//   - history_size: 200
type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	// MaxQueueDelay drops firings that waited longer than this for a worker.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// TransportConfig bounds every platform call.
type TransportConfig struct {
	CallTimeout    string  `json:"call_timeout,omitempty"` // default: "30s"
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"`
	SendBurst      int     `json:"send_burst,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./groupbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type AutomationConfig struct {
	// Timezone is an IANA zone name; empty means Africa/Maputo.
	Timezone string `json:"timezone,omitempty"`
	// Assets is the directory image steps are loaded from.
	Assets string `json:"assets,omitempty"`

	Groups     GroupsConfig     `json:"groups"`
	Manual     ManualConfig     `json:"manual,omitempty"`
	Promotions PromotionsConfig `json:"promotions"`
}

// GroupsConfig drives the daily close/open toggle.
type GroupsConfig struct {
	Managed []string `json:"managed"`
	Close   string   `json:"close"` // "HH:MM"
	Open    string   `json:"open"`  // "HH:MM"

	PollEvery string `json:"poll_every,omitempty"` // default: "60s"
	Timeout   string `json:"timeout,omitempty"`

	Contact string        `json:"contact,omitempty"`
	Notices NoticesConfig `json:"notices,omitempty"`
}

// NoticesConfig overrides the texts sent after a mode change. Empty keeps the default.
type NoticesConfig struct {
	Restricted string `json:"restricted,omitempty"`
	Open       string `json:"open,omitempty"`
}

// ManualConfig controls the "/grupo on|off" admin command.
type ManualConfig struct {
	Enabled *bool `json:"enabled,omitempty"` // default: true
	// Groups allowed to use the command; omitted means the managed list.
	Groups []string          `json:"groups,omitempty"`
	Texts  ManualTextsConfig `json:"texts,omitempty"`
}

type ManualTextsConfig struct {
	Closed        string `json:"closed,omitempty"`
	Opened        string `json:"opened,omitempty"`
	AlreadyClosed string `json:"already_closed,omitempty"`
	AlreadyOpen   string `json:"already_open,omitempty"`
	GroupOnly     string `json:"group_only,omitempty"`
	NotAllowed    string `json:"not_allowed,omitempty"`
	NoMetadata    string `json:"no_metadata,omitempty"`
	AdminOnly     string `json:"admin_only,omitempty"`
	ChangeFailed  string `json:"change_failed,omitempty"`
}

// PromotionsConfig drives the scheduled broadcast.
//
// Triggers and Images fall back to the built-in plan when omitted; an explicit
// empty list is kept (and reported as a hazard for triggers).
type PromotionsConfig struct {
	Triggers []string `json:"triggers"`
	Targets  []string `json:"targets"`
	Timeout  string   `json:"timeout,omitempty"`

	ImageDelay   string        `json:"image_delay,omitempty"`   // default: "5s"
	PaymentDelay string        `json:"payment_delay,omitempty"` // default: "4s"
	Images       []ImageConfig `json:"images,omitempty"`
	PaymentText  string        `json:"payment_text,omitempty"`
	LinkText     string        `json:"link_text,omitempty"`
}

type ImageConfig struct {
	Asset   string `json:"asset"`
	Caption string `json:"caption"`
}
