package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v2"
)

// SysConfig holds process-level settings.
type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Version  string `yaml:"version" json:"version"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

type WebConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
	// Secret is the shared bearer token required on all protected routes.
	Secret string `yaml:"secret" json:"secret"`
	// AllowedOrigins is the explicit CORS allow-list. Origins not listed are
	// rejected; there is no permissive fallback.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	Debug          bool     `yaml:"debug" json:"debug"`
}

// SessionConfig carries the polling budgets and extraction bounds of the
// pairing chain. Every wait loop is bounded by these values.
type SessionConfig struct {
	EntryURL           string `yaml:"entry_url" json:"entry_url"`
	BrowserBin         string `yaml:"browser_bin" json:"browser_bin"`
	NavTimeoutSec      int    `yaml:"nav_timeout_sec" json:"nav_timeout_sec"`
	WarmupWaitSec      int    `yaml:"warmup_wait_sec" json:"warmup_wait_sec"`
	QrMaxAttempts      int    `yaml:"qr_max_attempts" json:"qr_max_attempts"`
	QrIntervalSec      int    `yaml:"qr_interval_sec" json:"qr_interval_sec"`
	QrMinBytes         int    `yaml:"qr_min_bytes" json:"qr_min_bytes"`
	ConnMaxAttempts    int    `yaml:"conn_max_attempts" json:"conn_max_attempts"`
	ConnIntervalSec    int    `yaml:"conn_interval_sec" json:"conn_interval_sec"`
	SettleSec          int    `yaml:"settle_sec" json:"settle_sec"`
	MaxContacts        int    `yaml:"max_contacts" json:"max_contacts"`
	MaxChats           int    `yaml:"max_chats" json:"max_chats"`
	MaxMessagesPerChat int    `yaml:"max_messages_per_chat" json:"max_messages_per_chat"`
	WorkerPoolSize     int    `yaml:"worker_pool_size" json:"worker_pool_size"`
	SnapshotFile       string `yaml:"snapshot_file" json:"snapshot_file"`
	RelaunchStaggerSec int    `yaml:"relaunch_stagger_sec" json:"relaunch_stagger_sec"`
}

type WebhookConfig struct {
	Token      string `yaml:"token" json:"token"`
	TimeoutSec int    `yaml:"timeout_sec" json:"timeout_sec"`
	ServerURL  string `yaml:"server_url" json:"server_url"`
}

type AppConfig struct {
	System  SysConfig     `yaml:"system" json:"system"`
	Logger  LogConfig     `yaml:"logger" json:"logger"`
	Web     WebConfig     `yaml:"web" json:"web"`
	Session SessionConfig `yaml:"session" json:"session"`
	Webhook WebhookConfig `yaml:"webhook" json:"webhook"`
}

func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		System: SysConfig{
			Appid:    "walinkd",
			Location: "Asia/Jakarta",
			Workdir:  "/var/walinkd",
			Version:  "1.0.0",
		},
		Logger: LogConfig{
			Mode:       "development",
			FileEnable: false,
			Filename:   "/var/walinkd/walinkd.log",
		},
		Web: WebConfig{
			Host:   "0.0.0.0",
			Port:   3001,
			Secret: "walinkd-secret",
			Debug:  true,
		},
		Session: SessionConfig{
			EntryURL:           "https://web.whatsapp.com",
			NavTimeoutSec:      60,
			WarmupWaitSec:      10,
			QrMaxAttempts:      10,
			QrIntervalSec:      5,
			QrMinBytes:         500,
			ConnMaxAttempts:    200,
			ConnIntervalSec:    3,
			SettleSec:          3,
			MaxContacts:        50,
			MaxChats:           5,
			MaxMessagesPerChat: 20,
			WorkerPoolSize:     32,
			SnapshotFile:       "active_sessions.json",
			RelaunchStaggerSec: 5,
		},
		Webhook: WebhookConfig{
			Token:      "walinkd-webhook-token",
			TimeoutSec: 30,
		},
	}
}

// LoadConfig reads the YAML config file and applies environment overrides.
// A missing file is not an error; defaults are used.
func LoadConfig(cfile string) *AppConfig {
	cfg := DefaultAppConfig()
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}
	setEnvValue("WALINKD_SYSTEM_WORKDIR", &cfg.System.Workdir)
	setEnvValue("WALINKD_WEB_HOST", &cfg.Web.Host)
	setEnvValue("WALINKD_WEB_SECRET", &cfg.Web.Secret)
	setEnvValue("WALINKD_SESSION_ENTRY_URL", &cfg.Session.EntryURL)
	setEnvValue("WALINKD_WEBHOOK_TOKEN", &cfg.Webhook.Token)
	setEnvValue("WALINKD_WEBHOOK_SERVER_URL", &cfg.Webhook.ServerURL)
	setEnvIntValue("WALINKD_WEB_PORT", &cfg.Web.Port)
	setEnvBoolValue("WALINKD_WEB_DEBUG", &cfg.Web.Debug)
	setEnvBoolValue("WALINKD_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)
	return cfg
}

// SnapshotPath resolves the snapshot file under the workdir unless absolute.
func (c *AppConfig) SnapshotPath() string {
	if filepath.IsAbs(c.Session.SnapshotFile) {
		return c.Session.SnapshotFile
	}
	return filepath.Join(c.System.Workdir, c.Session.SnapshotFile)
}

func setEnvValue(name string, f *string) {
	if v, ok := os.LookupEnv(name); ok {
		*f = v
	}
}

func setEnvIntValue(name string, f *int) {
	if v, ok := os.LookupEnv(name); ok {
		*f = cast.ToInt(v)
	}
}

func setEnvBoolValue(name string, f *bool) {
	if v, ok := os.LookupEnv(name); ok {
		*f = cast.ToBool(v)
	}
}
