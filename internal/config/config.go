package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	RepoPath  string        `yaml:"repo_path"`
	RemoteURL string        `yaml:"remote_url"`
	Build     BuildConfig   `yaml:"build"`
	Storage   StorageConfig `yaml:"storage"`
	Tracker   TrackerConfig `yaml:"tracker"`
	Webhooks  WebhookConfig `yaml:"webhooks"`
	Serve     ServeConfig   `yaml:"serve"`
}

type BuildConfig struct {
	DataTable    string        `yaml:"data_table"`
	StringTables []StringTable `yaml:"string_tables"`
	Manifest     string        `yaml:"manifest"`
	OutputDir    string        `yaml:"output_dir"`
	AssetPath    string        `yaml:"asset_path"`
	ReportPath   string        `yaml:"report_path"`
	RunTimeout   time.Duration `yaml:"run_timeout"`
}

// StringTable names one localized string file rebuilt from the data table.
type StringTable struct {
	Path   string `yaml:"path"`
	Column string `yaml:"column"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type TrackerConfig struct {
	BaseURL           string         `yaml:"base_url"`
	Username          string         `yaml:"username"`
	Password          string         `yaml:"password"`
	ProjectID         int            `yaml:"project_id"`
	StatusMappings    map[string]int `yaml:"status_mappings"`
	EpicStatuses      map[string]int `yaml:"epic_statuses"`
	TestedAttributeID int            `yaml:"tested_attribute_id"`
	BotUserID         int            `yaml:"bot_user_id"`
}

type WebhookConfig struct {
	ReleaseURL string `yaml:"release_url"`
	CommitURL  string `yaml:"commit_url"`
	TrackerURL string `yaml:"tracker_url"`
	BotName    string `yaml:"bot_name"`
	AvatarURL  string `yaml:"avatar_url"`
}

type ServeConfig struct {
	Port          int        `yaml:"port"`
	BaseURL       string     `yaml:"base_url"`
	SQLitePath    string     `yaml:"sqlite_path"`
	SessionSecret string     `yaml:"session_secret"`
	CommitSecret  string     `yaml:"commit_secret"`
	TrackerSecret string     `yaml:"tracker_secret"`
	RunLogPath    string     `yaml:"run_log_path"`
	Auth          AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	Issuer       string `yaml:"issuer"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	RolesURL     string `yaml:"roles_url"`
	RolesToken   string `yaml:"roles_token"`
	TeamRole     string `yaml:"team_role"`
	BetaRole     string `yaml:"beta_role"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Build.RunTimeout == 0 {
		c.Build.RunTimeout = 30 * time.Minute
	}
	if c.Build.ReportPath == "" {
		c.Build.ReportPath = "report.txt"
	}
	if c.Serve.RunLogPath == "" {
		c.Serve.RunLogPath = "release_log.txt"
	}
	if c.Webhooks.BotName == "" {
		c.Webhooks.BotName = "Mod Manager"
	}
}

func (c *Config) Validate() error {
	if c.RepoPath == "" {
		return fmt.Errorf("repo_path is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Tracker.BaseURL == "" {
		return fmt.Errorf("tracker.base_url is required")
	}
	return nil
}
