package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/swarm-orchestrator/internal/batch"
	"github.com/hochfrequenz/swarm-orchestrator/internal/judgment"
	"github.com/hochfrequenz/swarm-orchestrator/internal/labels"
	"github.com/hochfrequenz/swarm-orchestrator/internal/logging"
)

// LocalConfigName is looked up from the working directory upward
const LocalConfigName = ".swarm-orch.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	GitHub        GitHubConfig        `toml:"github"`
	Dependencies  DependenciesConfig  `toml:"dependencies"`
	Thresholds    judgment.Thresholds `toml:"thresholds"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Schedule      []batch.Entry       `toml:"schedule"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
	Agent        string `toml:"agent"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
}

// GitHubConfig holds gh CLI and label settings
type GitHubConfig struct {
	GHPath       string `toml:"gh_path"`
	Repo         string `toml:"repo"`
	IssueLimit   int    `toml:"issue_limit"`
	PRLimit      int    `toml:"pr_limit"`
	WIPLabel     string `toml:"wip_label"`
	ReviewLabel  string `toml:"review_label"`
	ClaimComment string `toml:"claim_comment"`
}

// DependenciesConfig selects how dependencies are declared
type DependenciesConfig struct {
	Source      string `toml:"source"`
	LabelPrefix string `toml:"label_prefix"`
}

// NotificationsConfig holds webhook settings
type NotificationsConfig struct {
	DiscordWebhook string `toml:"discord_webhook"`
	SlackWebhook   string `toml:"slack_webhook"`
	Username       string `toml:"username"`
}

// WebConfig holds API server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath: filepath.Join(home, ".swarm-orch", "performance.db"),
			Agent:        "swarm-agent",
			LogLevel:     "info",
			LogFormat:    "text",
		},
		GitHub: GitHubConfig{
			GHPath:       "gh",
			IssueLimit:   100,
			PRLimit:      50,
			WIPLabel:     "wip",
			ReviewLabel:  "needs-human-review",
			ClaimComment: "🤖 {agent} is working on {issue}",
		},
		Dependencies: DependenciesConfig{
			Source:      string(labels.SourceLabels),
			LabelPrefix: "d",
		},
		Thresholds: judgment.DefaultThresholds(),
		Notifications: NotificationsConfig{
			Username: "swarm-orch",
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
// when the file does not exist. Environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ExpandPath(path))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithLocalFallback loads the explicit path when given, else the
// nearest .swarm-orch.toml, else the user config file.
func LoadWithLocalFallback(explicitPath string) (*Config, error) {
	return Load(Resolve(explicitPath))
}

// Resolve returns the config path LoadWithLocalFallback would read
func Resolve(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}
	if local := FindLocalConfig(); local != "" {
		return local
	}
	return DefaultConfigPath()
}

// FindLocalConfig walks up from the working directory looking for
// .swarm-orch.toml and returns "" when there is none
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		c.Notifications.DiscordWebhook = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Notifications.SlackWebhook = v
	}
	if v := os.Getenv("GITHUB_REPO"); v != "" {
		c.GitHub.Repo = v
	}
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if _, err := labels.ParseSource(c.Dependencies.Source); err != nil {
		return err
	}
	if c.GitHub.IssueLimit <= 0 || c.GitHub.PRLimit <= 0 {
		return fmt.Errorf("issue_limit and pr_limit must be positive")
	}
	if _, err := logging.ParseLevel(c.General.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.General.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (want text or json)", c.General.LogFormat)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	return batch.ValidateAll(c.Schedule)
}

// Codec builds the label codec for the configured conventions
func (c *Config) Codec() *labels.Codec {
	// Validate has already accepted the source
	source, _ := labels.ParseSource(c.Dependencies.Source)
	return labels.New(c.GitHub.WIPLabel, c.Dependencies.LabelPrefix, source)
}

// Addr returns host:port of the API server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "swarm-orch", "config.toml")
}
