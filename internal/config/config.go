package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/kotori/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Adapters   AdaptersConfig   `koanf:"adapters"`
	Intents    IntentsConfig    `koanf:"intents"`
	Extractor  ExtractorConfig  `koanf:"extractor"`
	Models     ModelsConfig     `koanf:"models"`
	Governance GovernanceConfig `koanf:"governance"`
	Topics     TopicsConfig     `koanf:"topics"`
	Ingress    IngressConfig    `koanf:"ingress"`
	Store      StoreConfig      `koanf:"store"`
	Worker     WorkerConfig     `koanf:"worker"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Daemon     DaemonConfig     `koanf:"daemon"`
}

type ServerConfig struct {
	Port     int    `koanf:"port"`
	LogLevel string `koanf:"log_level"`
}

type AdaptersConfig struct {
	Slack    SlackConfig    `koanf:"slack"`
	Telegram TelegramConfig `koanf:"telegram"`
}

type SlackConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Port          int    `koanf:"port"`
	SigningSecret string `koanf:"signing_secret"`
	BotToken      string `koanf:"bot_token"`
}

type TelegramConfig struct {
	Enabled       bool   `koanf:"enabled"`
	BotToken      string `koanf:"bot_token"`
	UpdateTimeout int    `koanf:"update_timeout"`
}

// IntentsConfig points to the decision tree file. Empty path means the
// embedded catalog.
type IntentsConfig struct {
	Path string `koanf:"path"`
}

type ExtractorConfig struct {
	RuleConfidence     float64 `koanf:"rule_confidence"`
	FragmentConfidence float64 `koanf:"fragment_confidence"`
	FuzzyTimeout       string  `koanf:"fuzzy_timeout"`
	FuzzyModel         string  `koanf:"fuzzy_model"`
}

type ModelsConfig struct {
	Provider            string          `koanf:"provider"` // "anthropic", "openai", "gemini", "" = disabled
	Embedding           string          `koanf:"embedding"`
	Fallback            string          `koanf:"fallback"`
	MaxFallbackAttempts int             `koanf:"max_fallback_attempts"`
	Registry            []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name     string `koanf:"name"`
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
	Model    string `koanf:"model"`
}

// GovernanceConfig controls the validation gate. Risk tiers come from the
// intent catalog; overrides let operators promote or demote a skill without
// editing the tree file.
type GovernanceConfig struct {
	ConfidenceFloor   float64           `koanf:"confidence_floor"`
	ConfirmationFloor float64           `koanf:"confirmation_floor"`
	RiskOverrides     map[string]string `koanf:"risk_overrides"`
	IdempotencyTTL    string            `koanf:"idempotency_ttl"`
}

type TopicsConfig struct {
	StackSize int    `koanf:"stack_size"`
	MaxAge    string `koanf:"max_age"`
}

type IngressConfig struct {
	InteractiveQueueSize     int    `koanf:"interactive_queue_size"`
	BackgroundQueueSize      int    `koanf:"background_queue_size"`
	InteractiveSubmitTimeout string `koanf:"interactive_submit_timeout"`
	DrainTimeout             string `koanf:"drain_timeout"`
	DrainPollInterval        string `koanf:"drain_poll_interval"`
}

type StoreConfig struct {
	LockTimeout  string `koanf:"lock_timeout"`
	LockRetry    string `koanf:"lock_retry"`
	LockMaxRetry int    `koanf:"lock_max_retry"`
	InboxSize    int    `koanf:"inbox_size"`
}

type WorkerConfig struct {
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type SchedulerConfig struct {
	SweepSchedule   string `koanf:"sweep_schedule"`
	IdlePromptTTL   string `koanf:"idle_prompt_ttl"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type DaemonConfig struct {
	ShutdownTimeout        string `koanf:"shutdown_timeout"`
	HealthCheckInterval    string `koanf:"health_check_interval"`
	StartupShutdownTimeout string `koanf:"startup_shutdown_timeout"`
	PreflightTimeout       string `koanf:"preflight_timeout"`
	StaleLockTTL           string `koanf:"stale_lock_ttl"`
	WorkspacePath          string `koanf:"workspace_path"`
}

const (
	DefaultWorkspaceID                     = "default"
	DefaultServerPort                      = 8080
	DefaultServerLogLevel                  = "info"
	DefaultExtractorRuleConfidence         = 0.95
	DefaultExtractorFragmentConfidence     = 0.6
	DefaultExtractorFuzzyTimeout           = "3s"
	DefaultOpenAIBaseURL                   = "https://api.openai.com/v1"
	DefaultOllamaBaseURL                   = "http://localhost:11434/v1"
	DefaultOllamaAPIKey                    = "ollama"
	DefaultModelEmbedding                  = "nomic-embed-text"
	DefaultModelMaxFallbackAttempts        = 2
	DefaultGovernanceConfidenceFloor       = 0.5
	DefaultGovernanceConfirmationFloor     = 0.75
	DefaultGovernanceIdempotencyTTL        = "24h"
	DefaultTopicsStackSize                 = 8
	DefaultTopicsMaxAge                    = "24h"
	DefaultStoreLockTimeout                = "30s"
	DefaultStoreLockRetry                  = "100ms"
	DefaultStoreLockMaxRetry               = 300
	DefaultStoreInboxSize                  = 100
	DefaultSlackPort                       = 3000
	DefaultTelegramUpdateTimeout           = 60
	DefaultIngressInteractiveQueue         = 100
	DefaultIngressBackgroundQueue          = 1000
	DefaultIngressInteractiveSubmitTimeout = "500ms"
	DefaultIngressDrainTimeout             = "5s"
	DefaultIngressDrainPollInterval        = "100ms"
	DefaultWorkerShutdownTimeout           = "30s"
	DefaultSchedulerSweepSchedule          = "@every 1m"
	DefaultSchedulerIdlePromptTTL          = "10m"
	DefaultSchedulerShutdownTimeout        = "30s"
	DefaultDaemonShutdownTimeout           = "30s"
	DefaultDaemonHealthCheckInterval       = "30s"
	DefaultDaemonStartupShutdownTimeout    = "10s"
	DefaultDaemonPreflightTimeout          = "10s"
	DefaultDaemonStaleLockTTL              = "15m"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                        DefaultServerPort,
		"server.log_level":                   DefaultServerLogLevel,
		"adapters.slack.port":                DefaultSlackPort,
		"adapters.telegram.update_timeout":   DefaultTelegramUpdateTimeout,
		"intents.path":                       "",
		"extractor.rule_confidence":          DefaultExtractorRuleConfidence,
		"extractor.fragment_confidence":      DefaultExtractorFragmentConfidence,
		"extractor.fuzzy_timeout":            DefaultExtractorFuzzyTimeout,
		"models.provider":                    "",
		"models.embedding":                   DefaultModelEmbedding,
		"models.fallback":                    "",
		"models.max_fallback_attempts":       DefaultModelMaxFallbackAttempts,
		"models.registry": []ModelRegistry{
			{Name: "claude", Provider: "anthropic"},
			{Name: "local-llama", Provider: "openai", BaseURL: DefaultOllamaBaseURL, APIKey: DefaultOllamaAPIKey},
			{Name: "gemini", Provider: "gemini"},
		},
		"governance.confidence_floor":        DefaultGovernanceConfidenceFloor,
		"governance.confirmation_floor":      DefaultGovernanceConfirmationFloor,
		"governance.idempotency_ttl":         DefaultGovernanceIdempotencyTTL,
		"topics.stack_size":                  DefaultTopicsStackSize,
		"topics.max_age":                     DefaultTopicsMaxAge,
		"ingress.interactive_queue_size":     DefaultIngressInteractiveQueue,
		"ingress.background_queue_size":      DefaultIngressBackgroundQueue,
		"ingress.interactive_submit_timeout": DefaultIngressInteractiveSubmitTimeout,
		"ingress.drain_timeout":              DefaultIngressDrainTimeout,
		"ingress.drain_poll_interval":        DefaultIngressDrainPollInterval,
		"store.lock_timeout":                 DefaultStoreLockTimeout,
		"store.lock_retry":                   DefaultStoreLockRetry,
		"store.lock_max_retry":               DefaultStoreLockMaxRetry,
		"store.inbox_size":                   DefaultStoreInboxSize,
		"worker.shutdown_timeout":            DefaultWorkerShutdownTimeout,
		"scheduler.sweep_schedule":           DefaultSchedulerSweepSchedule,
		"scheduler.idle_prompt_ttl":          DefaultSchedulerIdlePromptTTL,
		"scheduler.shutdown_timeout":         DefaultSchedulerShutdownTimeout,
		"daemon.shutdown_timeout":            DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":       DefaultDaemonHealthCheckInterval,
		"daemon.startup_shutdown_timeout":    DefaultDaemonStartupShutdownTimeout,
		"daemon.preflight_timeout":           DefaultDaemonPreflightTimeout,
		"daemon.stale_lock_ttl":              DefaultDaemonStaleLockTTL,
		"daemon.workspace_path":              filepath.Join(os.Getenv("HOME"), ".kotori", "workspaces"),
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".kotori", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("KOTORI_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "KOTORI_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	// Post-Process: Inject standard Env Vars if missing
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "openai" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "anthropic" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "gemini" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}

	return &cfg, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	workspacePath, err := expandConfiguredPath(cfg.Daemon.WorkspacePath)
	if err != nil {
		return err
	}
	if workspacePath != "" {
		cfg.Daemon.WorkspacePath = workspacePath
	}

	intentsPath, err := expandConfiguredPath(cfg.Intents.Path)
	if err != nil {
		return err
	}
	if intentsPath != "" {
		cfg.Intents.Path = intentsPath
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
