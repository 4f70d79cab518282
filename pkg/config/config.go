package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so id lists can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Engine      EngineConfig      `json:"engine"`
	Persona     PersonaConfig     `json:"persona"`
	Channels    ChannelsConfig    `json:"channels"`
	Providers   ProvidersConfig   `json:"providers"`
	History     HistoryConfig     `json:"history"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	mu          sync.RWMutex
}

// EngineConfig holds every knob of the wake decision engine. A zero or
// empty value disables the corresponding mechanism rather than erroring.
type EngineConfig struct {
	GroupAllowlist FlexibleStringSlice `json:"group_allowlist" env:"WAKEGATE_ENGINE_GROUP_ALLOWLIST"`
	UserDenylist   FlexibleStringSlice `json:"user_denylist" env:"WAKEGATE_ENGINE_USER_DENYLIST"`

	WakeCooldownSec float64  `json:"wake_cooldown_sec" env:"WAKEGATE_ENGINE_WAKE_COOLDOWN_SEC"`
	ForbiddenWords  []string `json:"forbidden_words" env:"WAKEGATE_ENGINE_FORBIDDEN_WORDS"`
	BlockBuiltin    bool     `json:"block_builtin" env:"WAKEGATE_ENGINE_BLOCK_BUILTIN"`
	BuiltinCommands []string `json:"builtin_commands"`

	MentionNames  []string `json:"mention_names" env:"WAKEGATE_ENGINE_MENTION_NAMES"`
	WakeExtendSec float64  `json:"wake_extend_sec" env:"WAKEGATE_ENGINE_WAKE_EXTEND_SEC"`

	RelevantWakeThreshold float64 `json:"relevant_wake_threshold" env:"WAKEGATE_ENGINE_RELEVANT_WAKE_THRESHOLD"`
	HistoryDepth          int     `json:"history_depth" env:"WAKEGATE_ENGINE_HISTORY_DEPTH"`
	AskWakeThreshold      float64 `json:"ask_wake_threshold" env:"WAKEGATE_ENGINE_ASK_WAKE_THRESHOLD"`
	BoredWakeThreshold    float64 `json:"bored_wake_threshold" env:"WAKEGATE_ENGINE_BORED_WAKE_THRESHOLD"`
	ProbWakeThreshold     float64 `json:"prob_wake_threshold" env:"WAKEGATE_ENGINE_PROB_WAKE_THRESHOLD"`

	ShutupThreshold float64 `json:"shutup_threshold" env:"WAKEGATE_ENGINE_SHUTUP_THRESHOLD"`
	InsultThreshold float64 `json:"insult_threshold" env:"WAKEGATE_ENGINE_INSULT_THRESHOLD"`
	AIThreshold     float64 `json:"ai_threshold" env:"WAKEGATE_ENGINE_AI_THRESHOLD"`
	SultMultiple    float64 `json:"sult_multiple" env:"WAKEGATE_ENGINE_SULT_MULTIPLE"`
	SilenceMultiple float64 `json:"silence_multiple" env:"WAKEGATE_ENGINE_SILENCE_MULTIPLE"`

	PendWindowSec float64 `json:"pend_window_sec" env:"WAKEGATE_ENGINE_PEND_WINDOW_SEC"`
}

type PersonaConfig struct {
	SystemPrompt       string `json:"system_prompt" env:"WAKEGATE_PERSONA_SYSTEM_PROMPT"`
	EmptyMentionPrompt string `json:"empty_mention_prompt" env:"WAKEGATE_PERSONA_EMPTY_MENTION_PROMPT"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"WAKEGATE_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"WAKEGATE_CHANNELS_DISCORD_ALLOW_FROM"`
}

type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter"`
	Model      string         `json:"model" env:"WAKEGATE_PROVIDERS_MODEL"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"WAKEGATE_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" env:"WAKEGATE_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"WAKEGATE_PROVIDERS_OPENROUTER_PROXY"`
}

type HistoryConfig struct {
	DBPath string `json:"db_path" env:"WAKEGATE_HISTORY_DB_PATH"`
}

type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled" env:"WAKEGATE_MAINTENANCE_ENABLED"`
	CronExpr string `json:"cron_expr" env:"WAKEGATE_MAINTENANCE_CRON_EXPR"`
}

// defaultBuiltinCommands mirrors the host platform's built-in command set.
// Messages containing one of these never wake the agent when block_builtin
// is enabled.
var defaultBuiltinCommands = []string{
	"t2i", "tts", "sid", "op", "wl", "dashboard_update", "alter_cmd",
	"provider", "model", "ls", "new", "switch", "rename", "del", "reset",
	"history", "persona", "tool ls", "key", "websearch",
}

func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			GroupAllowlist:        FlexibleStringSlice{},
			UserDenylist:          FlexibleStringSlice{},
			WakeCooldownSec:       3,
			ForbiddenWords:        []string{},
			BlockBuiltin:          true,
			BuiltinCommands:       defaultBuiltinCommands,
			MentionNames:          []string{},
			WakeExtendSec:         20,
			RelevantWakeThreshold: 0.75,
			HistoryDepth:          5,
			AskWakeThreshold:      0.6,
			BoredWakeThreshold:    0,
			ProbWakeThreshold:     0,
			ShutupThreshold:       0.7,
			InsultThreshold:       0.7,
			AIThreshold:           0,
			SultMultiple:          60,
			SilenceMultiple:       120,
			PendWindowSec:         8,
		},
		Persona: PersonaConfig{
			SystemPrompt:       "",
			EmptyMentionPrompt: "{username} mentioned you without saying anything. Reply briefly and in character.",
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Providers: ProvidersConfig{
			OpenRouter: ProviderConfig{},
			Model:      "openai/gpt-5.2",
		},
		History: HistoryConfig{
			DBPath: "~/.wakegate/history.db",
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			CronExpr: "*/15 * * * *",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Providers.OpenRouter.APIKey
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenRouter.APIBase != "" {
		return c.Providers.OpenRouter.APIBase
	}
	return "https://openrouter.ai/api/v1"
}

func (c *Config) HistoryDBPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.History.DBPath)
}

func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
