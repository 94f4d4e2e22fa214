package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for wabot.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Transports TransportsConfig `json:"transports"`
	Gate       GateConfig       `json:"gate"`
	Rental     RentalConfig     `json:"rental"`
	Energy     EnergyConfig     `json:"energy"`
	Moderation ModerationConfig `json:"moderation"`
	AutoReply  AutoReplyConfig  `json:"autoReply"`
	Store      StoreConfig      `json:"store"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	Owners    FlexStringList `json:"owners"`
	Prefixes  string         `json:"prefixes"` // set of single-character command prefixes
	BotID     string         `json:"botId,omitempty"`
	LogLevel  string         `json:"logLevel"`
	LogFile   string         `json:"logFile,omitempty"`
	BusBuffer int            `json:"busBuffer"`
}

type TransportsConfig struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

// GatewayConfig configures the WebSocket session-gateway transport.
type GatewayConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token"`
	ParseMode string `json:"parseMode"`
}

type GateConfig struct {
	ChatMode      string `json:"chatMode"`      // "all" | "group" | "private"
	OperatingMode string `json:"operatingMode"` // "public" | "owner"
}

type RentalConfig struct {
	Enabled       bool           `json:"enabled"`
	TrialDays     int            `json:"trialDays"`
	AllowCommands FlexStringList `json:"allowCommands"`
}

type EnergyConfig struct {
	Enabled bool           `json:"enabled"`
	Cost    int            `json:"cost"`
	Initial int            `json:"initial"`
	Exempt  FlexStringList `json:"exempt"` // command tokens that never cost energy
}

type ModerationConfig struct {
	Enabled   bool `json:"enabled"`
	WarnLimit int  `json:"warnLimit"`
}

type AutoReplyConfig struct {
	Enabled  bool   `json:"enabled"`
	RulesDir string `json:"rulesDir"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.wabot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wabot"
	}
	return filepath.Join(home, ".wabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = expandPath(cfg.Store.DBPath)
	cfg.General.LogFile = expandPath(cfg.General.LogFile)
	cfg.AutoReply.RulesDir = expandPath(cfg.AutoReply.RulesDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks cross-field constraints that JSON decoding cannot.
func Validate(cfg *Config) error {
	if cfg.General.Prefixes == "" {
		return fmt.Errorf("general.prefixes must contain at least one prefix character")
	}
	for _, r := range cfg.General.Prefixes {
		if r > 0x7f {
			return fmt.Errorf("general.prefixes must be ASCII, got %q", r)
		}
	}
	switch cfg.Gate.ChatMode {
	case "all", "group", "private":
	default:
		return fmt.Errorf("gate.chatMode must be all|group|private, got %q", cfg.Gate.ChatMode)
	}
	switch cfg.Gate.OperatingMode {
	case "public", "owner":
	default:
		return fmt.Errorf("gate.operatingMode must be public|owner, got %q", cfg.Gate.OperatingMode)
	}
	if cfg.Energy.Enabled && cfg.Energy.Cost <= 0 {
		return fmt.Errorf("energy.cost must be positive, got %d", cfg.Energy.Cost)
	}
	if cfg.Moderation.WarnLimit < 1 || cfg.Moderation.WarnLimit > 10 {
		return fmt.Errorf("moderation.warnLimit must be 1..10, got %d", cfg.Moderation.WarnLimit)
	}
	if cfg.Rental.TrialDays < 0 {
		return fmt.Errorf("rental.trialDays must not be negative, got %d", cfg.Rental.TrialDays)
	}
	if cfg.Store.DBPath == "" {
		return fmt.Errorf("store.dbPath is required")
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
