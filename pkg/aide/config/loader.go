package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} or $VAR_NAME in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// Load reads and parses a YAML configuration file. .env files are loaded
// first and ${VAR} references in the YAML are expanded before parsing.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse([]byte(expandEnvVars(string(data))))
	if err != nil {
		return nil, err
	}

	resolveSecretsFromEnv(cfg)
	return cfg, nil
}

// Parse parses YAML bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes the config as YAML with owner-only permissions.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches standard locations for a config file.
func FindConfigFile() string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		"aide.yaml",
		"aide.yml",
		"config.yaml",
	}
	if home != "" {
		candidates = append(candidates,
			home+"/.aide/config.yaml",
			home+"/.config/aide/config.yaml",
		)
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadEnvFiles loads .env files. godotenv never overwrites variables that
// are already set.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} and $VAR references with environment
// values. Unset references stay as-is so placeholders remain visible.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// resolveSecretsFromEnv fills empty or placeholder secret values from
// well-known environment variables.
func resolveSecretsFromEnv(cfg *Config) {
	if cfg.LLM.APIKey == "" || isEnvReference(cfg.LLM.APIKey) {
		for _, name := range []string{"AIDE_LLM_API_KEY", "OPENAI_API_KEY"} {
			if key := os.Getenv(name); key != "" {
				cfg.LLM.APIKey = key
				break
			}
		}
	}
	if cfg.TTS.APIKey == "" || isEnvReference(cfg.TTS.APIKey) {
		for _, name := range []string{"AIDE_TTS_API_KEY", "OPENAI_API_KEY"} {
			if key := os.Getenv(name); key != "" {
				cfg.TTS.APIKey = key
				break
			}
		}
	}
	if cfg.Telegram.APIHash == "" || isEnvReference(cfg.Telegram.APIHash) {
		if hash := os.Getenv("AIDE_TELEGRAM_API_HASH"); hash != "" {
			cfg.Telegram.APIHash = hash
		}
	}
}

func isEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}
