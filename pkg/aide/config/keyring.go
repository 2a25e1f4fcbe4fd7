// Secret storage via the operating system's native keyring (Linux: Secret
// Service, macOS: Keychain, Windows: Credential Manager).
//
// Resolution priority for secrets: OS keyring, then environment/.env, then
// the plaintext config value.
package config

import (
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "aide"

	// KeyringLLMKey is the keyring entry name for the LLM API key.
	KeyringLLMKey = "llm_api_key"

	// KeyringTTSKey is the keyring entry name for the speech API key.
	KeyringTTSKey = "tts_api_key"
)

// StoreKeyring saves a secret in the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring, empty when absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable probes the OS keyring with a write+delete cycle.
func KeyringAvailable() bool {
	const testKey = "__aide_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecrets overlays keyring-held secrets onto the config. Keyring
// values win over whatever Load resolved from env or file.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if val := GetKeyring(KeyringLLMKey); val != "" {
		cfg.LLM.APIKey = val
		logger.Debug("LLM API key loaded from OS keyring")
	}
	if val := GetKeyring(KeyringTTSKey); val != "" {
		cfg.TTS.APIKey = val
		logger.Debug("TTS API key loaded from OS keyring")
	}
	if cfg.LLM.APIKey == "" {
		logger.Warn("no LLM API key configured, auto-reply generation will fail",
			"hint", "set AIDE_LLM_API_KEY or run: aide config set-key")
	}
}
