package commands

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/avaraes/aide/pkg/aide/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and secrets",
	}
	cmd.AddCommand(newConfigSetKeyCmd(), newConfigInitCmd())
	return cmd
}

func newConfigSetKeyCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store an API key in the OS keyring",
		Long: `Reads an API key from the terminal (not echoed) and stores it in the OS
keyring, so it never lives in plaintext config. --target selects which key:
llm (default) or tts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keyName := config.KeyringLLMKey
			switch target {
			case "", "llm":
			case "tts":
				keyName = config.KeyringTTSKey
			default:
				return fmt.Errorf("unknown target %q (use llm or tts)", target)
			}

			if !config.KeyringAvailable() {
				return fmt.Errorf("OS keyring is not available in this environment")
			}

			fmt.Fprint(os.Stderr, "API key: ")
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("reading key: %w", err)
			}
			key := strings.TrimSpace(string(raw))
			if key == "" {
				return fmt.Errorf("empty key")
			}

			if err := config.StoreKeyring(keyName, key); err != nil {
				return fmt.Errorf("storing key: %w", err)
			}
			fmt.Printf("%s key stored in OS keyring\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "llm", "which key to store: llm or tts")
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			cfg := config.Default()
			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "aide.yaml", "where to write the config file")
	return cmd
}
