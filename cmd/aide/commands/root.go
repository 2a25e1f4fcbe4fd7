// Package commands implements the aide CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aide",
		Short: "Aide - personal chat platform connector",
		Long: `Aide connects personal WhatsApp and Telegram accounts, stores their
conversations locally, and can answer inbound messages automatically with an
LLM-generated reply.

Examples:
  aide login whatsapp
  aide serve
  aide chats telegram --limit 20
  aide send whatsapp 5511999999999@s.whatsapp.net "on my way"`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newStatusCmd(),
		newChatsCmd(),
		newSendCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
