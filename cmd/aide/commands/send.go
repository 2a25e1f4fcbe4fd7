package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <whatsapp|telegram> <chat-id> <text...>",
		Short: "Send a text message to a chat",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := a.byPlatform(args[0])
			if err != nil {
				return err
			}
			if !c.HasSession() {
				return fmt.Errorf("%s is not linked, run 'aide login %s' first", c.Platform(), c.Platform())
			}

			chatID := args[1]
			text := strings.Join(args[2:], " ")

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			if err := c.Initialize(ctx); err != nil {
				return err
			}
			defer c.Destroy(context.Background())
			if !waitForReady(ctx, c, 60*time.Second) {
				return fmt.Errorf("connector did not become ready: %s", c.LastError())
			}

			// Telegram resolves chats from its dialog cache; warm it so
			// the chat ID can be found.
			if _, err := c.GetChats(ctx, 50); err != nil {
				a.logger.Debug("chat list warm-up failed", "error", err)
			}

			msg, err := c.SendMessage(ctx, chatID, text)
			if err != nil {
				return err
			}
			fmt.Printf("sent %s\n", msg.ID)
			return nil
		},
	}
}
