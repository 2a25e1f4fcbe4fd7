package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newChatsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "chats <whatsapp|telegram>",
		Short: "List chats ordered by most recent activity",
		Args:  cobra.ExactArgs(1),
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

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			if err := c.Initialize(ctx); err != nil {
				return err
			}
			defer c.Destroy(context.Background())
			if !waitForReady(ctx, c, 60*time.Second) {
				return fmt.Errorf("connector did not become ready: %s", c.LastError())
			}

			chats, err := c.GetChats(ctx, limit)
			if err != nil {
				return err
			}

			for _, chat := range chats {
				marker := " "
				if chat.UnreadCount > 0 {
					marker = fmt.Sprintf("%d", chat.UnreadCount)
				}
				kind := "dm"
				if chat.IsGroup {
					kind = "group"
				}
				name := chat.Name
				if name == "" {
					name = chat.ID
				}
				preview := chat.LastMessageBody
				if len(preview) > 60 {
					preview = preview[:57] + "..."
				}
				fmt.Printf("%3s  %-6s %-30s %s\n", marker, kind, name, preview)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 30, "maximum chats to list")
	return cmd
}
