package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLogoutCmd() *cobra.Command {
	var keepSession bool
	cmd := &cobra.Command{
		Use:   "logout <whatsapp|telegram>",
		Short: "Unlink a platform account",
		Long: `Disconnects the platform and deletes the stored credential, so the next
login starts the onboarding flow from scratch. With --keep-session the
credential survives and a later start reconnects without re-auth.`,
		Args: cobra.ExactArgs(1),
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

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if keepSession {
				if err := c.Destroy(ctx); err != nil {
					return err
				}
				fmt.Printf("%s disconnected, session kept\n", c.Platform())
				return nil
			}

			if !c.HasSession() {
				fmt.Printf("%s has no stored session\n", c.Platform())
				return nil
			}

			// Connect first so the platform can be told to revoke the
			// device; a failed connect still falls through to local
			// credential removal inside Logout.
			if err := c.Initialize(ctx); err == nil {
				waitForReady(ctx, c, 15*time.Second)
			}
			if err := c.Logout(ctx); err != nil {
				return err
			}
			fmt.Printf("%s unlinked\n", c.Platform())
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepSession, "keep-session", false, "disconnect but keep the stored credential")
	return cmd
}
