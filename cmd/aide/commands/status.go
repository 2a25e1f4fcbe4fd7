package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connector session and auth state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			conns := a.connectors()
			if len(conns) == 0 {
				fmt.Println("No connectors enabled.")
				return nil
			}

			for _, c := range conns {
				session := "no session"
				if c.HasSession() {
					session = "session stored"
				}
				fmt.Printf("%-10s %-14s %s", c.Platform(), c.AuthState(), session)
				if lastErr := c.LastError(); lastErr != "" {
					fmt.Printf("  (last error: %s)", lastErr)
				}
				fmt.Println()
			}
			return nil
		},
	}
}
