package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avaraes/aide/pkg/aide/connector"
	"github.com/avaraes/aide/pkg/aide/syncer"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the connectors as a long-lived service",
		Long: `Starts every enabled connector, reconnecting stored sessions, ingests
messages, and auto-replies where configured. Pending authentication
challenges are printed to the terminal (QR codes rendered inline).`,
		RunE: runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conns := a.connectors()
	if len(conns) == 0 {
		return fmt.Errorf("no connectors enabled in config")
	}

	// Render challenges and connection events as they arrive.
	events, unsubscribe := a.bus.Subscribe("", 64)
	defer unsubscribe()
	go func() {
		for evt := range events {
			switch payload := evt.Payload.(type) {
			case *connector.Challenge:
				printChallenge(evt.Kind, payload)
			case connector.Account:
				a.logger.Info("connector ready", "kind", evt.Kind, "account", payload.DisplayName)
			}
		}
	}()

	for _, c := range conns {
		if err := c.Initialize(ctx); err != nil {
			a.logger.Error("connector failed to start", "platform", c.Platform(), "error", err)
		}
	}

	sync := syncer.New(conns, a.cfg.Sync.Schedule, a.cfg.Sync.ChatLimit, a.logger)
	if a.cfg.Sync.Enabled {
		if err := sync.Start(ctx); err != nil {
			return fmt.Errorf("starting syncer: %w", err)
		}
	}

	a.logger.Info("aide running", "connectors", len(conns))
	<-ctx.Done()
	a.logger.Info("shutting down")

	sync.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, c := range conns {
		if err := c.Destroy(shutdownCtx); err != nil {
			a.logger.Warn("connector teardown failed", "platform", c.Platform(), "error", err)
		}
	}
	return nil
}

// printChallenge renders a pending challenge for the terminal. QR payloads
// become scannable ASCII blocks; typed challenges print their prompt.
func printChallenge(kind string, c *connector.Challenge) {
	if c == nil {
		return
	}
	fmt.Fprintln(os.Stderr)
	switch c.Kind {
	case "qr":
		qr, err := qrcode.New(c.Payload, qrcode.Medium)
		if err != nil {
			fmt.Fprintf(os.Stderr, "QR payload (render failed): %s\n", c.Payload)
			return
		}
		fmt.Fprintln(os.Stderr, c.Message)
		fmt.Fprint(os.Stderr, qr.ToSmallString(false))
	default:
		fmt.Fprintf(os.Stderr, "[%s] %s\n", kind, c.Message)
		fmt.Fprintln(os.Stderr, "Stop the service and run 'aide login telegram' to authenticate interactively.")
	}
}
