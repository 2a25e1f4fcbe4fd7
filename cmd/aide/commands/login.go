package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/avaraes/aide/pkg/aide/connector"

	"github.com/charmbracelet/huh"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

const loginTimeout = 5 * time.Minute

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <whatsapp|telegram>",
		Short: "Link a platform account interactively",
		Long: `Runs the onboarding flow for one platform. WhatsApp renders a QR code to
scan from the phone; Telegram asks for the phone number, login code, and the
two-step password when the account has one.`,
		Args: cobra.ExactArgs(1),
		RunE: runLogin,
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	c, err := a.byPlatform(args[0])
	if err != nil {
		return err
	}

	if c.IsReady() || c.HasSession() {
		fmt.Println("A session is already stored. Run 'aide logout' first to relink.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()

	events, unsubscribe := a.bus.Subscribe(c.Platform()+".", 32)
	defer unsubscribe()

	if err := c.Initialize(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("login timed out")
		case evt := <-events:
			switch evt.Kind {
			case c.Platform() + ".challenge":
				challenge, _ := evt.Payload.(*connector.Challenge)
				if err := answerChallenge(a, c, challenge); err != nil {
					return err
				}
			case c.Platform() + ".ready":
				if account, ok := evt.Payload.(connector.Account); ok {
					fmt.Printf("Linked %s as %s\n", c.Platform(), account.DisplayName)
				} else {
					fmt.Printf("Linked %s\n", c.Platform())
				}
				// Give the platform a moment to persist before teardown.
				time.Sleep(500 * time.Millisecond)
				return c.Destroy(context.Background())
			case c.Platform() + ".auth_failure":
				return fmt.Errorf("authentication failed: %v", evt.Payload)
			}
		}
	}
}

// answerChallenge renders a QR challenge or prompts for typed input and
// submits it.
func answerChallenge(a *app, c connector.Connector, challenge *connector.Challenge) error {
	if challenge == nil {
		return nil
	}

	switch challenge.Kind {
	case "qr":
		qr, err := qrcode.New(challenge.Payload, qrcode.Medium)
		if err != nil {
			return fmt.Errorf("rendering QR code: %w", err)
		}
		fmt.Fprintln(os.Stderr, challenge.Message)
		fmt.Fprint(os.Stderr, qr.ToSmallString(false))
		return nil

	case "phone", "code", "password":
		submitter, ok := c.(connector.ChallengeConnector)
		if !ok {
			return fmt.Errorf("connector does not accept typed challenges")
		}
		value, err := promptChallenge(challenge)
		if err != nil {
			return err
		}
		switch challenge.Kind {
		case "phone":
			return submitter.SubmitPhoneNumber(value)
		case "code":
			return submitter.SubmitCode(value)
		default:
			return submitter.SubmitPassword(value)
		}

	default:
		a.logger.Warn("unknown challenge kind", "kind", challenge.Kind)
		return nil
	}
}

// promptChallenge collects one typed challenge value from the terminal.
func promptChallenge(challenge *connector.Challenge) (string, error) {
	var value string
	input := huh.NewInput().
		Title(challenge.Message).
		Value(&value)
	if challenge.Kind == "password" {
		input = input.EchoMode(huh.EchoModePassword)
	}
	if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return value, nil
}
