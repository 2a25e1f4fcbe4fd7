package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/avaraes/aide/pkg/aide/connector"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// challengeAuth implements gotd's auth.UserAuthenticator with one-shot
// channels per challenge. The gotd auth flow blocks inside Phone/Code/
// Password until the matching Submit call delivers the input, so there is no
// polling anywhere in the chain.
type challengeAuth struct {
	t   *Telegram
	gen int64

	phoneCh    chan string
	codeCh     chan string
	passwordCh chan string
}

var _ auth.UserAuthenticator = (*challengeAuth)(nil)

func newChallengeAuth(t *Telegram, gen int64) *challengeAuth {
	return &challengeAuth{
		t:          t,
		gen:        gen,
		phoneCh:    make(chan string, 1),
		codeCh:     make(chan string, 1),
		passwordCh: make(chan string, 1),
	}
}

// Phone blocks until SubmitPhoneNumber delivers the number.
func (a *challengeAuth) Phone(ctx context.Context) (string, error) {
	a.raise(connector.StateWaitingPhone, &connector.Challenge{
		Kind:    "phone",
		Message: "Enter the phone number of the Telegram account (with country code)",
	})
	select {
	case phone := <-a.phoneCh:
		a.resolve()
		return phone, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Code blocks until SubmitCode delivers the login code.
func (a *challengeAuth) Code(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
	msg := "Enter the login code Telegram sent you"
	if sentCode != nil {
		if _, viaApp := sentCode.Type.(*tg.AuthSentCodeTypeApp); viaApp {
			msg = "Enter the login code from your other Telegram session"
		}
	}
	a.raise(connector.StateWaitingCode, &connector.Challenge{Kind: "code", Message: msg})
	select {
	case code := <-a.codeCh:
		a.resolve()
		return code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Password blocks until SubmitPassword delivers the 2FA password. Only
// reached for accounts with two-step verification enabled.
func (a *challengeAuth) Password(ctx context.Context) (string, error) {
	a.raise(connector.StateWaitingPassword, &connector.Challenge{
		Kind:    "password",
		Message: "Enter the two-step verification password",
	})
	select {
	case pw := <-a.passwordCh:
		a.resolve()
		return pw, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// AcceptTermsOfService rejects sign-up: this connector links existing
// accounts only.
func (a *challengeAuth) AcceptTermsOfService(ctx context.Context, tos tg.HelpTermsOfService) error {
	return &auth.SignUpRequired{TermsOfService: tos}
}

// SignUp is never supported.
func (a *challengeAuth) SignUp(ctx context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("creating new accounts is not supported")
}

// raise publishes a pending challenge and moves the state machine, unless a
// newer client run has superseded this one.
func (a *challengeAuth) raise(state connector.AuthState, c *connector.Challenge) {
	if a.t.gen.Load() != a.gen {
		return
	}
	a.t.setChallenge(c)
	a.t.setState(state)
	a.t.publish("challenge", c)
}

// resolve clears the pending challenge after input arrived.
func (a *challengeAuth) resolve() {
	if a.t.gen.Load() != a.gen {
		return
	}
	a.t.setChallenge(nil)
	a.t.setState(connector.StateConnecting)
}

// currentAuthFlow returns the auth flow of the active run.
func (t *Telegram) currentAuthFlow() *challengeAuth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.authFlow
}

// SubmitPhoneNumber resolves a pending phone challenge.
func (t *Telegram) SubmitPhoneNumber(phone string) error {
	return t.submit(connector.StateWaitingPhone, phone, func(a *challengeAuth) chan string {
		return a.phoneCh
	})
}

// SubmitCode resolves a pending login-code challenge.
func (t *Telegram) SubmitCode(code string) error {
	return t.submit(connector.StateWaitingCode, code, func(a *challengeAuth) chan string {
		return a.codeCh
	})
}

// SubmitPassword resolves a pending 2FA password challenge.
func (t *Telegram) SubmitPassword(password string) error {
	return t.submit(connector.StateWaitingPassword, password, func(a *challengeAuth) chan string {
		return a.passwordCh
	})
}

// submit validates that the matching challenge is pending and delivers the
// value on its one-shot channel.
func (t *Telegram) submit(want connector.AuthState, value string, ch func(*challengeAuth) chan string) error {
	if value == "" {
		return fmt.Errorf("empty input")
	}
	flow := t.currentAuthFlow()
	if flow == nil || t.AuthState() != want {
		return connector.ErrNoChallenge
	}
	select {
	case ch(flow) <- value:
		return nil
	default:
		// Channel already holds an undelivered value; the previous submit
		// is still being consumed.
		return fmt.Errorf("input already submitted")
	}
}
