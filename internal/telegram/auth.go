package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/skip2/go-qrcode"
	"golang.org/x/term"
)

// Terminal is the interactive side of login: where prompts are written
// and answers read.
type Terminal struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

func (t *Terminal) readLine(prompt string) (string, error) {
	if t.reader == nil {
		t.reader = bufio.NewReader(t.In)
	}
	fmt.Fprint(t.Out, prompt)
	line, err := t.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo when In is a terminal.
func (t *Terminal) readSecret(prompt string) (string, error) {
	if f, ok := t.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(t.Out, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(t.Out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return t.readLine(prompt)
}

// codeAuthenticator drives phone-code login.
type codeAuthenticator struct {
	phone string
	term  *Terminal
}

var _ auth.UserAuthenticator = codeAuthenticator{}

func (a codeAuthenticator) Phone(context.Context) (string, error) {
	if a.phone != "" {
		return a.phone, nil
	}
	return a.term.readLine("Phone number (international format): ")
}

func (a codeAuthenticator) Password(context.Context) (string, error) {
	return a.term.readSecret("Two-step verification password: ")
}

func (a codeAuthenticator) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return a.term.readLine("Login code: ")
}

func (a codeAuthenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	return &auth.SignUpRequired{TermsOfService: tos}
}

func (a codeAuthenticator) SignUp(context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("this phone number has no Telegram account; sign up with an official app first")
}

// loginWithCode authorizes the client with a phone code if needed.
func loginWithCode(ctx context.Context, client *telegram.Client, phone string, t *Terminal) error {
	flow := auth.NewFlow(codeAuthenticator{phone: phone, term: t}, auth.SendCodeOptions{})
	if err := client.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("telegram login: %w", err)
	}
	return nil
}

// loginWithQR authorizes the client by scanning a QR code from an
// already logged-in device.
func loginWithQR(ctx context.Context, client *telegram.Client, loggedIn qrlogin.LoggedIn, t *Terminal) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("telegram auth status: %w", err)
	}
	if status.Authorized {
		return nil
	}

	show := func(_ context.Context, token qrlogin.Token) error {
		qr, err := qrcode.New(token.URL(), qrcode.Medium)
		if err != nil {
			return fmt.Errorf("render login QR code: %w", err)
		}
		fmt.Fprintln(t.Out, "Scan this code in Telegram: Settings > Devices > Link Desktop Device")
		fmt.Fprintln(t.Out, qr.ToSmallString(false))
		fmt.Fprintf(t.Out, "Code expires at %s\n", token.Expires().Local().Format("15:04:05"))
		return nil
	}

	_, err = client.QR().Auth(ctx, loggedIn, show)
	if err == nil {
		return nil
	}
	if !tgerr.Is(err, "SESSION_PASSWORD_NEEDED") && !errors.Is(err, auth.ErrPasswordAuthNeeded) {
		return fmt.Errorf("telegram QR login: %w", err)
	}
	password, err := t.readSecret("Two-step verification password: ")
	if err != nil {
		return err
	}
	if _, err := client.Auth().Password(ctx, password); err != nil {
		return fmt.Errorf("telegram password login: %w", err)
	}
	return nil
}
