package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
)

// BrowserPresenter prints the authorization URL and tries to open it in the
// default browser. Failing to launch a browser is not an error; the printed
// URL is enough to continue.
type BrowserPresenter struct {
	Out io.Writer
	// NoBrowser only prints the URL.
	NoBrowser bool
	open      func(string) error
}

func NewBrowserPresenter(out io.Writer, noBrowser bool) *BrowserPresenter {
	if out == nil {
		out = os.Stderr
	}
	return &BrowserPresenter{Out: out, NoBrowser: noBrowser, open: openBrowser}
}

func (p *BrowserPresenter) Present(_ context.Context, authURL string) error {
	if _, err := fmt.Fprintf(p.Out, "Open the following URL to sign in:\n\n  %s\n\n", authURL); err != nil {
		return err
	}
	if p.NoBrowser {
		return nil
	}
	open := p.open
	if open == nil {
		open = openBrowser
	}
	if err := open(authURL); err != nil {
		_, _ = fmt.Fprintf(p.Out, "Could not open a browser (%v), continue with the URL above.\n", err)
	}
	return nil
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if cmd == nil {
		return errors.New("no browser command available")
	}
	return cmd.Start()
}
