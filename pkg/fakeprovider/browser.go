package fakeprovider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Browser plays the user: it loads the authorization URL, follows the
// redirect to the loopback callback and records the page it lands on.
// It satisfies the login presenter interface.
type Browser struct {
	Client *http.Client

	mu        sync.Mutex
	presented []string
	done      chan result
}

type result struct {
	status int
	body   string
	err    error
}

func NewBrowser() *Browser {
	return &Browser{Client: &http.Client{}, done: make(chan result, 16)}
}

// Present starts the navigation in the background and returns immediately,
// like a real browser launch.
func (b *Browser) Present(ctx context.Context, authURL string) error {
	b.mu.Lock()
	b.presented = append(b.presented, authURL)
	b.mu.Unlock()
	go func() {
		req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, authURL, nil)
		if err != nil {
			b.done <- result{err: err}
			return
		}
		resp, err := b.Client.Do(req)
		if err != nil {
			b.done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		b.done <- result{status: resp.StatusCode, body: string(body), err: err}
	}()
	return nil
}

// Wait blocks until the most recent navigation completes and returns the
// final page status and body.
func (b *Browser) Wait(ctx context.Context) (int, string, error) {
	select {
	case r := <-b.done:
		return r.status, r.body, r.err
	case <-ctx.Done():
		return 0, "", fmt.Errorf("browser did not finish: %w", ctx.Err())
	}
}

// Presented returns every URL the browser was asked to open.
func (b *Browser) Presented() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.presented...)
}
