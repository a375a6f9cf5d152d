package datarequest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Fetcher downloads one data-request payload.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// HTTPFetcher downloads over HTTP with exponential backoff on transient failures.
type HTTPFetcher struct {
	Client   *http.Client
	Timeout  time.Duration
	MaxTries uint
}

func NewHTTPFetcher(timeout time.Duration, maxTries int) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxTries <= 0 {
		maxTries = 1
	}
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: timeout},
		Timeout:  timeout,
		MaxTries: uint(maxTries),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
		case resp.StatusCode >= 300:
			return nil, backoff.Permanent(fmt.Errorf("GET %s: %s", url, resp.Status))
		}
		return io.ReadAll(resp.Body)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(f.MaxTries),
		backoff.WithMaxElapsedTime(f.Timeout),
	)
}
