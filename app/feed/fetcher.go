package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type FetchErrorKind string

const (
	FetchTimeout        FetchErrorKind = "timeout"
	FetchHTTPError      FetchErrorKind = "http-error"
	FetchNotFeedContent FetchErrorKind = "not-feed-content"
	FetchEmptyResponse  FetchErrorKind = "empty-response"
	FetchRequestFailed  FetchErrorKind = "request-failed"
)

// maxFeedSize caps how much of a response body is read
const maxFeedSize = 10 << 20

type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchHTTPError:
		return fmt.Sprintf("fetch %s: http-error(%d)", e.URL, e.StatusCode)
	case FetchNotFeedContent:
		return fmt.Sprintf("fetch %s: response is not feed content", e.URL)
	case FetchEmptyResponse:
		return fmt.Sprintf("fetch %s: empty response", e.URL)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
}

func NewFetcher(httpClient *http.Client, userAgent string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

// Fetch downloads a feed document and rejects bodies that are clearly not feed markup.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", url, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchRequestFailed, URL: url, Err: err}
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml;q=0.9, */*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classifyTransportError(err), URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: FetchHTTPError, URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, &FetchError{Kind: classifyTransportError(err), URL: url, Err: err}
	}

	if kind := inspectBody(data); kind != "" {
		return nil, &FetchError{Kind: kind, URL: url}
	}

	return data, nil
}

func classifyTransportError(err error) FetchErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return FetchTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FetchTimeout
	}
	return FetchRequestFailed
}

// inspectBody returns the failure kind for bodies that cannot be a feed, or "" when the body looks usable
func inspectBody(data []byte) FetchErrorKind {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return FetchEmptyResponse
	}

	prefix := bytes.ToLower(trimmed[:min(len(trimmed), 64)])
	if bytes.HasPrefix(prefix, []byte("<!doctype html")) || bytes.HasPrefix(prefix, []byte("<html")) {
		return FetchNotFeedContent
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return FetchNotFeedContent
	}

	return ""
}

// FetchPage downloads an HTML article page for content extraction.
func (f *Fetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", url, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchRequestFailed, URL: url, Err: err}
	}

	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classifyTransportError(err), URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: FetchHTTPError, URL: url, StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, fmt.Errorf("content type is not HTML: %s", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, &FetchError{Kind: classifyTransportError(err), URL: url, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &FetchError{Kind: FetchEmptyResponse, URL: url}
	}

	return data, nil
}
