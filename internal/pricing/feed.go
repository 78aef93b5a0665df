package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultFeedTimeout = 10 * time.Second
	maxFeedBodyBytes   = 8 << 20
	maxErrorBodyBytes  = 512
)

// FeedClient fetches the model price list from an external endpoint.
type FeedClient struct {
	url    string
	client *http.Client
}

// NewFeedClient constructs a FeedClient. An empty url yields a client whose Fetch is a silent no-op.
func NewFeedClient(url string, timeout time.Duration) *FeedClient {
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	return &FeedClient{url: strings.TrimSpace(url), client: &http.Client{Timeout: timeout}}
}

// Configured reports whether a feed endpoint is set.
func (f *FeedClient) Configured() bool {
	return f != nil && f.url != ""
}

// Fetch downloads and decodes the price list. The body may be a bare array of entries or an object with a "data" array.
// It returns (nil, nil) when no endpoint is configured.
func (f *FeedClient) Fetch(ctx context.Context) ([]Entry, error) {
	if !f.Configured() {
		return nil, nil
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if errReq != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFeedUnavailable, errReq)
	}
	req.Header.Set("Accept", "application/json")

	resp, errDo := f.client.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, errDo)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, errRead := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodyBytes))
	if errRead != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFeedUnavailable, errRead)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrFeedUnavailable, resp.StatusCode, summarizePayload(payload))
	}
	return decodeFeed(payload)
}

func decodeFeed(payload []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrFeedUnavailable)
	}
	if trimmed[0] == '[' {
		var entries []Entry
		if errUnmarshal := json.Unmarshal(trimmed, &entries); errUnmarshal != nil {
			return nil, fmt.Errorf("%w: decode: %v", ErrFeedUnavailable, errUnmarshal)
		}
		return entries, nil
	}
	var wrapper struct {
		Data []Entry `json:"data"`
	}
	if errUnmarshal := json.Unmarshal(trimmed, &wrapper); errUnmarshal != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrFeedUnavailable, errUnmarshal)
	}
	return wrapper.Data, nil
}

func summarizePayload(payload []byte) string {
	if len(payload) > maxErrorBodyBytes {
		payload = payload[:maxErrorBodyBytes]
	}
	return strings.TrimSpace(string(payload))
}
