package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/snarg/yt-transcripts/internal/transcript"
	"github.com/snarg/yt-transcripts/internal/videoid"
)

// UpstreamClient fetches from another transcript service exposing
// GET /transcript/{id}, such as a second yt-transcripts instance running
// closer to YouTube. The upstream is always asked with force=1 because this
// process owns its own cache.
type UpstreamClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func NewUpstreamClient(baseURL string, timeout time.Duration, transport http.RoundTripper) (*UpstreamClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q", baseURL)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &UpstreamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

func (c *UpstreamClient) Name() string { return "upstream" }

type upstreamBody struct {
	Transcript transcript.Transcript `json:"transcript"`
	Error      string                `json:"error"`
	Message    string                `json:"message"`
}

func (c *UpstreamClient) Fetch(ctx context.Context, id videoid.ID) (transcript.Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/transcript/"+url.PathEscape(id.String())+"?force=1", nil)
	if err != nil {
		return nil, classify(err, "create upstream request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(err, "upstream request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(err, "read upstream response")
	}

	var body upstreamBody
	decodeErr := json.Unmarshal(raw, &body)

	if resp.StatusCode == http.StatusOK {
		if decodeErr != nil {
			return nil, classify(fmt.Errorf("decode upstream response: %w", decodeErr), "malformed upstream response")
		}
		if body.Transcript == nil {
			return transcript.Transcript{}, nil
		}
		return body.Transcript, nil
	}

	msg := body.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var kind Kind
	switch resp.StatusCode {
	case http.StatusNotFound:
		kind = KindNotAvailable
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		kind = KindRateLimited
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		kind = KindUpstreamUnreachable
	default:
		kind = KindUnknown
	}
	return nil, &FetchError{Kind: kind, Message: fmt.Sprintf("upstream %d: %s", resp.StatusCode, msg)}
}
