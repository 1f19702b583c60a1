package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/snarg/yt-transcripts/internal/config"
	"github.com/snarg/yt-transcripts/internal/transcript"
	"github.com/snarg/yt-transcripts/internal/videoid"
)

// Fetcher retrieves a transcript from an external source. Implementations do
// not retry; every call is bounded by the configured timeout.
type Fetcher interface {
	Fetch(ctx context.Context, id videoid.ID) (transcript.Transcript, error)
	Name() string // "youtube", "upstream"
}

// Kind classifies a fetch failure.
type Kind string

const (
	KindNotAvailable        Kind = "not_available"
	KindUpstreamUnreachable Kind = "upstream_unreachable"
	KindRateLimited         Kind = "rate_limited"
	KindUnknown             Kind = "unknown"
)

// FetchError is the only error type returned by Fetch implementations.
type FetchError struct {
	Kind    Kind
	Message string // human-readable detail, safe to show to clients
	Err     error
}

func (e *FetchError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf classifies any error. Deadlines, cancellations and network failures
// are upstream_unreachable; anything unrecognized is unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindUpstreamUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUpstreamUnreachable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindUpstreamUnreachable
	}
	return KindUnknown
}

// classify turns err into a *FetchError, keeping an existing one untouched.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Kind: KindOf(err), Message: msg, Err: err}
}

func notAvailable(format string, args ...any) *FetchError {
	return &FetchError{Kind: KindNotAvailable, Message: fmt.Sprintf(format, args...)}
}

func rateLimited(format string, args ...any) *FetchError {
	return &FetchError{Kind: KindRateLimited, Message: fmt.Sprintf(format, args...)}
}

func unknown(format string, args ...any) *FetchError {
	return &FetchError{Kind: KindUnknown, Message: fmt.Sprintf(format, args...)}
}

// New creates the Fetcher selected by cfg.Provider.
func New(cfg config.FetchConfig, proxy config.ProxyConfig, log zerolog.Logger) (Fetcher, error) {
	transport, err := NewTransport(proxy)
	if err != nil {
		return nil, err
	}
	if u, _ := ProxyURL(proxy); u != nil {
		log.Info().Str("proxy", u.Redacted()).Msg("fetcher using outbound proxy")
	}

	switch cfg.Provider {
	case "youtube":
		return NewYouTubeClient(YouTubeOptions{
			Languages: cfg.Languages,
			Timeout:   cfg.Timeout,
			Transport: transport,
			Log:       log,
		}), nil
	case "upstream":
		return NewUpstreamClient(cfg.UpstreamURL, cfg.Timeout, transport)
	}
	return nil, fmt.Errorf("unknown fetcher %q", cfg.Provider)
}
