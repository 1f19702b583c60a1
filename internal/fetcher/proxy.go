package fetcher

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/snarg/yt-transcripts/internal/config"
)

// Webshare rotating residential endpoint. The "-rotate" username suffix asks
// for a fresh exit IP per connection.
const (
	webshareHost   = "p.webshare.io:80"
	webshareSuffix = "-rotate"
)

// ProxyURL resolves the outbound proxy. An explicit URL wins over Webshare
// credentials; (nil, nil) means a direct connection.
func ProxyURL(cfg config.ProxyConfig) (*url.URL, error) {
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("proxy url %q has no host", u.Redacted())
		}
		return u, nil
	}
	if cfg.WebshareUsername != "" && cfg.WebsharePassword != "" {
		return &url.URL{
			Scheme: "http",
			User:   url.UserPassword(cfg.WebshareUsername+webshareSuffix, cfg.WebsharePassword),
			Host:   webshareHost,
		}, nil
	}
	return nil, nil
}

// NewTransport returns an HTTP transport routed through the configured proxy.
func NewTransport(cfg config.ProxyConfig) (*http.Transport, error) {
	u, err := ProxyURL(cfg)
	if err != nil {
		return nil, err
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	if u != nil {
		t.Proxy = http.ProxyURL(u)
		// Webshare rotates the exit IP per connection, not per request.
		t.DisableKeepAlives = cfg.URL == ""
	}
	return t, nil
}
