package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/yt-transcripts/internal/transcript"
	"github.com/snarg/yt-transcripts/internal/videoid"
)

const (
	youtubeBaseURL = "https://www.youtube.com"

	// Innertube client identity for the player endpoint. The ANDROID client
	// returns caption tracks without a signed-in session.
	innertubeClientName    = "ANDROID"
	innertubeClientVersion = "20.10.38"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxBodyBytes = 8 << 20
)

var (
	apiKeyRe = regexp.MustCompile(`"INNERTUBE_API_KEY":\s*"([a-zA-Z0-9_-]+)"`)
	tagRe    = regexp.MustCompile(`<[^>]*>`)
)

// YouTubeOptions configures a YouTubeClient.
type YouTubeOptions struct {
	BaseURL   string   // defaults to https://www.youtube.com
	Languages []string // preference order, e.g. ["en", "de"]
	Timeout   time.Duration
	Transport http.RoundTripper
	Log       zerolog.Logger
}

// YouTubeClient fetches caption tracks through YouTube's Innertube API.
// Implements the Fetcher interface.
type YouTubeClient struct {
	baseURL   string
	languages []string
	timeout   time.Duration
	client    *http.Client
	log       zerolog.Logger
}

// NewYouTubeClient creates a new Innertube caption client.
func NewYouTubeClient(opts YouTubeOptions) *YouTubeClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = youtubeBaseURL
	}
	langs := opts.Languages
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &YouTubeClient{
		baseURL:   base,
		languages: langs,
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout, Transport: transport},
		log:       opts.Log.With().Str("component", "youtube-fetcher").Logger(),
	}
}

// Name returns the provider name.
func (c *YouTubeClient) Name() string { return "youtube" }

// playerResponse is the subset of the Innertube player response we use.
type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	Captions *struct {
		Renderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" for auto-generated
}

// timedText is the caption track XML document.
type timedText struct {
	Texts []struct {
		Start string `xml:"start,attr"`
		Dur   string `xml:"dur,attr"`
		Body  string `xml:",chardata"`
	} `xml:"text"`
}

// Fetch runs the three-step caption lookup: watch page for the API key,
// player endpoint for the track list, then the track itself.
func (c *YouTubeClient) Fetch(ctx context.Context, id videoid.ID) (transcript.Transcript, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	apiKey, err := c.apiKey(ctx, id)
	if err != nil {
		return nil, err
	}
	player, err := c.player(ctx, id, apiKey)
	if err != nil {
		return nil, err
	}
	track, err := c.pickTrack(id, player)
	if err != nil {
		return nil, err
	}
	segs, err := c.track(ctx, track)
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("video_id", id.String()).
		Str("language", track.LanguageCode).
		Bool("generated", track.Kind == "asr").
		Int("segments", len(segs)).
		Dur("elapsed", time.Since(start)).
		Msg("transcript fetched")
	return segs, nil
}

func (c *YouTubeClient) apiKey(ctx context.Context, id videoid.ID) (string, error) {
	body, err := c.get(ctx, c.baseURL+"/watch?v="+url.QueryEscape(id.String()), "watch page")
	if err != nil {
		return "", err
	}
	if bytes.Contains(body, []byte(`class="g-recaptcha"`)) {
		return "", rateLimited("YouTube is asking for a captcha (IP blocked)")
	}
	m := apiKeyRe.FindSubmatch(body)
	if m == nil {
		return "", unknown("could not find INNERTUBE_API_KEY on watch page")
	}
	return string(m[1]), nil
}

func (c *YouTubeClient) player(ctx context.Context, id videoid.ID, apiKey string) (*playerResponse, error) {
	payload, err := json.Marshal(map[string]any{
		"context": map[string]any{
			"client": map[string]string{
				"clientName":    innertubeClientName,
				"clientVersion": innertubeClientVersion,
			},
		},
		"videoId": id.String(),
	})
	if err != nil {
		return nil, classify(err, "encode player request")
	}

	endpoint := c.baseURL + "/youtubei/v1/player?key=" + url.QueryEscape(apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, classify(err, "create player request")
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := c.do(req, "player")
	if err != nil {
		return nil, err
	}

	var pr playerResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, classify(fmt.Errorf("decode player response: %w", err), "malformed player response")
	}
	return &pr, nil
}

// pickTrack applies the language preference. For each language a manual
// track wins over an auto-generated one.
func (c *YouTubeClient) pickTrack(id videoid.ID, pr *playerResponse) (*captionTrack, error) {
	if st := pr.PlayabilityStatus.Status; st != "" && st != "OK" {
		reason := pr.PlayabilityStatus.Reason
		if st == "LOGIN_REQUIRED" && strings.Contains(strings.ToLower(reason), "bot") {
			return nil, rateLimited("YouTube requires sign-in to confirm this is not a bot")
		}
		if reason == "" {
			reason = strings.ToLower(st)
		}
		return nil, notAvailable("video %s is unplayable: %s", id, reason)
	}
	if pr.Captions == nil || len(pr.Captions.Renderer.CaptionTracks) == 0 {
		return nil, notAvailable("transcripts are disabled for video %s", id)
	}

	tracks := pr.Captions.Renderer.CaptionTracks
	for _, lang := range c.languages {
		var generated *captionTrack
		for i := range tracks {
			t := &tracks[i]
			if t.LanguageCode != lang {
				continue
			}
			if t.Kind != "asr" {
				return t, nil
			}
			if generated == nil {
				generated = t
			}
		}
		if generated != nil {
			return generated, nil
		}
	}

	available := make([]string, 0, len(tracks))
	for _, t := range tracks {
		available = append(available, t.LanguageCode)
	}
	return nil, notAvailable("no transcript found for video %s in languages [%s] (available: %s)",
		id, strings.Join(c.languages, ", "), strings.Join(available, ", "))
}

func (c *YouTubeClient) track(ctx context.Context, t *captionTrack) (transcript.Transcript, error) {
	raw := strings.Replace(t.BaseURL, "&fmt=srv3", "", 1)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, unknown("invalid caption track url")
	}
	if !u.IsAbs() {
		base, _ := url.Parse(c.baseURL)
		u = base.ResolveReference(u)
	}

	body, err := c.get(ctx, u.String(), "caption track")
	if err != nil {
		return nil, err
	}
	return parseTimedText(body)
}

func parseTimedText(body []byte) (transcript.Transcript, error) {
	var doc timedText
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, classify(fmt.Errorf("decode caption xml: %w", err), "malformed caption track")
	}

	segs := make(transcript.Transcript, 0, len(doc.Texts))
	for _, el := range doc.Texts {
		text := tagRe.ReplaceAllString(html.UnescapeString(el.Body), "")
		if text == "" {
			continue
		}
		start, err := strconv.ParseFloat(el.Start, 64)
		if err != nil {
			return nil, unknown("caption track has invalid start %q", el.Start)
		}
		dur := 0.0
		if el.Dur != "" {
			if dur, err = strconv.ParseFloat(el.Dur, 64); err != nil {
				return nil, unknown("caption track has invalid dur %q", el.Dur)
			}
		}
		if start < 0 || dur < 0 {
			return nil, unknown("caption track has negative timing")
		}
		segs = append(segs, transcript.Segment{Text: text, Start: start, Duration: dur})
	}
	return segs, nil
}

func (c *YouTubeClient) get(ctx context.Context, target, what string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, classify(err, "create "+what+" request")
	}
	return c.do(req, what)
}

// do sends req with the browser identity and maps HTTP status onto kinds.
func (c *YouTubeClient) do(req *http.Request, what string) ([]byte, error) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("%s request failed", what))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("read %s", what))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, rateLimited("YouTube returned 429 for %s", what)
	case resp.StatusCode >= 500:
		return nil, &FetchError{Kind: KindUpstreamUnreachable, Message: fmt.Sprintf("YouTube returned %d for %s", resp.StatusCode, what)}
	}
	return nil, unknown("YouTube returned %d for %s", resp.StatusCode, what)
}
