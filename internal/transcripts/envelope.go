package transcripts

import (
	"errors"

	"github.com/snarg/yt-transcripts/internal/fetcher"
	"github.com/snarg/yt-transcripts/internal/transcript"
)

// Kind is the stable machine-readable failure tag returned to clients.
type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request"
	KindNotAvailable        Kind = "not_available"
	KindUpstreamUnreachable Kind = "upstream_unreachable"
	KindRateLimited         Kind = "rate_limited"
	KindCacheError          Kind = "cache_error" // reserved: cache failures degrade instead of failing the request
	KindUnknown             Kind = "unknown"
)

const (
	msgInvalidRequest      = "Video ID must be exactly 11 characters from [A-Za-z0-9_-]"
	msgNotAvailable        = "Transcript not available"
	msgUpstreamUnreachable = "Could not reach the transcript source"
	msgRateLimited         = "Transcript source is rate limiting requests"

	msgCached  = "Transcript served from cache"
	msgFetched = "Transcript fetched from source"
)

// Envelope is the result of one Handle call. Exactly one of Success and
// Failure is set.
type Envelope struct {
	Success *Success
	Failure *Failure
}

// OK reports whether the envelope carries a transcript.
func (e Envelope) OK() bool { return e.Success != nil }

type Success struct {
	VideoID     string                `json:"video_id"`
	Transcript  transcript.Transcript `json:"transcript"`
	Cached      bool                  `json:"cached"`
	Message     string                `json:"message"`
	RetrievalMS float64               `json:"retrieval_duration_ms"`
}

// Failure is serialized as {"error": kind, "message": ...}; clients key on
// the "error" field.
type Failure struct {
	Kind    Kind   `json:"error"`
	Message string `json:"message"`
}

func failure(kind Kind, msg string) Envelope {
	return Envelope{Failure: &Failure{Kind: kind, Message: msg}}
}

// kindFor maps a fetcher failure onto the client-facing taxonomy.
func kindFor(k fetcher.Kind) Kind {
	switch k {
	case fetcher.KindNotAvailable:
		return KindNotAvailable
	case fetcher.KindUpstreamUnreachable:
		return KindUpstreamUnreachable
	case fetcher.KindRateLimited:
		return KindRateLimited
	}
	return KindUnknown
}

// fetchFailure builds the envelope for a failed fetch. Known kinds get a
// fixed prefix followed by the fetcher's detail; unknown errors are passed
// through verbatim.
func fetchFailure(err error) Envelope {
	kind := kindFor(fetcher.KindOf(err))
	detail := err.Error()
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		detail = fe.Message
		if fe.Err != nil {
			if detail != "" {
				detail += ": "
			}
			detail += fe.Err.Error()
		}
	}

	var prefix string
	switch kind {
	case KindNotAvailable:
		prefix = msgNotAvailable
	case KindUpstreamUnreachable:
		prefix = msgUpstreamUnreachable
	case KindRateLimited:
		prefix = msgRateLimited
	default:
		if detail == "" {
			detail = "unknown error"
		}
		return failure(kind, detail)
	}
	if detail == "" {
		return failure(kind, prefix)
	}
	return failure(kind, prefix+": "+detail)
}
