package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Segment is one timed line of a transcript. Start and Duration are seconds.
type Segment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Transcript is an ordered sequence of segments, ascending by Start.
type Transcript []Segment

// Entry is a transcript as persisted by a cache backend.
type Entry struct {
	VideoID    string     `json:"video_id"`
	Transcript Transcript `json:"transcript"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

// Equal reports whether two transcripts have the same segments in the same order.
func (t Transcript) Equal(other Transcript) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}

// Duration returns the end time of the last segment.
func (t Transcript) Duration() float64 {
	if len(t) == 0 {
		return 0
	}
	last := t[len(t)-1]
	return last.Start + last.Duration
}

var speakerMarker = regexp.MustCompile(`^\s*>>\s*`)

// Flatten joins segment text into newline-separated plain text. A leading
// ">>" speaker-change marker is stripped and blank segments are skipped.
func (t Transcript) Flatten() string {
	lines := make([]string, 0, len(t))
	for _, seg := range t {
		if speakerMarker.MatchString(seg.Text) {
			lines = append(lines, speakerMarker.ReplaceAllString(seg.Text, ""))
			continue
		}
		if strings.TrimSpace(seg.Text) != "" {
			lines = append(lines, seg.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// EncodeEntry serializes an entry as indented JSON, the on-disk document format.
func EncodeEntry(e *Entry) ([]byte, error) {
	if e.Transcript == nil {
		e.Transcript = Transcript{}
	}
	return json.MarshalIndent(e, "", "  ")
}

// ErrMalformed is returned by DecodeEntry for a document that is not a transcript.
var ErrMalformed = errors.New("malformed transcript document")

// DecodeEntry parses a persisted document. Besides the Entry object it accepts a
// bare segment array and the {"transcript_data": [...]} wrapper written by older
// versions of the service; for those, VideoID and FetchedAt are left for the
// caller to fill in.
func DecodeEntry(data []byte) (*Entry, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, ErrMalformed
	}

	if trimmed[0] == '[' {
		var segs Transcript
		if err := json.Unmarshal(data, &segs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &Entry{Transcript: segs}, nil
	}

	var doc struct {
		Entry
		TranscriptData *Transcript `json:"transcript_data"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	entry := doc.Entry
	if doc.TranscriptData != nil {
		entry.Transcript = *doc.TranscriptData
	}
	if entry.Transcript == nil {
		return nil, ErrMalformed
	}
	return &entry, nil
}
