package detector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"pii-redactor/internal/logger"
	"pii-redactor/internal/metrics"
	"pii-redactor/internal/pii"
)

var (
	// ErrRemoteDisabled is returned before any network activity when the
	// remote-access policy forbids outbound model calls.
	ErrRemoteDisabled = errors.New("remote model calls are disabled by policy")

	// ErrRemoteUnavailable wraps transport failures talking to the model.
	ErrRemoteUnavailable = errors.New("remote model unavailable")
)

// Completer sends one prompt to a language model and returns its raw reply.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// defaultRemoteConfidence applies when the model omits a confidence.
const defaultRemoteConfidence = 0.8

// defaultCallTimeout bounds a shared model call once it no longer belongs to
// any single caller.
const defaultCallTimeout = 2 * time.Minute

const detectionPrompt = `You are a PII detection engine. Given a text, find all personally identifiable information spans.
Return a JSON array of objects with these fields:
- "start": integer character offset (0-based)
- "end": integer character offset (exclusive)
- "type": PII category (e.g. PERSON, ORG, LOCATION, PHONE, EMAIL, ADDRESS, DATE_OF_BIRTH, etc.)
- "text": the exact substring from the input
- "confidence": float 0-1

Return ONLY the JSON array, no other text.`

// remoteItem is one element of the model's reply. Pointers distinguish
// "absent" from zero values.
type remoteItem struct {
	Start      *int     `json:"start"`
	End        *int     `json:"end"`
	Type       string   `json:"type"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// Remote is the remote-model detector. Concurrent calls for the same text
// share one round trip.
type Remote struct {
	client  Completer
	allowed bool
	log     *logger.Logger
	metrics *metrics.Metrics
	cache   *SpanCache // nil = no caching
	timeout time.Duration
	flight  singleflight.Group
}

// NewRemote builds a remote detector. allowed is the remote-access policy
// flag; when false Detect refuses to run. m may be nil.
func NewRemote(client Completer, allowed bool, log *logger.Logger, m *metrics.Metrics) *Remote {
	return &Remote{client: client, allowed: allowed, log: log, metrics: m, timeout: defaultCallTimeout}
}

// WithTimeout bounds each model call. Values <= 0 are ignored.
func (r *Remote) WithTimeout(d time.Duration) *Remote {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// WithCache makes r remember results per input text.
func (r *Remote) WithCache(c *SpanCache) *Remote {
	r.cache = c
	return r
}

// Allowed reports whether policy permits this detector to run.
func (r *Remote) Allowed() bool { return r.allowed && r.client != nil }

// Source implements Detector.
func (r *Remote) Source() string { return pii.SourceLLM }

// Detect implements Detector. It makes one blocking round trip bounded by
// ctx and the client's own timeout. A reply that cannot be parsed yields an
// empty result, not an error.
func (r *Remote) Detect(ctx context.Context, text string) ([]pii.Span, error) {
	if !r.allowed {
		return nil, ErrRemoteDisabled
	}
	if r.client == nil {
		return nil, fmt.Errorf("%w: no client configured", ErrRemoteUnavailable)
	}
	if strings.TrimSpace(text) == "" {
		return []pii.Span{}, nil
	}

	key := cacheKey(text)
	if r.cache != nil {
		if spans, ok := r.cache.Get(key); ok {
			r.metrics.RecordRemoteCall("cache_hit")
			r.metrics.RecordDetected(pii.SourceLLM, len(spans))
			return spans, nil
		}
	}

	// The shared call outlives any one caller: a cancelled request stops
	// waiting without failing the others joined on the same text.
	ch := r.flight.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		reply, err := r.client.Complete(callCtx, detectionPrompt, text)
		if err != nil {
			r.metrics.RecordRemoteCall("error")
			return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
		}
		r.metrics.RecordRemoteCall("ok")
		spans, wellFormed := r.parse(text, reply)
		if r.cache != nil && wellFormed {
			r.cache.Set(key, spans)
		}
		return spans, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		spans := cloneSpans(res.Val.([]pii.Span))
		r.metrics.RecordDetected(pii.SourceLLM, len(spans))
		return spans, nil
	}
}

// parse turns a model reply into spans located in text. The bool is false
// when the reply was not valid JSON.
func (r *Remote) parse(text, reply string) ([]pii.Span, bool) {
	items, err := decodeItems(stripFences(reply))
	if err != nil {
		r.log.Errorf("remote_parse", "model returned invalid JSON (%d bytes): %v", len(reply), err)
		r.metrics.RecordDropped(pii.SourceLLM, metrics.DropMalformedReply)
		return []pii.Span{}, false
	}

	runes := runeOffsets(text)
	spans := make([]pii.Span, 0, len(items))
	for _, it := range items {
		start, end, ok := locate(text, runes, it)
		if !ok {
			r.log.Warnf("remote_locate", "dropped %s candidate: text not found in source", typeOrUnknown(it.Type))
			r.metrics.RecordDropped(pii.SourceLLM, metrics.DropOffsetMismatch)
			continue
		}
		conf := defaultRemoteConfidence
		if it.Confidence != nil {
			conf = min(max(*it.Confidence, 0), 1)
		}
		spans = append(spans, pii.Span{
			Start:      start,
			End:        end,
			Type:       typeOrUnknown(it.Type),
			Text:       text[start:end],
			Source:     pii.SourceLLM,
			Confidence: conf,
		})
	}
	return spans, true
}

// locate resolves a candidate to byte offsets in text. The model reports
// character offsets; they are trusted when they select exactly the reported
// text, otherwise the first verbatim occurrence of the text is used.
func locate(text string, runes []int, it remoteItem) (int, int, bool) {
	start, end, inBounds := byteSpan(runes, it.Start, it.End)

	if it.Text == "" {
		return start, end, inBounds
	}
	if inBounds && text[start:end] == it.Text {
		return start, end, true
	}
	idx := strings.Index(text, it.Text)
	if idx < 0 {
		return 0, 0, false
	}
	return idx, idx + len(it.Text), true
}

// runeOffsets maps each character index of text to its byte offset, with
// len(text) appended as the end sentinel.
func runeOffsets(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}

// byteSpan converts character offsets into byte offsets. The result always
// falls on character boundaries.
func byteSpan(runes []int, start, end *int) (int, int, bool) {
	if start == nil || end == nil {
		return 0, 0, false
	}
	s, e := *start, *end
	if s < 0 || s >= e || e > len(runes)-1 {
		return 0, 0, false
	}
	return runes[s], runes[e], true
}

func typeOrUnknown(t string) string {
	if t = strings.TrimSpace(t); t == "" {
		return pii.TypeUnknown
	}
	return t
}

// stripFences removes a surrounding ``` code fence, language tag included.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.IndexByte(raw, '\n'); i >= 0 {
			raw = raw[i+1:]
		} else {
			raw = strings.TrimPrefix(raw, "```")
		}
	}
	if strings.HasSuffix(raw, "```") {
		raw = strings.TrimSuffix(raw, "```")
	}
	return strings.TrimSpace(raw)
}

// decodeItems parses a JSON array of items. If the reply is not a bare
// array, the outermost [...] inside it is tried before giving up.
func decodeItems(raw string) ([]remoteItem, error) {
	var items []remoteItem
	err := json.Unmarshal([]byte(raw), &items)
	if err == nil {
		return items, nil
	}
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end <= start {
		return nil, err
	}
	if err2 := json.Unmarshal([]byte(raw[start:end+1]), &items); err2 != nil {
		return nil, err
	}
	return items, nil
}
