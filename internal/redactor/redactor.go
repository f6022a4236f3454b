// Package redactor runs the full masking pipeline: detection, merge, mask,
// envelope encryption and storage. It also reverses it for authorised
// callers and restores tokens a chat model echoes back.
package redactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"pii-redactor/internal/detector"
	"pii-redactor/internal/docstore"
	"pii-redactor/internal/envelope"
	"pii-redactor/internal/logger"
	"pii-redactor/internal/metrics"
	"pii-redactor/internal/pii"
)

// Mode selects which detectors run.
type Mode string

const (
	ModeRegex  Mode = "regex"
	ModeNER    Mode = "ner"
	ModeLLM    Mode = "llm"
	ModeHybrid Mode = "hybrid"
)

var (
	// ErrInvalidMode is returned for an unknown detection mode.
	ErrInvalidMode = errors.New("invalid detection mode")

	// ErrNoEnvelope is returned when a restore is asked for a document that
	// was stored without an envelope and none was supplied.
	ErrNoEnvelope = errors.New("no envelope stored for this document")

	// ErrEmptyMessage is returned by Chat for a blank message.
	ErrEmptyMessage = errors.New("chat message is empty")
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeRegex, ModeNER, ModeLLM, ModeHybrid:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (want regex, ner, llm or hybrid)", ErrInvalidMode, s)
}

// usesRemote reports whether the mode calls the remote model.
func (m Mode) usesRemote() bool { return m == ModeLLM || m == ModeHybrid }

// RemoteDetector is a Detector gated by the remote-access policy.
type RemoteDetector interface {
	detector.Detector
	Allowed() bool
}

// Options controls what Redact keeps and returns.
type Options struct {
	StoreEnvelope   bool // encrypt the envelope and keep it with the document
	IncludeEnvelope bool // return the plaintext envelope to the caller
}

// Result is the outcome of one Redact call.
type Result struct {
	DocID      string        `json:"doc_id"`
	MaskedText string        `json:"masked_text"`
	Audit      pii.Audit     `json:"audit"`
	Envelope   *pii.Envelope `json:"envelope,omitempty"`
}

// Deps are the collaborators a Service is built from. Store and Cipher are
// required; the rest have usable defaults.
type Deps struct {
	Pattern detector.Detector // default: detector.NewPattern
	NER     detector.Detector // default: detector.Placeholder
	Remote  RemoteDetector    // nil disables llm and hybrid modes
	Chat    detector.Completer
	Cipher  *envelope.Cipher
	Store   docstore.Store
	Metrics *metrics.Metrics
	Log     *logger.Logger
}

// Service is safe for concurrent use. It holds no per-request state; the
// store is the only shared mutable resource.
type Service struct {
	pattern detector.Detector
	ner     detector.Detector
	remote  RemoteDetector
	chat    detector.Completer
	cipher  *envelope.Cipher
	store   docstore.Store
	metrics *metrics.Metrics
	log     *logger.Logger
}

// New builds a Service.
func New(d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, errors.New("redactor: store is required")
	}
	if d.Cipher == nil {
		return nil, errors.New("redactor: cipher is required")
	}
	s := &Service{
		pattern: d.Pattern,
		ner:     d.NER,
		remote:  d.Remote,
		chat:    d.Chat,
		cipher:  d.Cipher,
		store:   d.Store,
		metrics: d.Metrics,
		log:     d.Log,
	}
	if s.pattern == nil {
		s.pattern = detector.NewPattern(d.Metrics)
	}
	if s.ner == nil {
		s.ner = detector.Placeholder{}
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	return s, nil
}

// RemoteAllowed reports whether the remote-access policy permits outbound
// model calls.
func (s *Service) RemoteAllowed() bool {
	return s.remote != nil && s.remote.Allowed()
}

// detectors returns the mode's detectors in fixed order. Their results are
// concatenated in this order regardless of which finishes first.
func (s *Service) detectors(mode Mode) ([]detector.Detector, error) {
	if mode.usesRemote() && !s.RemoteAllowed() {
		return nil, detector.ErrRemoteDisabled
	}
	switch mode {
	case ModeRegex:
		return []detector.Detector{s.pattern}, nil
	case ModeNER:
		return []detector.Detector{s.ner}, nil
	case ModeLLM:
		return []detector.Detector{s.remote}, nil
	case ModeHybrid:
		return []detector.Detector{s.pattern, s.ner, s.remote}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
}

// Redact masks text using the detectors selected by mode and stores the
// result. A policy refusal happens before any detector runs.
func (s *Service) Redact(ctx context.Context, mode Mode, text string, opts Options) (Result, error) {
	start := time.Now()
	res, err := s.redact(ctx, mode, text, opts)
	s.metrics.ObserveStage("redact", time.Since(start))
	s.metrics.RecordRedaction(string(mode), outcome(err))
	if err != nil {
		s.log.Warnf("redact", "mode=%s failed: %v", mode, err)
		return Result{}, err
	}
	s.log.Infof("redact", "doc=%s mode=%s spans=%d sources=%v", res.DocID, mode, res.Audit.TotalFound, res.Audit.SourcesUsed)
	return res, nil
}

func (s *Service) redact(ctx context.Context, mode Mode, text string, opts Options) (Result, error) {
	dets, err := s.detectors(mode)
	if err != nil {
		return Result{}, err
	}

	candidates, sources, err := s.detect(ctx, mode, dets, text)
	if err != nil {
		return Result{}, err
	}

	t := time.Now()
	merged := pii.Merge(candidates)
	s.metrics.ObserveStage("merge", time.Since(t))

	t = time.Now()
	masked, tokenMap, err := pii.Mask(text, merged)
	if err != nil {
		return Result{}, fmt.Errorf("mask: %w", err)
	}
	s.metrics.ObserveStage("mask", time.Since(t))
	for _, sp := range merged {
		s.metrics.RecordMasked(sp.Type)
	}

	audit := pii.NewAudit(merged, sources)
	env := pii.Envelope{TokenMap: tokenMap}

	var sealed string
	if opts.StoreEnvelope {
		if sealed, err = s.cipher.Encrypt(env); err != nil {
			return Result{}, err
		}
	}

	docID, err := s.store.Put(masked, audit, sealed)
	if err != nil {
		return Result{}, fmt.Errorf("store document: %w", err)
	}
	s.metrics.SetDocumentsHeld(s.store.Len())

	res := Result{DocID: docID, MaskedText: masked, Audit: audit}
	if opts.IncludeEnvelope {
		res.Envelope = &env
	}
	return res, nil
}

// detect runs dets concurrently and concatenates their output in slice
// order. In hybrid mode an unreachable remote model is logged and skipped so
// local results still count; in every other case a detector error fails the
// whole call.
func (s *Service) detect(ctx context.Context, mode Mode, dets []detector.Detector, text string) ([]pii.Span, []string, error) {
	t := time.Now()
	defer func() { s.metrics.ObserveStage("detect", time.Since(t)) }()

	results := make([][]pii.Span, len(dets))
	ran := make([]bool, len(dets))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range dets {
		g.Go(func() error {
			spans, err := d.Detect(gctx, text)
			switch {
			case err == nil:
				results[i], ran[i] = spans, true
				return nil
			case mode == ModeHybrid && errors.Is(err, detector.ErrRemoteUnavailable):
				s.log.Warnf("detect", "%s detector skipped: %v", d.Source(), err)
				return nil
			default:
				return fmt.Errorf("%s detector: %w", d.Source(), err)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var all []pii.Span
	sources := make([]string, 0, len(dets))
	for i, d := range dets {
		if !ran[i] {
			continue
		}
		all = append(all, results[i]...)
		sources = append(sources, d.Source())
	}
	return all, sources, nil
}

// Document returns the stored entry for docID.
func (s *Service) Document(docID string) (docstore.Entry, error) {
	return s.store.Get(docID)
}

// Restore reverses the masking of a stored document. envelopeOverride, when
// non-empty, is used instead of the stored envelope.
func (s *Service) Restore(ctx context.Context, docID, envelopeOverride string) (string, error) {
	restored, err := s.restore(ctx, docID, envelopeOverride)
	s.metrics.RecordRestore(outcome(err))
	if err != nil {
		s.log.Warnf("restore", "doc=%s failed: %v", docID, err)
		return "", err
	}
	s.log.Infof("restore", "doc=%s restored", docID)
	return restored, nil
}

func (s *Service) restore(ctx context.Context, docID, envelopeOverride string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	entry, err := s.store.Get(docID)
	if err != nil {
		return "", err
	}
	env, err := s.envelopeFor(entry, envelopeOverride)
	if err != nil {
		return "", err
	}
	return pii.Restore(entry.MaskedText, env.TokenMap), nil
}

func (s *Service) envelopeFor(entry docstore.Entry, override string) (pii.Envelope, error) {
	sealed := override
	if sealed == "" {
		sealed = entry.EnvelopeEncrypted
	}
	if sealed == "" {
		return pii.Envelope{}, ErrNoEnvelope
	}
	return s.cipher.Decrypt(sealed)
}

// RestoreReply substitutes the document's tokens echoed in reply. The bool
// is false, and reply is returned unchanged, when the document has no stored
// envelope.
func (s *Service) RestoreReply(docID, reply string) (string, bool, error) {
	entry, err := s.store.Get(docID)
	if err != nil {
		return "", false, err
	}
	if !entry.HasEnvelope() {
		return reply, false, nil
	}
	env, err := s.cipher.Decrypt(entry.EnvelopeEncrypted)
	if err != nil {
		return "", false, err
	}
	return pii.Restore(reply, env.TokenMap), true, nil
}

// outcome is the metrics label for a finished operation.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidMode):
		return "invalid_mode"
	case errors.Is(err, detector.ErrRemoteDisabled):
		return "policy_denied"
	case errors.Is(err, detector.ErrRemoteUnavailable):
		return "remote_unavailable"
	case errors.Is(err, docstore.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNoEnvelope):
		return "no_envelope"
	case errors.Is(err, envelope.ErrDecrypt):
		return "decrypt_failed"
	}
	return "error"
}
