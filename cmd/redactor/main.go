// Command redactor is the PII redaction server.
//
// It masks personal information in submitted text with reversible tokens,
// keeps the masked result for a limited time, and restores the original for
// callers holding the admin key. The encrypted token envelope is the only
// artifact able to reverse a redaction; without ENVELOPE_KEY a fresh key is
// generated at start-up and envelopes do not survive a restart.
//
// Usage:
//
//	# Defaults: 127.0.0.1:8000, in-memory store, remote model disabled
//	./redactor
//
//	# Persistent key, on-disk store, local Ollama allowed
//	ENVELOPE_KEY=$(openssl rand -base64 32) STORE_PATH=redactor.db ALLOW_REMOTE_LLM=true ./redactor
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"pii-redactor/internal/api"
	"pii-redactor/internal/config"
	"pii-redactor/internal/detector"
	"pii-redactor/internal/docstore"
	"pii-redactor/internal/envelope"
	"pii-redactor/internal/logger"
	"pii-redactor/internal/metrics"
	"pii-redactor/internal/redactor"
)

func main() {
	cfg := config.Load()
	log := logger.New("main", cfg.LogLevel)

	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalf("run", "%v", err)
	}
	log.Info("shutdown", "stopped cleanly")
}

// run wires every component and blocks until ctx is cancelled or the HTTP
// server fails.
func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	key, ephemeral, err := envelope.LoadOrGenerate(cfg.EnvelopeKey)
	if err != nil {
		return fmt.Errorf("envelope key: %w", err)
	}
	if ephemeral {
		log.Warn("key", "ENVELOPE_KEY not set; using an ephemeral key, envelopes will not survive a restart")
	}
	if cfg.AdminKey == "changeme" {
		log.Warn("config", "ADMIN_KEY is the default value; set it before exposing /restore")
	}

	envelopeKey, err := key.Derive("envelope")
	if err != nil {
		return err
	}
	cipher, err := envelope.New(envelopeKey)
	if err != nil {
		return err
	}

	m := metrics.New()

	store, err := openStore(cfg, key)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck // best-effort close on shutdown

	ollama := detector.NewOllamaClient(cfg.OllamaEndpoint, cfg.OllamaModel, cfg.RemoteTimeoutDuration())
	remote := detector.NewRemote(ollama, cfg.AllowRemoteLLM, log.Named("remote"), m).
		WithTimeout(cfg.RemoteTimeoutDuration())
	if cfg.RemoteCache > 0 {
		remote.WithCache(detector.NewSpanCache(cfg.RemoteCache))
	}
	svc, err := redactor.New(redactor.Deps{
		Pattern: detector.NewPattern(m),
		NER:     detector.Placeholder{},
		Remote:  remote,
		Chat:    ollama,
		Cipher:  cipher,
		Store:   store,
		Metrics: m,
		Log:     log.Named("redactor"),
	})
	if err != nil {
		return err
	}

	srv := api.New(cfg, svc, m, log.Named("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		docstore.RunSweeper(gctx, store, cfg.SweepEvery(), log.Named("sweeper"), func(removed int) {
			m.RecordSweep(removed)
			m.SetDocumentsHeld(store.Len())
		})
		return nil
	})
	return g.Wait()
}

// openStore returns the bbolt store when STORE_PATH is set, the in-memory
// store otherwise. The bbolt store seals entries with its own derived key.
func openStore(cfg *config.Config, key envelope.Key) (docstore.Store, error) {
	if cfg.StorePath == "" {
		return docstore.NewMemory(cfg.DocTTL()), nil
	}
	storeKey, err := key.Derive("docstore")
	if err != nil {
		return nil, err
	}
	sealer, err := envelope.New(storeKey)
	if err != nil {
		return nil, err
	}
	return docstore.OpenBolt(cfg.StorePath, cfg.DocTTL(), sealer)
}

func printBanner(cfg *config.Config) {
	storage := "memory"
	if cfg.StorePath != "" {
		storage = "bbolt (" + cfg.StorePath + ")"
	}
	keyMode := "configured"
	if cfg.EnvelopeKey == "" {
		keyMode = "ephemeral (set ENVELOPE_KEY to persist)"
	}

	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          PII Redactor  (Go)                          ║
╚══════════════════════════════════════════════════════╝
  Listen          : %s:%d
  Document TTL    : %s (sweep every %s)
  Storage         : %s
  Envelope key    : %s
  Remote model    : %v
  Ollama endpoint : %s
  Ollama model    : %s

  Try it:
    curl -X POST --data '010-1234-5678, user@test.com' http://localhost:%d/redaction/regex
`, cfg.BindAddress, cfg.Port,
		cfg.DocTTL(), cfg.SweepEvery(),
		storage, keyMode,
		cfg.AllowRemoteLLM, cfg.OllamaEndpoint, cfg.OllamaModel,
		cfg.Port)
}
