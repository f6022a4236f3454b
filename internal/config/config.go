// Package config loads and holds all redactor configuration.
// Settings come from built-in defaults, then redactor-config.yaml (optional),
// then environment variables, each layer overriding the previous one.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file read by Load when present.
const DefaultFile = "redactor-config.yaml"

// Config holds the full redactor configuration.
type Config struct {
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
	LogLevel    string `yaml:"log_level"`

	// AllowRemoteLLM gates every outbound call to the remote model.
	AllowRemoteLLM bool   `yaml:"allow_remote_llm"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	RemoteTimeout  int    `yaml:"remote_timeout_sec"`
	RemoteCache    int    `yaml:"remote_cache_size"` // 0 = no caching

	// EnvelopeKey is a base64 32-byte key. Empty means a fresh key is
	// generated at startup and envelopes do not survive a restart.
	EnvelopeKey string `yaml:"envelope_key"`
	AdminKey    string `yaml:"admin_key"`

	DocTTLSec     int    `yaml:"doc_ttl_sec"`
	SweepInterval int    `yaml:"sweep_interval_sec"`
	StorePath     string `yaml:"store_path"` // empty = in-memory store

	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// Load returns config with defaults overridden by the YAML file and env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, DefaultFile)
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		Port:           8000,
		BindAddress:    "127.0.0.1",
		LogLevel:       "info",
		AllowRemoteLLM: false,
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "qwen2.5:3b",
		RemoteTimeout:  30,
		RemoteCache:    1000,
		AdminKey:       "changeme",
		DocTTLSec:      3600,
		SweepInterval:  300,
		MaxBodyBytes:   10 << 20,
	}
}

// DocTTL is the document time-to-live as a duration.
func (c *Config) DocTTL() time.Duration { return time.Duration(c.DocTTLSec) * time.Second }

// SweepEvery is the background sweep period as a duration.
func (c *Config) SweepEvery() time.Duration { return time.Duration(c.SweepInterval) * time.Second }

// RemoteTimeoutDuration bounds one round trip to the remote model.
func (c *Config) RemoteTimeoutDuration() time.Duration {
	return time.Duration(c.RemoteTimeout) * time.Second
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is a fixed name or test fixture
	if err != nil {
		return // file is optional
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	envInt("PORT", &cfg.Port)
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ALLOW_REMOTE_LLM"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.AllowRemoteLLM = b
		}
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		cfg.OllamaEndpoint = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.OllamaModel = v
	}
	envInt("REMOTE_TIMEOUT_SEC", &cfg.RemoteTimeout)
	envInt("REMOTE_CACHE_SIZE", &cfg.RemoteCache)
	if v := os.Getenv("ENVELOPE_KEY"); v != "" {
		cfg.EnvelopeKey = v
	}
	if v := os.Getenv("ADMIN_KEY"); v != "" {
		cfg.AdminKey = v
	}
	envInt("DOC_TTL_SEC", &cfg.DocTTLSec)
	envInt("SWEEP_INTERVAL_SEC", &cfg.SweepInterval)
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxBodyBytes = n
		}
	}
}

// envInt overwrites *dst with a positive integer from the environment.
// Malformed and non-positive values are ignored.
func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = n
	}
}
