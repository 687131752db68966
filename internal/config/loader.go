package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trunkline-ai/trunkline/internal/tools"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"deepgram"},
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"elevenlabs"},
	"embeddings": {"openai", "ollama"},
}

// envPattern matches ${VAR} placeholders. Only the braced form is expanded so
// literal dollar signs in passwords and DSNs survive.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. ${VAR} placeholders are replaced from the process environment
// before decoding, so secrets never need to live in the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg, err := LoadFromReader(strings.NewReader(expandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string
// literals. Unknown YAML keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces every ${VAR} placeholder with the variable's value.
// Unset variables expand to the empty string; Validate catches required
// fields that end up blank.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// ApplyDefaults fills zero-valued optional fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = LogInfo
	}
	if cfg.Cache.Addr == "" {
		cfg.Cache.Addr = "localhost:6379"
	}
	if cfg.Knowledge.Table == "" {
		cfg.Knowledge.Table = "knowledge_chunks"
	}
	if cfg.Knowledge.Dimensions == 0 {
		cfg.Knowledge.Dimensions = 1536
	}
	if cfg.Telemetry.Stream == "" {
		cfg.Telemetry.Stream = "call_events"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.PublicHost == "" {
		errs = append(errs, errors.New("server.public_host is required (the telephony provider must be able to reach the media stream)"))
	}
	if !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.Knowledge.DSN == "" {
		errs = append(errs, errors.New("knowledge.dsn is required"))
	}
	if cfg.Knowledge.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("knowledge.dimensions %d must be positive", cfg.Knowledge.Dimensions))
	}
	if cfg.Management.BaseURL == "" {
		errs = append(errs, errors.New("management.base_url is required"))
	}
	if cfg.Management.InternalKey == "" {
		errs = append(errs, errors.New("management.internal_key is required"))
	}

	errs = append(errs, validateProviders(&cfg.Providers)...)

	for i, srv := range cfg.Tools.MCPServers {
		prefix := fmt.Sprintf("tools.mcp_servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		switch srv.Transport {
		case tools.TransportStdio:
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
			}
		case tools.TransportStreamableHTTP:
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
	}

	return errors.Join(errs...)
}

// validateProviders checks that every pipeline stage has a provider selected
// and warns about names the registry likely does not know.
func validateProviders(p *ProvidersConfig) []error {
	var errs []error

	required := []struct {
		kind  string
		entry *ProviderEntry
	}{
		{"stt", &p.STT},
		{"llm", &p.LLM},
		{"tts", &p.TTS},
		{"embeddings", &p.Embeddings},
	}
	for _, r := range required {
		if r.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", r.kind))
			continue
		}
		warnUnknownProviderName(r.kind, r.entry.Name)
	}

	fallbacks := []struct {
		kind  string
		key   string
		entry *ProviderEntry
	}{
		{"stt", "stt_fallback", p.STTFallback},
		{"llm", "llm_fallback", p.LLMFallback},
		{"tts", "tts_fallback", p.TTSFallback},
	}
	for _, f := range fallbacks {
		if f.entry == nil {
			continue
		}
		if f.entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required when the section is present", f.key))
		} else {
			warnUnknownProviderName(f.kind, f.entry.Name)
		}
	}
	return errs
}

// warnUnknownProviderName logs a warning if name is not found in the
// [ValidProviderNames] list for the given kind.
func warnUnknownProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
