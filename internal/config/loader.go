package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/vadscribe/internal/transcript"
	"github.com/MrWong99/vadscribe/pkg/provider/vad"
)

// Environment variables that override values from the YAML file.
const (
	EnvStreamURL    = "VADSCRIBE_STREAM_URL"
	EnvPostgresDSN  = "VADSCRIBE_POSTGRES_DSN"
	EnvOpenAIAPIKey = "VADSCRIBE_OPENAI_API_KEY"
	EnvLogLevel     = "VADSCRIBE_LOG_LEVEL"
	EnvListenAddr   = "VADSCRIBE_LISTEN_ADDR"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad": {"energy"},
	"stt": {"whisper", "whisper-native", "openai"},
}

// LoadDotEnv loads KEY=value pairs from the .env file at path into the
// process environment without overwriting variables that are already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %q: %w", path, err)
	}
	return nil
}

// Load reads the YAML configuration file at path, applies environment
// overrides and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Defaults] and validates
// the result. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the VADSCRIBE_* variables found by lookup.
// The OpenAI key only fills openai transcriber entries that have none.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvStreamURL); ok && v != "" {
		cfg.Stream.URL = v
	}
	if v, ok := lookup(EnvPostgresDSN); ok && v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v, ok := lookup(EnvListenAddr); ok {
		cfg.Server.ListenAddr = v
	}
	if v, ok := lookup(EnvOpenAIAPIKey); ok && v != "" {
		fill := func(e *ProviderEntry) {
			if e.Name == "openai" && e.APIKey == "" {
				e.APIKey = v
			}
		}
		fill(&cfg.Providers.STT)
		for i := range cfg.Providers.STTFallbacks {
			fill(&cfg.Providers.STTFallbacks[i])
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Stream
	if cfg.Stream.URL == "" {
		errs = append(errs, fmt.Errorf("stream.url is required (or set %s)", EnvStreamURL))
	}
	if !cfg.Stream.Source.IsValid() {
		errs = append(errs, fmt.Errorf("stream.source %q is invalid; valid values: ffmpeg, wav, websocket", cfg.Stream.Source))
	}
	if r := cfg.Stream.Reconnect; r.Attempts < 0 || r.Backoff < 0 || r.MaxBackoff < 0 {
		errs = append(errs, errors.New("stream.reconnect values must not be negative"))
	}
	vcfg := vad.Config{SampleRate: cfg.Stream.SampleRate, ChunkSize: cfg.Stream.ChunkSize}
	if err := vcfg.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("stream: %w", err))
	}

	// Segmenter
	if err := cfg.SegmentConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("segmenter: %w", err))
	}

	// Providers
	if cfg.Providers.VAD.Name == "" {
		errs = append(errs, errors.New("providers.vad.name is required"))
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}

	// Output
	if !cfg.Output.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("output.mode %q is invalid; valid values: transcribe, files", cfg.Output.Mode))
	}
	if cfg.Output.Mode == OutputTranscribe && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("output.mode transcribe requires providers.stt"))
	}
	if cfg.Output.Mode == OutputFiles && len(cfg.Providers.STTFallbacks) > 0 {
		slog.Warn("providers.stt_fallbacks are ignored in files mode")
	}
	if !cfg.Output.OnError.IsValid() {
		errs = append(errs, fmt.Errorf("output.on_error %q is invalid; valid values: abort, skip", cfg.Output.OnError))
	}
	if cfg.Output.Retries < 0 {
		errs = append(errs, fmt.Errorf("output.retries %d must not be negative", cfg.Output.Retries))
	}

	// Transcription
	if cfg.Transcription.Threads < 0 {
		errs = append(errs, fmt.Errorf("transcription.threads %d must not be negative", cfg.Transcription.Threads))
	}
	if cfg.Transcription.MaxTextContext < 0 {
		errs = append(errs, fmt.Errorf("transcription.max_text_context %d must not be negative", cfg.Transcription.MaxTextContext))
	}

	// Storage
	switch cfg.Storage.Script {
	case transcript.ScriptNone, transcript.ScriptTraditional, transcript.ScriptSimplified:
	default:
		errs = append(errs, fmt.Errorf("storage.script %q is invalid; valid values: traditional, simplified, or empty", cfg.Storage.Script))
	}
	if cfg.Storage.PostgresDSN != "" && cfg.Output.Mode == OutputFiles {
		slog.Warn("storage.postgres_dsn is set but output.mode is files; nothing will be stored")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// OptString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptFloat extracts a numeric value from a provider Options map. YAML
// integers and numeric strings are accepted. ok is false when the key is
// absent or not numeric.
func OptFloat(opts map[string]any, key string) (v float64, ok bool) {
	switch n := opts[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
