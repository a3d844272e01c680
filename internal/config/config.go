// Package config loads readaloud settings from the config file, flags and
// environment.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	gap "github.com/muesli/go-app-paths"
	"github.com/readaloud/readaloud/internal/cache"
	"github.com/readaloud/readaloud/internal/chunker"
	"github.com/readaloud/readaloud/internal/engines"
	"github.com/readaloud/readaloud/internal/llm"
	"github.com/readaloud/readaloud/internal/speech"
	"github.com/readaloud/readaloud/internal/ttypes"
	"github.com/readaloud/readaloud/utils"
	"github.com/spf13/viper"
)

// AppName names the config, cache and log locations.
const AppName = "readaloud"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete readaloud configuration.
type Config struct {
	Speech SpeechConfig `mapstructure:"speech"`
	Espeak EspeakConfig `mapstructure:"espeak"`
	Piper  PiperConfig  `mapstructure:"piper"`
	GTTS   GTTSConfig   `mapstructure:"gtts"`
	Cache  CacheConfig  `mapstructure:"cache"`
	LLM    LLMConfig    `mapstructure:"llm"`
}

// SpeechConfig configures the pipeline and engine selection.
type SpeechConfig struct {
	Engine           string        `mapstructure:"engine"`
	Fallback         string        `mapstructure:"fallback"`
	MaxFailures      int           `mapstructure:"max_failures"`
	Rate             int           `mapstructure:"rate"`
	Voice            string        `mapstructure:"voice"`
	ChunkSize        int           `mapstructure:"chunk_size"`
	StripMarkdown    bool          `mapstructure:"strip_markdown"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	DequeueTimeout   time.Duration `mapstructure:"dequeue_timeout"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	UtteranceTimeout time.Duration `mapstructure:"utterance_timeout"`
}

// EspeakConfig configures espeak-ng.
type EspeakConfig struct {
	Binary string `mapstructure:"binary"`
}

// PiperConfig configures Piper.
type PiperConfig struct {
	Binary     string `mapstructure:"binary"`
	Model      string `mapstructure:"model"`
	ModelDir   string `mapstructure:"model_dir"`
	Speaker    string `mapstructure:"speaker"`
	SampleRate int    `mapstructure:"sample_rate"`
}

// GTTSConfig configures Google Translate TTS.
type GTTSConfig struct {
	Binary            string `mapstructure:"binary"`
	FFmpeg            string `mapstructure:"ffmpeg"`
	Language          string `mapstructure:"language"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// CacheConfig configures the audio cache. Sizes are in MB.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Dir     string        `mapstructure:"dir"`
	MaxSize int           `mapstructure:"max_size"`
	Disk    int           `mapstructure:"disk_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// LLMConfig configures the completion API.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	URL         string        `mapstructure:"url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Env holds settings that only come from the environment.
type Env struct {
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	Debug        bool   `env:"READALOUD_DEBUG"`
	ConfigHome   string `env:"READALOUD_CONFIG_HOME"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Speech: SpeechConfig{
			Engine:         string(engines.DefaultEngine()),
			MaxFailures:    engines.DefaultMaxFailures,
			Rate:           speech.DefaultRate,
			ChunkSize:      chunker.DefaultLimit,
			StripMarkdown:  true,
			PollInterval:   speech.DefaultPollInterval,
			DequeueTimeout: speech.DefaultDequeueTimeout,
			StopTimeout:    speech.DefaultStopTimeout,
		},
		Espeak: EspeakConfig{Binary: "espeak-ng"},
		Piper:  PiperConfig{Binary: "piper"},
		GTTS: GTTSConfig{
			Binary:            "gtts-cli",
			FFmpeg:            "ffmpeg",
			Language:          "en",
			RequestsPerMinute: 50,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 32,
			Disk:    256,
			TTL:     7 * 24 * time.Hour,
		},
		LLM: LLMConfig{
			Provider:  string(llm.ProviderLlama),
			MaxTokens: llm.DefaultMaxTokens,
			Timeout:   llm.DefaultTimeout,
		},
	}
}

// SetDefaults registers every default with v so partial config files and
// environment overrides resolve against them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]any{
		"speech.engine":            d.Speech.Engine,
		"speech.fallback":          d.Speech.Fallback,
		"speech.max_failures":      d.Speech.MaxFailures,
		"speech.rate":              d.Speech.Rate,
		"speech.voice":             d.Speech.Voice,
		"speech.chunk_size":        d.Speech.ChunkSize,
		"speech.strip_markdown":    d.Speech.StripMarkdown,
		"speech.poll_interval":     d.Speech.PollInterval,
		"speech.dequeue_timeout":   d.Speech.DequeueTimeout,
		"speech.stop_timeout":      d.Speech.StopTimeout,
		"speech.utterance_timeout": d.Speech.UtteranceTimeout,
		"espeak.binary":            d.Espeak.Binary,
		"piper.binary":             d.Piper.Binary,
		"piper.model":              d.Piper.Model,
		"piper.model_dir":          d.Piper.ModelDir,
		"piper.speaker":            d.Piper.Speaker,
		"piper.sample_rate":        d.Piper.SampleRate,
		"gtts.binary":              d.GTTS.Binary,
		"gtts.ffmpeg":              d.GTTS.FFmpeg,
		"gtts.language":            d.GTTS.Language,
		"gtts.requests_per_minute": d.GTTS.RequestsPerMinute,
		"cache.enabled":            d.Cache.Enabled,
		"cache.dir":                d.Cache.Dir,
		"cache.max_size":           d.Cache.MaxSize,
		"cache.disk_size":          d.Cache.Disk,
		"cache.ttl":                d.Cache.TTL,
		"llm.provider":             d.LLM.Provider,
		"llm.url":                  d.LLM.URL,
		"llm.model":                d.LLM.Model,
		"llm.max_tokens":           d.LLM.MaxTokens,
		"llm.temperature":          d.LLM.Temperature,
		"llm.timeout":              d.LLM.Timeout,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadEnv reads the environment-only settings.
func LoadEnv() (Env, error) {
	e, err := env.ParseAs[Env]()
	if err != nil {
		return e, fmt.Errorf("error parsing environment: %w", err)
	}
	return e, nil
}

// Watch reloads the configuration whenever the file behind v changes and
// passes every valid result to apply.
func Watch(v *viper.Viper, apply func(Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(v)
		if err != nil {
			log.Warn("Ignoring invalid configuration change", "path", e.Name, "error", err)
			return
		}
		log.Debug("Configuration reloaded", "path", e.Name)
		apply(cfg)
	})
	v.WatchConfig()
}

// Validate checks every value that would otherwise fail later.
func (c Config) Validate() error {
	var errs []error

	for _, name := range []string{c.Speech.Engine, c.Speech.Fallback} {
		if !knownEngine(name) {
			errs = append(errs, fmt.Errorf("unknown speech engine %q (use say, espeak, piper, gtts or mock)", name))
		}
	}
	if err := speech.ValidateRate(c.Speech.Rate); err != nil {
		errs = append(errs, err)
	}
	if c.Speech.ChunkSize < 20 || c.Speech.ChunkSize > 5000 {
		errs = append(errs, fmt.Errorf("speech.chunk_size must be between 20 and 5000, got %d", c.Speech.ChunkSize))
	}
	if c.Speech.PollInterval <= 0 || c.Speech.PollInterval > time.Second {
		errs = append(errs, fmt.Errorf("speech.poll_interval must be between 0 and 1s, got %v", c.Speech.PollInterval))
	}
	if c.Speech.StopTimeout < 0 || c.Speech.DequeueTimeout < 0 || c.Speech.UtteranceTimeout < 0 {
		errs = append(errs, errors.New("speech timeouts cannot be negative"))
	}
	if c.Cache.MaxSize < 0 || c.Cache.MaxSize > 10000 {
		errs = append(errs, fmt.Errorf("cache.max_size must be between 0 and 10000 MB, got %d", c.Cache.MaxSize))
	}
	if c.Cache.Disk < 0 || c.Cache.Disk > 100000 {
		errs = append(errs, fmt.Errorf("cache.disk_size must be between 0 and 100000 MB, got %d", c.Cache.Disk))
	}
	if l := len(c.GTTS.Language); l < 2 || l > 5 {
		errs = append(errs, fmt.Errorf("gtts.language code must be 2-5 characters, got %q", c.GTTS.Language))
	}
	if c.GTTS.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("gtts.requests_per_minute cannot be negative"))
	}
	switch llm.Provider(c.LLM.Provider) {
	case llm.ProviderLlama, llm.ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q (use llama or openai)", c.LLM.Provider))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, errors.New("llm.max_tokens cannot be negative"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func knownEngine(name string) bool {
	switch ttypes.EngineType(strings.ToLower(name)) {
	case ttypes.EngineSay, ttypes.EngineEspeak, ttypes.EnginePiper,
		ttypes.EngineGoogle, ttypes.EngineMock, ttypes.EngineNone:
		return true
	}
	return false
}

// ConfigDirs returns the directories searched for the config file, most
// specific first.
func ConfigDirs(e Env, xdgConfigHome string) ([]string, error) {
	dirs, err := gap.NewScope(gap.User, AppName).ConfigDirs()
	if err != nil {
		return nil, err
	}
	if xdgConfigHome != "" {
		dirs = append([]string{filepath.Join(xdgConfigHome, AppName)}, dirs...)
	}
	if e.ConfigHome != "" {
		dirs = append([]string{utils.ExpandPath(e.ConfigHome)}, dirs...)
	}
	return dirs, nil
}

// CacheDir returns the configured audio cache directory or the user cache
// location.
func (c Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return utils.ExpandPath(c.Cache.Dir), nil
	}
	dir, err := gap.NewScope(gap.User, AppName).CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audio"), nil
}

// SpeechOptions converts the speech section into pipeline settings.
func (c Config) SpeechOptions(logger *log.Logger) speech.Config {
	return speech.Config{
		ChunkSize:        c.Speech.ChunkSize,
		Rate:             c.Speech.Rate,
		StripMarkdown:    c.Speech.StripMarkdown,
		PollInterval:     c.Speech.PollInterval,
		DequeueTimeout:   c.Speech.DequeueTimeout,
		StopTimeout:      c.Speech.StopTimeout,
		UtteranceTimeout: c.Speech.UtteranceTimeout,
		Logger:           logger,
	}
}

// CacheOptions converts the cache section. Disabled caching returns false.
func (c Config) CacheOptions() (cache.Config, bool, error) {
	if !c.Cache.Enabled || (c.Cache.MaxSize == 0 && c.Cache.Disk == 0) {
		return cache.Config{}, false, nil
	}
	dir, err := c.CacheDir()
	if err != nil {
		return cache.Config{}, false, err
	}
	cc := cache.DefaultConfig(dir)
	cc.MemoryCapacity = int64(c.Cache.MaxSize) << 20
	cc.DiskCapacity = int64(c.Cache.Disk) << 20
	if c.Cache.Disk == 0 {
		cc.Dir = ""
	}
	if c.Cache.TTL > 0 {
		cc.TTL = c.Cache.TTL
	}
	return cc, true, nil
}

// EngineOptions converts the engine sections. ac may be nil.
func (c Config) EngineOptions(ac *cache.AudioCache, logger *log.Logger) engines.Config {
	return engines.Config{
		Engine:      ttypes.EngineType(strings.ToLower(c.Speech.Engine)),
		Fallback:    ttypes.EngineType(strings.ToLower(c.Speech.Fallback)),
		Voice:       c.Speech.Voice,
		MaxFailures: c.Speech.MaxFailures,
		Espeak:      c.Espeak.Binary,
		Piper: engines.PiperConfig{
			Binary:     c.Piper.Binary,
			Model:      c.Piper.Model,
			ModelDir:   c.Piper.ModelDir,
			Speaker:    c.Piper.Speaker,
			SampleRate: c.Piper.SampleRate,
		},
		GTTS: engines.GTTSConfig{
			Binary:            c.GTTS.Binary,
			FFmpeg:            c.GTTS.FFmpeg,
			Language:          c.GTTS.Language,
			RequestsPerMinute: c.GTTS.RequestsPerMinute,
		},
		Cache:  ac,
		Logger: logger,
	}
}

// LLMOptions converts the llm section, taking the API key from e.
func (c Config) LLMOptions(e Env, logger *log.Logger) llm.Config {
	return llm.Config{
		Provider:    llm.Provider(c.LLM.Provider),
		URL:         c.LLM.URL,
		Model:       c.LLM.Model,
		APIKey:      e.OpenAIAPIKey,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
		Timeout:     c.LLM.Timeout,
		Logger:      logger,
	}
}
