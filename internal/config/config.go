// Package config loads parlower settings from YAML or CUE files with
// environment overrides.
//
// A file is decoded over Default(), so absent fields keep their defaults.
// CUE files are additionally unified with an embedded schema before
// decoding. Environment variables are applied last:
//
//	PARLOWER_MAX_CONCURRENCY  max_concurrency
//	PARLOWER_THREADS          engine.threads
//	PARLOWER_LOG_LEVEL        log_level
//	PARLOWER_DB               engine.database
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"

	"github.com/roach88/parlower/internal/engine"
	"github.com/roach88/parlower/internal/pipeline"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full set of tunables.
type Config struct {
	// MaxConcurrency overrides the max_concurrency parameter of samples
	// that take one. Zero keeps the sample default.
	MaxConcurrency int64        `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
	Pipeline       []string     `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	Until          string       `json:"until,omitempty" yaml:"until,omitempty"`
	Canonicalize   Canonicalize `json:"canonicalize" yaml:"canonicalize"`
	Engine         Engine       `json:"engine" yaml:"engine"`
	LogLevel       string       `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

// Canonicalize tunes the greedy rewrite driver.
type Canonicalize struct {
	Interleave  bool `json:"interleave,omitempty" yaml:"interleave,omitempty"`
	MaxRewrites int  `json:"max_rewrites,omitempty" yaml:"max_rewrites,omitempty"`
}

// Engine tunes execution.
type Engine struct {
	// Threads is the worker count; zero means one per CPU.
	Threads  int    `json:"threads,omitempty" yaml:"threads,omitempty"`
	OptLevel int    `json:"opt_level" yaml:"opt_level"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine:   Engine{OptLevel: engine.DefaultOptLevel},
		LogLevel: "info",
	}
}

// Load reads path (by extension: .yaml, .yml or .cue), applies
// environment overrides and validates the result. An empty path yields
// the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			err = decodeYAML(data, cfg)
		case ".cue":
			err = decodeCUE(data, path, cfg)
		default:
			err = &ConfigError{Field: "path", Message: fmt.Sprintf("unsupported config format %q", ext)}
		}
		if err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// decodeCUE compiles data, unifies it with #Config and decodes the
// concrete result into cfg.
func decodeCUE(data []byte, path string, cfg *Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return formatCUEError(err)
	}
	v = schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	if err := v.Decode(cfg); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError turns the first CUE error into a ConfigError naming
// the offending field.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ConfigError{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	ce := &ConfigError{
		Field:   strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
	}
	if pos := first.Position(); pos.IsValid() {
		ce.Line = pos.Line()
	}
	return ce
}

// ApplyEnv overrides cfg from PARLOWER_* variables. The environment is
// re-read on every call.
func ApplyEnv(cfg *Config) error {
	env.Load()
	if env.Has("PARLOWER_MAX_CONCURRENCY") {
		n := env.Int("PARLOWER_MAX_CONCURRENCY", -1)
		if n < 0 {
			return &ConfigError{Field: "PARLOWER_MAX_CONCURRENCY", Message: "must be a non-negative integer"}
		}
		cfg.MaxConcurrency = int64(n)
	}
	if env.Has("PARLOWER_THREADS") {
		n := env.Int("PARLOWER_THREADS", -1)
		if n < 0 {
			return &ConfigError{Field: "PARLOWER_THREADS", Message: "must be a non-negative integer"}
		}
		cfg.Engine.Threads = n
	}
	if env.Has("PARLOWER_LOG_LEVEL") {
		cfg.LogLevel = strings.ToLower(env.Str("PARLOWER_LOG_LEVEL"))
	}
	if env.Has("PARLOWER_DB") {
		cfg.Engine.Database = env.Str("PARLOWER_DB")
	}
	return nil
}

// Validate reports every problem in cfg, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	if c.MaxConcurrency < 0 {
		add("max_concurrency", "must be >= 0, got %d", c.MaxConcurrency)
	}
	if err := pipeline.Validate(c.Pipeline); err != nil {
		add("pipeline", "%v", err)
	} else if _, err := pipeline.Plan(c.PipelineOptions(nil)); err != nil {
		add("until", "%v", err)
	}
	if c.Canonicalize.MaxRewrites < 0 {
		add("canonicalize.max_rewrites", "must be >= 0, got %d", c.Canonicalize.MaxRewrites)
	}
	if c.Engine.Threads < 0 {
		add("engine.threads", "must be >= 0, got %d", c.Engine.Threads)
	}
	if c.Engine.OptLevel < 0 || c.Engine.OptLevel > 1 {
		add("engine.opt_level", "must be 0 or 1, got %d", c.Engine.OptLevel)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		add("log_level", "%v", err)
	}
	return errors.Join(errs...)
}

// PipelineOptions maps cfg onto pipeline.Options.
func (c *Config) PipelineOptions(logger *slog.Logger) pipeline.Options {
	return pipeline.Options{
		Passes:      c.Pipeline,
		Interleave:  c.Canonicalize.Interleave,
		MaxRewrites: c.Canonicalize.MaxRewrites,
		Until:       c.Until,
		Logger:      logger,
	}
}

// EngineOptions maps cfg onto engine options. The store is wired by the
// caller since opening it can fail.
func (c *Config) EngineOptions(logger *slog.Logger) []engine.Option {
	opts := []engine.Option{engine.WithOptLevel(c.Engine.OptLevel)}
	if c.Engine.Threads > 0 {
		opts = append(opts, engine.WithThreads(c.Engine.Threads))
	}
	if logger != nil {
		opts = append(opts, engine.WithLogger(logger))
	}
	return opts
}

// Level returns the slog level of LogLevel.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown level %q (want debug, info, warn or error)", s)
}
