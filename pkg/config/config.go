// Package config reads export settings from the environment and an optional
// .env file.
package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gdb-export/pkg/event"
	"gdb-export/pkg/gdbtable"
	"gdb-export/pkg/naming"
	"gdb-export/pkg/xmlws"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	Prefix            = "GDB_EXPORT_"
	EnvFormat         = Prefix + "FORMAT"
	EnvSpillThreshold = Prefix + "SPILL_THRESHOLD"
	EnvTempDir        = Prefix + "TEMP_DIR"
	EnvKeepScratch    = Prefix + "KEEP_SCRATCH"
	EnvContainerProp  = Prefix + "CONTAINER_PROPERTY"
	EnvDebug          = Prefix + "DEBUG"
	EnvRecordErrors   = Prefix + "RECORD_ERRORS"
	EnvNamePattern    = Prefix + "NAME_PATTERN_"
)

type Format string

const (
	FormatXML Format = "xml"
	FormatGDB Format = "gdb"
)

type Config struct {
	// Format is empty when unset; FormatFor then decides from the output name.
	Format            Format
	SpillThreshold    int
	TempDir           string
	KeepScratch       bool
	ContainerProperty string
	Debug             bool
	ErrorPolicy       event.ErrorPolicy
	// NamePatterns maps a geometry kind to a dataset name template.
	NamePatterns map[string]string
}

// Load reads the given .env files, or ./.env when none are given, and then
// the process environment. Variables already set in the environment win over
// file values. A missing default .env is not an error.
func Load(files ...string) (Config, error) {
	file_env := map[string]string{}
	if len(files) == 0 {
		env, err := godotenv.Read()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, &event.ConfigError{Option: ".env", Reason: "unreadable", Err: err}
		}
		if env != nil {
			file_env = env
		}
	} else {
		env, err := godotenv.Read(files...)
		if err != nil {
			return Config{}, &event.ConfigError{Option: strings.Join(files, ","), Reason: "unreadable", Err: err}
		}
		file_env = env
	}

	return FromEnv(func(key string) (string, bool) {
		if val, ok := os.LookupEnv(key); ok {
			return val, true
		}
		val, ok := file_env[key]
		return val, ok
	}, environ(file_env))
}

// environ lists variable names from the process and the .env values.
func environ(file_env map[string]string) []string {
	names := make([]string, 0, len(file_env))
	for k := range file_env {
		names = append(names, k)
	}
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok {
			names = append(names, name)
		}
	}
	return names
}

// FromEnv builds a Config from lookup. names lists the variables available,
// used to discover name pattern templates.
func FromEnv(lookup func(string) (string, bool), names []string) (Config, error) {
	cfg := Config{NamePatterns: map[string]string{}}

	if val, ok := lookup(EnvFormat); ok && val != "" {
		format, err := ParseFormat(val)
		if err != nil {
			return Config{}, err
		}
		cfg.Format = format
	}

	if val, ok := lookup(EnvSpillThreshold); ok && val != "" {
		n, err := strconv.Atoi(val)
		if err != nil || n < 0 {
			return Config{}, &event.ConfigError{Option: EnvSpillThreshold, Reason: "must be a non-negative integer", Err: err}
		}
		cfg.SpillThreshold = n
	}

	if val, ok := lookup(EnvTempDir); ok && val != "" {
		info, err := os.Stat(val)
		if err != nil {
			return Config{}, &event.ConfigError{Option: EnvTempDir, Reason: "not accessible", Err: err}
		}
		if !info.IsDir() {
			return Config{}, &event.ConfigError{Option: EnvTempDir, Reason: "not a directory"}
		}
		cfg.TempDir = val
	}

	var err error
	if cfg.KeepScratch, err = parseBool(lookup, EnvKeepScratch); err != nil {
		return Config{}, err
	}
	if cfg.Debug, err = parseBool(lookup, EnvDebug); err != nil {
		return Config{}, err
	}

	cfg.ContainerProperty, _ = lookup(EnvContainerProp)

	policy, _ := lookup(EnvRecordErrors)
	if cfg.ErrorPolicy, err = event.ParseErrorPolicy(policy); err != nil {
		return Config{}, err
	}

	for _, name := range names {
		kind, ok := strings.CutPrefix(name, EnvNamePattern)
		if !ok || kind == "" {
			continue
		}
		if text, ok := lookup(name); ok && text != "" {
			cfg.NamePatterns[strings.ToLower(kind)] = text
		}
	}

	// Templates are validated here so a bad one fails before any output exists.
	if _, err := cfg.Naming(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseBool(lookup func(string) (string, bool), key string) (bool, error) {
	val, ok := lookup(key)
	if !ok || val == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, &event.ConfigError{Option: key, Reason: "must be a boolean", Err: err}
	}
	return b, nil
}

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatXML:
		return FormatXML, nil
	case FormatGDB:
		return FormatGDB, nil
	}
	return "", &event.ConfigError{Option: EnvFormat, Reason: "expected xml or gdb, got " + strconv.Quote(s)}
}

// FormatFor returns the configured format, or guesses it from the output
// name: .xml gives an XML workspace, anything else a table package.
func (c Config) FormatFor(output string) Format {
	if c.Format != "" {
		return c.Format
	}
	if strings.EqualFold(filepath.Ext(output), ".xml") {
		return FormatXML
	}
	return FormatGDB
}

// Naming returns the pattern strategy when templates are configured and the
// basic strategy otherwise.
func (c Config) Naming() (naming.Strategy, error) {
	if len(c.NamePatterns) == 0 {
		return naming.Basic{}, nil
	}
	return naming.NewPattern(c.NamePatterns)
}

func (c Config) XMLOptions(ctx context.Context, logger *zap.Logger) (xmlws.Options, error) {
	strategy, err := c.Naming()
	if err != nil {
		return xmlws.Options{}, err
	}
	return xmlws.Options{
		Naming:         strategy,
		SpillThreshold: c.SpillThreshold,
		TempDir:        c.TempDir,
		Indent:         true,
		ErrorPolicy:    c.ErrorPolicy,
		Logger:         logger,
		Context:        ctx,
	}, nil
}

func (c Config) TableOptions(ctx context.Context, logger *zap.Logger) (gdbtable.Options, error) {
	strategy, err := c.Naming()
	if err != nil {
		return gdbtable.Options{}, err
	}
	return gdbtable.Options{
		Naming:      strategy,
		TempDir:     c.TempDir,
		KeepScratch: c.KeepScratch,
		ErrorPolicy: c.ErrorPolicy,
		Logger:      logger,
		Context:     ctx,
	}, nil
}
