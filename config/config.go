// Package config provides configuration management for the FT8 decoder pipeline.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

var (
	// ErrJT9PathRequired is returned when the jt9 binary path is not provided.
	ErrJT9PathRequired = errors.New("jt9 binary path is required")
	// ErrJT9NotFound is returned when the jt9 binary does not exist.
	ErrJT9NotFound = errors.New("jt9 binary not found")
	// ErrInputRequired is returned when neither a WAV file nor stream mode is selected.
	ErrInputRequired = errors.New("no WAV file specified (use -stream for stream mode)")
	// ErrInputConflict is returned when both a WAV file and stream mode are selected.
	ErrInputConflict = errors.New("cannot specify both -stream and a WAV file")
	// ErrInvalidDepth is returned when the decoding depth is outside 1-3.
	ErrInvalidDepth = errors.New("depth must be between 1 and 3")
	// ErrInvalidFreqRange is returned when the decode frequency range is invalid.
	ErrInvalidFreqRange = errors.New("invalid frequency range")
	// ErrInvalidLogLevel is returned when the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

// Config holds the application configuration.
type Config struct {
	JT9Path     string
	Mode        string
	Depth       int
	FreqLow     int
	FreqHigh    int
	Stream      bool
	Multithread bool
	WAVFile     string
	ListenAddr  string
	TempDir     string
	LogLevel    string
}

// New creates a new configuration instance by parsing command-line flags.
func New() (*Config, error) {
	cfg := &Config{}

	flag.StringVar(&cfg.JT9Path, "jt9", "", "Path to the jt9 decoder binary (required)")
	flag.StringVar(&cfg.Mode, "mode", "FT2", "Decode mode: FT2, FT4 or FT8")
	flag.IntVar(&cfg.Depth, "depth", 3, "Decoding depth 1-3")
	flag.IntVar(&cfg.FreqLow, "freq-low", 200, "Low decode frequency limit (Hz)")
	flag.IntVar(&cfg.FreqHigh, "freq-high", 5000, "High decode frequency limit (Hz)")
	flag.BoolVar(&cfg.Stream, "stream", false, "Stream mode: read 12kHz 16-bit mono PCM from stdin")
	flag.BoolVar(&cfg.Multithread, "multithread", false, "Enable multithreaded FT8 decoding (FT8 only)")
	flag.StringVar(&cfg.ListenAddr, "listen", "", "Optional address for the health/feed HTTP server (e.g. :8080)")
	flag.StringVar(&cfg.TempDir, "tmp", os.TempDir(), "Temporary directory passed to jt9")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	if flag.NArg() > 0 {
		cfg.WAVFile = flag.Arg(0)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.JT9Path == "" {
		return ErrJT9PathRequired
	}

	if _, err := os.Stat(c.JT9Path); err != nil {
		return fmt.Errorf("%w: %s", ErrJT9NotFound, c.JT9Path)
	}

	if !c.Stream && c.WAVFile == "" {
		return ErrInputRequired
	}

	if c.Stream && c.WAVFile != "" {
		return ErrInputConflict
	}

	if c.Depth < 1 || c.Depth > 3 {
		return ErrInvalidDepth
	}

	if c.FreqLow < 0 || c.FreqHigh <= c.FreqLow {
		return fmt.Errorf("%w: %d-%d Hz", ErrInvalidFreqRange, c.FreqLow, c.FreqHigh)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("%w: %s (must be debug, info, warn, or error)", ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}
