package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jt9")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("Failed to create fake jt9 binary: %v", err)
	}
	return path
}

func TestValidate(t *testing.T) {
	jt9 := testBinary(t)

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name:    "missing jt9 path",
			cfg:     Config{Stream: true, Depth: 3, FreqLow: 200, FreqHigh: 5000, LogLevel: "info"},
			wantErr: ErrJT9PathRequired,
		},
		{
			name:    "jt9 binary does not exist",
			cfg:     Config{JT9Path: "/nonexistent/jt9", Stream: true, Depth: 3, FreqLow: 200, FreqHigh: 5000, LogLevel: "info"},
			wantErr: ErrJT9NotFound,
		},
		{
			name:    "no input selected",
			cfg:     Config{JT9Path: jt9, Depth: 3, FreqLow: 200, FreqHigh: 5000, LogLevel: "info"},
			wantErr: ErrInputRequired,
		},
		{
			name:    "stream and wav file conflict",
			cfg:     Config{JT9Path: jt9, Stream: true, WAVFile: "x.wav", Depth: 3, FreqLow: 200, FreqHigh: 5000, LogLevel: "info"},
			wantErr: ErrInputConflict,
		},
		{
			name:    "depth too high",
			cfg:     Config{JT9Path: jt9, Stream: true, Depth: 4, FreqLow: 200, FreqHigh: 5000, LogLevel: "info"},
			wantErr: ErrInvalidDepth,
		},
		{
			name:    "inverted frequency range",
			cfg:     Config{JT9Path: jt9, Stream: true, Depth: 3, FreqLow: 5000, FreqHigh: 200, LogLevel: "info"},
			wantErr: ErrInvalidFreqRange,
		},
		{
			name:    "bad log level",
			cfg:     Config{JT9Path: jt9, Stream: true, Depth: 3, FreqLow: 200, FreqHigh: 5000, LogLevel: "verbose"},
			wantErr: ErrInvalidLogLevel,
		},
		{
			name: "valid stream config",
			cfg:  Config{JT9Path: jt9, Stream: true, Depth: 3, FreqLow: 200, FreqHigh: 5000, LogLevel: "info"},
		},
		{
			name: "valid wav config",
			cfg:  Config{JT9Path: jt9, WAVFile: "rec.wav", Depth: 1, FreqLow: 0, FreqHigh: 3000, LogLevel: "debug"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() returned %v, expected no error", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() returned %v, expected %v", err, tt.wantErr)
			}
		})
	}
}
