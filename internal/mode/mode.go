// Package mode defines the supported digital mode configurations.
package mode

import (
	"errors"
	"fmt"
	"strings"
)

// SampleRate is the fixed receive sample rate in Hz expected by jt9.
const SampleRate = 12000

// MaxBufferSeconds is the longest audio window the shared block can hold.
const MaxBufferSeconds = 60

// Config describes one digital mode. Values are fixed protocol constants,
// kept in sync with the jt9 decoder's mode table.
type Config struct {
	Code        int    // jt9 mode code
	CycleMillis int    // cycle time in milliseconds
	Symbols     int    // symbol count (ihsym)
	Name        string // display name
}

var (
	// FT2 is the 3.75 second experimental mode.
	FT2 = Config{Code: 52, CycleMillis: 3750, Symbols: 105, Name: "FT2"}
	// FT4 is the 7.5 second contest mode.
	FT4 = Config{Code: 5, CycleMillis: 7500, Symbols: 105, Name: "FT4"}
	// FT8 is the 15 second mode.
	FT8 = Config{Code: 8, CycleMillis: 15000, Symbols: 50, Name: "FT8"}
)

// ErrUnknownMode is returned when the requested mode name is not recognised.
var ErrUnknownMode = errors.New("unknown mode")

// Lookup resolves a mode name (case-insensitive) to its configuration.
func Lookup(name string) (Config, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "FT2":
		return FT2, nil
	case "FT4":
		return FT4, nil
	case "FT8":
		return FT8, nil
	default:
		return Config{}, fmt.Errorf("%w: %q (valid modes: FT2, FT4, FT8)", ErrUnknownMode, name)
	}
}

// SamplesPerCycle returns the number of samples covering one full cycle.
func (c Config) SamplesPerCycle() int {
	return SampleRate * c.CycleMillis / 1000
}

// TRPeriodSeconds returns the transmit/receive period in whole seconds.
func (c Config) TRPeriodSeconds() int {
	return c.CycleMillis / 1000
}
