package decoder

import "strings"

// Kind is the classification of one decoder output line.
type Kind int

const (
	// KindEmpty marks a blank line, dropped entirely.
	KindEmpty Kind = iota
	// KindResult marks a decoded message destined for the results sink.
	KindResult
	// KindDiagnostic marks status or error output destined for the
	// diagnostics sink.
	KindDiagnostic
)

// resultMinLength is the shortest trimmed line accepted as a result.
// Decoded messages always start with a 6-digit or 4-digit timestamp plus
// SNR, so anything this short is status output.
const resultMinLength = 6

// Classify trims a raw decoder output line and decides where it belongs.
// A result line starts with a digit and is long enough to carry a decode;
// lines opening with '<' are the decoder's informational markers. Each
// line is classified independently at the moment it is read.
func Classify(raw string) (string, Kind) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return "", KindEmpty
	}
	if len(line) > resultMinLength && line[0] >= '0' && line[0] <= '9' && !strings.HasPrefix(line, "<") {
		return line, KindResult
	}
	return line, KindDiagnostic
}
