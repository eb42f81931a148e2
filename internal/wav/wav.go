// Package wav implements the minimal RIFF reader for single-shot decodes.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrNotWAV is returned when the file is not a RIFF/WAVE container.
	ErrNotWAV = errors.New("not a valid WAV file")
	// ErrNoDataChunk is returned when the container has no data chunk.
	ErrNoDataChunk = errors.New("no data chunk in WAV file")
	// ErrUnsupportedFormat is returned for anything but 16-bit PCM.
	ErrUnsupportedFormat = errors.New("unsupported WAV format")
)

// Info describes the decoded file for diagnostics.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataBytes     int
}

// ReadFile reads up to maxSamples mono samples from a WAV file. Stereo
// files are folded to their left channel.
func ReadFile(path string, maxSamples int) ([]int16, Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Info{}, fmt.Errorf("open WAV file: %w", err)
	}
	defer f.Close()

	return Read(f, maxSamples)
}

// Read parses a WAV stream and returns its samples.
func Read(r io.Reader, maxSamples int) ([]int16, Info, error) {
	var riff struct {
		ID   [4]byte
		Size uint32
		Form [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return nil, Info{}, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff.ID[:]) != "RIFF" || string(riff.Form[:]) != "WAVE" {
		return nil, Info{}, ErrNotWAV
	}

	var info Info
	haveFmt := false

	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, Info{}, ErrNoDataChunk
			}
			return nil, Info{}, fmt.Errorf("read chunk header: %w", err)
		}

		switch string(chunk.ID[:]) {
		case "fmt ":
			var f struct {
				AudioFormat   uint16
				NumChannels   uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
				return nil, Info{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			if extra := int64(chunk.Size) - 16; extra > 0 {
				if err := skip(r, extra); err != nil {
					return nil, Info{}, err
				}
			}
			if f.AudioFormat != 1 || f.BitsPerSample != 16 || f.NumChannels == 0 || f.NumChannels > 2 {
				return nil, Info{}, fmt.Errorf("%w: format %d, %d channels, %d bits",
					ErrUnsupportedFormat, f.AudioFormat, f.NumChannels, f.BitsPerSample)
			}
			info.SampleRate = int(f.SampleRate)
			info.Channels = int(f.NumChannels)
			info.BitsPerSample = int(f.BitsPerSample)
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, Info{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}
			info.DataBytes = int(chunk.Size)
			samples, err := readData(r, chunk.Size, info.Channels, maxSamples)
			if err != nil {
				return nil, Info{}, err
			}
			return samples, info, nil

		default:
			if err := skip(r, int64(chunk.Size)); err != nil {
				return nil, Info{}, err
			}
		}
	}
}

func readData(r io.Reader, size uint32, channels, maxSamples int) ([]int16, error) {
	frames := int(size) / (2 * channels)
	if frames > maxSamples {
		frames = maxSamples
	}

	raw := make([]byte, frames*2*channels)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read audio data: %w", err)
	}

	samples := make([]int16, frames)
	stride := 2 * channels
	for i := 0; i < frames; i++ {
		// Left channel only for stereo input.
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*stride:]))
	}
	return samples, nil
}

func skip(r io.Reader, n int64) error {
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("skip chunk: %w", err)
	}
	return nil
}
