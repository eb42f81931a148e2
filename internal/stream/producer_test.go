package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/savid/ft8-decoder/internal/ring"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestProducerAppendsAllSamples(t *testing.T) {
	samples := make([]int16, 10000)
	for i := range samples {
		samples[i] = int16(i)
	}

	buf := ring.New(len(samples))
	p := NewProducer(bytes.NewReader(pcmBytes(samples)), buf, testLogger())
	p.Start()
	p.Wait()

	if p.Running() {
		t.Error("Producer still running after Wait")
	}
	if p.Err() != nil {
		t.Errorf("Clean EOF should not report an error, got %v", p.Err())
	}
	if buf.TotalWritten() != int64(len(samples)) {
		t.Fatalf("TotalWritten() = %d, expected %d", buf.TotalWritten(), len(samples))
	}

	got, err := buf.Snapshot(len(samples))
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	for i, v := range got {
		if v != samples[i] {
			t.Fatalf("sample %d = %d, expected %d", i, v, samples[i])
		}
	}
}

// oneByteReader forces sample pairs to be split across reads.
type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func TestProducerSplitSampleReads(t *testing.T) {
	samples := []int16{100, -200, 300, -400, 32767, -32768}

	buf := ring.New(16)
	p := NewProducer(&oneByteReader{data: pcmBytes(samples)}, buf, testLogger())
	p.Start()
	p.Wait()

	got, err := buf.Snapshot(len(samples))
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	for i, v := range got {
		if v != samples[i] {
			t.Errorf("sample %d = %d, expected %d", i, v, samples[i])
		}
	}
}

func TestProducerReportsReadError(t *testing.T) {
	readErr := errors.New("device gone")
	r := io.MultiReader(bytes.NewReader(pcmBytes([]int16{1, 2})), &failReader{err: readErr})

	buf := ring.New(16)
	p := NewProducer(r, buf, testLogger())
	p.Start()
	p.Wait()

	if !errors.Is(p.Err(), readErr) {
		t.Errorf("Err() = %v, expected the read error", p.Err())
	}
}

type failReader struct {
	err error
}

func (r *failReader) Read([]byte) (int, error) {
	return 0, r.err
}

// blockThenEOF returns data on the first read, then blocks until stopped.
type blockThenEOF struct {
	data    []byte
	sent    bool
	unblock chan struct{}
}

func (r *blockThenEOF) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		n := copy(p, r.data)
		return n, nil
	}
	<-r.unblock
	return 0, io.EOF
}

func TestProducerCooperativeStop(t *testing.T) {
	r := &blockThenEOF{data: pcmBytes([]int16{1, 2, 3}), unblock: make(chan struct{})}
	buf := ring.New(16)
	p := NewProducer(r, buf, testLogger())
	p.Start()

	// Let the first block land.
	deadline := time.Now().Add(2 * time.Second)
	for buf.TotalWritten() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if buf.TotalWritten() != 3 {
		t.Fatalf("first block never arrived, TotalWritten() = %d", buf.TotalWritten())
	}

	p.Stop()
	close(r.unblock)
	p.Wait()

	if p.Running() {
		t.Error("Producer still running after stop and Wait")
	}
	if p.Err() != nil {
		t.Errorf("Cooperative stop should not report an error, got %v", p.Err())
	}
}
