package decoder

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/savid/ft8-decoder/internal/mode"
	"github.com/savid/ft8-decoder/internal/shm"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testSegment(t *testing.T, suffix string) *shm.Segment {
	t.Helper()
	seg, err := shm.Create(fmt.Sprintf("ft8decode-hstest-%d-%s", os.Getpid(), suffix))
	if err != nil {
		t.Fatalf("Create shm failed: %v", err)
	}
	t.Cleanup(func() { seg.Close() })
	return seg
}

func fastHandshake(seg *shm.Segment, lines <-chan string, results *bytes.Buffer) *Handshake {
	return NewHandshake(seg, lines, Request{Mode: mode.FT8, Depth: 3, FreqLow: 200, FreqHigh: 5000}, results, nil, testLogger()).
		WithTiming(Timing{PollInterval: 2 * time.Millisecond, Settle: 5 * time.Millisecond, MaxWait: 200 * time.Millisecond})
}

// fakeDecoder simulates jt9: it watches the block for decode requests,
// emits output lines, clears the busy field and verifies the previous
// request was acknowledged before the next one arrives.
type fakeDecoder struct {
	seg         *shm.Segment
	lines       chan string
	output      []string
	submissions atomic.Int32
	ackViolated atomic.Bool
	done        chan struct{}
}

func startFakeDecoder(seg *shm.Segment, output []string) *fakeDecoder {
	f := &fakeDecoder{
		seg:    seg,
		lines:  make(chan string, 64),
		output: output,
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *fakeDecoder) run() {
	defer close(f.done)
	defer close(f.lines)
	for {
		// Wait for a decode request.
		for {
			var cmd int32
			f.seg.WithLock(func(b *shm.Block) {
				cmd = b.Ipc[shm.IpcCommand]
			})
			if cmd == shm.CommandTerminate {
				return
			}
			if cmd == shm.CommandDecode {
				break
			}
			time.Sleep(time.Millisecond)
		}

		f.submissions.Add(1)
		for _, line := range f.output {
			f.lines <- line
		}
		f.seg.WithLock(func(b *shm.Block) {
			b.Ipc[shm.IpcCommand] = shm.CommandDone
		})

		// The block must be acknowledged before the next request.
		for {
			var cmd, ack int32
			f.seg.WithLock(func(b *shm.Block) {
				cmd = b.Ipc[shm.IpcCommand]
				ack = b.Ipc[shm.IpcAck]
			})
			if cmd == shm.CommandTerminate {
				return
			}
			if cmd == shm.CommandDecode {
				f.ackViolated.Store(true)
				break
			}
			if ack == shm.AckDone {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func TestHandshakeRelaysClassifiedOutput(t *testing.T) {
	seg := testSegment(t, "relay")
	fake := startFakeDecoder(seg, []string{
		"151200 -10 0.1  500 CQ TEST AB1CD FN42",
		"<DecodeFinished>",
		"",
		"151200  -8 0.2 1200 K1ABC W9XYZ RR73",
	})

	var results bytes.Buffer
	h := fastHandshake(seg, fake.lines, &results)
	h.Prepare()

	snapshot := make([]int16, mode.FT8.SamplesPerCycle())
	snapshot[0] = 42
	if err := h.Run(snapshot, 1512); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	out := results.String()
	if !strings.Contains(out, "CQ TEST AB1CD FN42") {
		t.Errorf("first decode missing from results: %q", out)
	}
	if !strings.Contains(out, "K1ABC W9XYZ RR73") {
		t.Errorf("second decode missing from results: %q", out)
	}
	if strings.Contains(out, "DecodeFinished") {
		t.Errorf("diagnostic leaked into results: %q", out)
	}

	seg.WithLock(func(b *shm.Block) {
		if b.Params.NUTC != 1512 {
			t.Errorf("NUTC = %d, expected 1512", b.Params.NUTC)
		}
		if b.Params.KIn != int32(len(snapshot)) {
			t.Errorf("KIn = %d, expected %d", b.Params.KIn, len(snapshot))
		}
		if b.Audio[0] != 42 {
			t.Errorf("snapshot not copied into audio region")
		}
		if b.Ipc[shm.IpcAck] != shm.AckDone {
			t.Errorf("request not acknowledged, ack = %d", b.Ipc[shm.IpcAck])
		}
	})

	h.Terminate()
	<-fake.done
}

func TestHandshakeOneOutstandingRequest(t *testing.T) {
	seg := testSegment(t, "serial")
	fake := startFakeDecoder(seg, []string{"151200 -10 0.1  500 CQ TEST AB1CD FN42"})

	var results bytes.Buffer
	h := fastHandshake(seg, fake.lines, &results)
	h.Prepare()

	const n = 5
	snapshot := make([]int16, 1000)
	for i := 0; i < n; i++ {
		if err := h.Run(snapshot, 1200+i); err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
	}

	h.Terminate()
	<-fake.done

	if got := fake.submissions.Load(); got != n {
		t.Errorf("decoder saw %d submissions, expected %d", got, n)
	}
	if fake.ackViolated.Load() {
		t.Error("a submission began before the previous one was acknowledged")
	}
	if got := strings.Count(results.String(), "\n"); got != n {
		t.Errorf("results sink has %d lines, expected %d", got, n)
	}
}

func TestHandshakeSoftTimeout(t *testing.T) {
	seg := testSegment(t, "timeout")

	// No decoder: the busy field is never cleared.
	lines := make(chan string)
	var results bytes.Buffer
	h := fastHandshake(seg, lines, &results).WithTiming(Timing{MaxWait: 30 * time.Millisecond})

	start := time.Now()
	if err := h.Run(make([]int16, 100), 900); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < h.maxWait {
		t.Errorf("Run returned after %v, before the maximum wait", elapsed)
	}

	// The soft-timeout path still acknowledges so the block is reusable.
	seg.WithLock(func(b *shm.Block) {
		if b.Ipc[shm.IpcAck] != shm.AckDone {
			t.Errorf("soft timeout did not acknowledge, ack = %d", b.Ipc[shm.IpcAck])
		}
	})
}

func TestHandshakeSnapshotTooLarge(t *testing.T) {
	seg := testSegment(t, "toolarge")
	var results bytes.Buffer
	h := fastHandshake(seg, make(chan string), &results)

	if err := h.Run(make([]int16, shm.AudioCapacity+1), 0); err == nil {
		t.Error("oversized snapshot should be rejected")
	}
}

func TestTerminateIsOneShot(t *testing.T) {
	seg := testSegment(t, "term")
	var results bytes.Buffer
	h := fastHandshake(seg, make(chan string), &results)

	h.Terminate()
	// A second call must not rewrite the field after the decoder might
	// have reset it.
	seg.WithLock(func(b *shm.Block) {
		b.Ipc[shm.IpcCommand] = shm.CommandDone
	})
	h.Terminate()

	seg.WithLock(func(b *shm.Block) {
		if b.Ipc[shm.IpcCommand] != shm.CommandDone {
			t.Errorf("second Terminate rewrote the command field to %d", b.Ipc[shm.IpcCommand])
		}
	})
}

func TestFinalDrainStopsAtClose(t *testing.T) {
	seg := testSegment(t, "drain")
	lines := make(chan string, 4)
	lines <- "151200 -10 0.1  500 CQ TEST AB1CD FN42"
	lines <- "<DecodeFinished>"
	close(lines)

	var results bytes.Buffer
	h := fastHandshake(seg, lines, &results)
	h.FinalDrain(time.Second)

	if !strings.Contains(results.String(), "CQ TEST AB1CD FN42") {
		t.Errorf("final drain dropped a result line: %q", results.String())
	}
}
