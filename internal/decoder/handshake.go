package decoder

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/savid/ft8-decoder/internal/mode"
	"github.com/savid/ft8-decoder/internal/shm"
)

// Default handshake timing. One request is outstanding at a time; the
// block has no request identity field, so pipelining is impossible.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMaxWait      = 10 * time.Second
	DefaultSettle       = 500 * time.Millisecond
)

// Publisher receives result lines as they are classified, in addition to
// the results writer. Used for the live feed.
type Publisher interface {
	Publish(line string)
}

// Request carries the static decode parameters written into the shared
// block once at startup.
type Request struct {
	Mode        mode.Config
	Depth       int
	FreqLow     int
	FreqHigh    int
	Multithread bool
	DiskData    bool
}

// Handshake drives one request/response cycle per invocation against the
// shared command block.
type Handshake struct {
	seg     *shm.Segment
	lines   <-chan string
	req     Request
	results io.Writer
	feed    Publisher
	logger  *logrus.Logger

	pollInterval time.Duration
	maxWait      time.Duration
	settle       time.Duration

	linesClosed bool
	termOnce    sync.Once
}

// NewHandshake creates a handshake driver over the given segment and
// decoder output stream. feed may be nil.
func NewHandshake(seg *shm.Segment, lines <-chan string, req Request, results io.Writer, feed Publisher, logger *logrus.Logger) *Handshake {
	return &Handshake{
		seg:          seg,
		lines:        lines,
		req:          req,
		results:      results,
		feed:         feed,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		maxWait:      DefaultMaxWait,
		settle:       DefaultSettle,
	}
}

// Timing overrides the handshake poll cadence and bounded waits. Zero
// fields keep their defaults.
type Timing struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	Settle       time.Duration
}

// WithTiming applies non-zero timing overrides and returns the handshake.
func (h *Handshake) WithTiming(t Timing) *Handshake {
	if t.PollInterval != 0 {
		h.pollInterval = t.PollInterval
	}
	if t.MaxWait != 0 {
		h.maxWait = t.MaxWait
	}
	if t.Settle != 0 {
		h.settle = t.Settle
	}
	return h
}

// Prepare writes the static decode parameters into the block. Called once
// before the first request.
func (h *Handshake) Prepare() {
	h.seg.WithLock(func(b *shm.Block) {
		b.Params.Mode = int32(h.req.Mode.Code)
		b.Params.TRPeriod = int32(h.req.Mode.TRPeriodSeconds())
		b.Params.Depth = int32(h.req.Depth)
		b.Params.FreqLow = int32(h.req.FreqLow)
		b.Params.FreqHigh = int32(h.req.FreqHigh)
		if h.req.Multithread {
			b.Params.MultiFT8 = 1
		}
		if h.req.DiskData {
			b.Params.NDiskDat = 1
		}
		copy(b.Params.MyCall[:], "K1ABC")
		copy(b.Params.MyGrid[:], "FN20")
	})
}

// Run submits one snapshot for decoding and relays the decoder's output
// until it signals completion and settles, or the bounded wait runs out.
// A silent or slow cycle is a soft timeout, never a fatal error.
func (h *Handshake) Run(snapshot []int16, nutc int) error {
	if len(snapshot) > shm.AudioCapacity {
		return fmt.Errorf("snapshot of %d samples exceeds audio region %d", len(snapshot), shm.AudioCapacity)
	}

	h.seg.WithLock(func(b *shm.Block) {
		copy(b.Audio[:], snapshot)
		b.Params.NUTC = int32(nutc)
		b.Params.KIn = int32(len(snapshot))
		b.Params.NewDat = 1
		b.Ipc[shm.IpcSymbols] = int32(h.req.Mode.Symbols)
		b.Ipc[shm.IpcCommand] = shm.CommandDecode
		b.Ipc[shm.IpcAck] = shm.AckPending
	})

	h.logger.WithFields(logrus.Fields{
		"nutc":    fmt.Sprintf("%04d", nutc),
		"samples": len(snapshot),
	}).Debug("Submitted decode request")

	start := time.Now()
	var clearedAt time.Time

	for {
		time.Sleep(h.pollInterval)

		// Output arrives incrementally, drain on every tick regardless
		// of the busy state.
		h.drain()

		var done bool
		h.seg.WithLock(func(b *shm.Block) {
			done = b.Ipc[shm.IpcCommand] == shm.CommandDone
		})

		if done && clearedAt.IsZero() {
			clearedAt = time.Now()
		}
		if !clearedAt.IsZero() && time.Since(clearedAt) >= h.settle {
			break
		}
		if time.Since(start) >= h.maxWait {
			h.logger.WithField("waited", h.maxWait).Warn("jt9 did not complete within the maximum wait, continuing")
			break
		}
	}

	h.drain()

	// Hand the block back so the decoder may reuse it.
	h.seg.WithLock(func(b *shm.Block) {
		b.Ipc[shm.IpcAck] = shm.AckDone
	})

	return nil
}

// drain relays all currently available output lines without blocking.
func (h *Handshake) drain() {
	if h.linesClosed {
		return
	}
	for {
		select {
		case raw, ok := <-h.lines:
			if !ok {
				h.linesClosed = true
				return
			}
			h.dispatch(raw)
		default:
			return
		}
	}
}

func (h *Handshake) dispatch(raw string) {
	line, kind := Classify(raw)
	switch kind {
	case KindResult:
		fmt.Fprintln(h.results, line)
		if h.feed != nil {
			h.feed.Publish(line)
		}
	case KindDiagnostic:
		h.logger.WithField("source", "jt9").Info(line)
	}
}

// FinalDrain relays remaining output until the decoder closes its pipes
// or the timeout elapses. Used after the terminate signal.
func (h *Handshake) FinalDrain(timeout time.Duration) {
	if h.linesClosed {
		return
	}
	deadline := time.After(timeout)
	for {
		select {
		case raw, ok := <-h.lines:
			if !ok {
				h.linesClosed = true
				return
			}
			h.dispatch(raw)
		case <-deadline:
			return
		}
	}
}

// Terminate writes the one-shot terminate value to the command field.
// Subsequent calls are no-ops; the transition is not retractable.
func (h *Handshake) Terminate() {
	h.termOnce.Do(func() {
		h.logger.Info("Terminating jt9")
		h.seg.WithLock(func(b *shm.Block) {
			b.Ipc[shm.IpcCommand] = shm.CommandTerminate
		})
	})
}
