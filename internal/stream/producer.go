// Package stream feeds the ring buffer from a raw PCM byte source.
package stream

import (
	"encoding/binary"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/savid/ft8-decoder/internal/ring"
)

// readBlockSamples is the number of samples requested per read.
const readBlockSamples = 4096

// emptyReadBackoff bounds the retry delay after a zero-byte read that is
// not end-of-stream, so the loop never busy-spins.
const emptyReadBackoff = 10 * time.Millisecond

// Producer continuously reads little-endian 16-bit mono samples from a
// byte source and appends them to the ring buffer. It runs on its own
// goroutine, independent of the decode loop's cadence, and never blocks
// the consumer.
type Producer struct {
	src     io.Reader
	buf     *ring.Buffer
	logger  *logrus.Logger
	stopped atomic.Bool
	running atomic.Bool
	done    chan struct{}
	readErr error
}

// NewProducer creates a producer feeding buf from src.
func NewProducer(src io.Reader, buf *ring.Buffer, logger *logrus.Logger) *Producer {
	return &Producer{
		src:    src,
		buf:    buf,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the read loop in a goroutine.
func (p *Producer) Start() {
	p.running.Store(true)
	go p.run()
}

func (p *Producer) run() {
	defer close(p.done)
	defer p.running.Store(false)

	raw := make([]byte, readBlockSamples*2)
	samples := make([]int16, readBlockSamples)
	pending := 0 // carried byte count when a read splits a sample

	for !p.stopped.Load() {
		n, err := p.src.Read(raw[pending:])
		n += pending
		pending = 0

		if n >= 2 {
			count := n / 2
			for i := 0; i < count; i++ {
				samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
			}
			p.buf.Append(samples[:count])

			if n%2 == 1 {
				raw[0] = raw[n-1]
				pending = 1
			}
		} else if n == 1 {
			pending = 1
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				p.logger.Info("Audio input reached end of stream")
			} else if p.stopped.Load() {
				// The source was closed out from under us to unblock a
				// pending read during shutdown.
				p.logger.Debug("Audio input closed during stop")
			} else {
				p.readErr = err
				p.logger.WithError(err).Error("Audio input read failed")
			}
			return
		}

		if n == 0 {
			time.Sleep(emptyReadBackoff)
		}
	}
}

// Running reports whether the read loop is still active. The decode loop
// polls this rather than being interrupted synchronously.
func (p *Producer) Running() bool {
	return p.running.Load()
}

// Stop requests a cooperative stop at the next read-loop iteration.
func (p *Producer) Stop() {
	p.stopped.Store(true)
}

// Wait blocks until the read loop has fully exited. Callers must wait
// before releasing the ring buffer.
func (p *Producer) Wait() {
	<-p.done
}

// Err returns the read error that terminated the loop, or nil for a
// clean end of stream or cooperative stop.
func (p *Producer) Err() error {
	return p.readErr
}
