// Package pipeline orchestrates the streaming decode loop: warm-up,
// UTC boundary alignment, one handshake per cycle, and ordered shutdown.
package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/savid/ft8-decoder/internal/clock"
	"github.com/savid/ft8-decoder/internal/decoder"
	"github.com/savid/ft8-decoder/internal/mode"
	"github.com/savid/ft8-decoder/internal/ring"
	"github.com/savid/ft8-decoder/internal/stream"
)

// Pipeline runs the continuous decode loop for one mode. A single
// instance drives a single producer and decoder for the process lifetime;
// it is not re-entrant.
type Pipeline struct {
	mode      mode.Config
	buf       *ring.Buffer
	producer  *stream.Producer
	handshake *decoder.Handshake
	logger    *logrus.Logger

	warmupPoll time.Duration
	alignSkip  time.Duration
	retryDelay time.Duration
	now        func() time.Time
}

// New creates a pipeline over an already-constructed producer and
// handshake driver.
func New(m mode.Config, buf *ring.Buffer, producer *stream.Producer, handshake *decoder.Handshake, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		mode:       m,
		buf:        buf,
		producer:   producer,
		handshake:  handshake,
		logger:     logger,
		warmupPoll: 100 * time.Millisecond,
		alignSkip:  100 * time.Millisecond,
		retryDelay: 100 * time.Millisecond,
		now:        time.Now,
	}
}

func (p *Pipeline) cycle() time.Duration {
	return time.Duration(p.mode.CycleMillis) * time.Millisecond
}

// Run executes the decode loop until the producer terminates or the
// context is cancelled, then shuts down in order: stop and join the
// producer, then send the decoder its terminate signal. Exactly one
// snapshot is submitted per cycle boundary, never pipelined.
func (p *Pipeline) Run(ctx context.Context) error {
	samplesPerCycle := p.mode.SamplesPerCycle()

	p.logger.WithFields(logrus.Fields{
		"mode":    p.mode.Name,
		"cycle":   p.cycle(),
		"samples": samplesPerCycle,
	}).Info("Starting stream decode loop")

	p.producer.Start()
	loopErr := p.runLoop(ctx, samplesPerCycle)
	p.shutdown()

	if loopErr != nil {
		return loopErr
	}
	// Safe to read only after the producer has been joined.
	return p.producer.Err()
}

func (p *Pipeline) runLoop(ctx context.Context, samplesPerCycle int) error {
	// Warm up: the first decode needs a full cycle of audio.
	for p.buf.TotalWritten() < int64(samplesPerCycle) {
		if !p.producer.Running() || !sleepCtx(ctx, p.warmupPoll) {
			return nil
		}
	}

	// Align to the next UTC boundary. Skip the sleep when the remainder
	// is small enough that sleeping would overshoot the boundary.
	if wait := clock.UntilNextBoundary(p.now(), p.cycle()); wait > p.alignSkip {
		p.logger.WithField("wait", wait).Info("Waiting for cycle boundary")
		if !sleepCtx(ctx, wait) {
			return nil
		}
	}

	p.logger.Info("Entering decode loop")

	for p.producer.Running() {
		if wait := clock.UntilNextBoundary(p.now(), p.cycle()); wait > 10*time.Millisecond {
			if !sleepCtx(ctx, wait) {
				return nil
			}
		}

		// Should not regress once warmed up, but a snapshot of an
		// underfilled buffer would decode garbage.
		if p.buf.TotalWritten() < int64(samplesPerCycle) {
			p.logger.Warn("Buffer underfilled at boundary, skipping cycle")
			if !sleepCtx(ctx, p.retryDelay) {
				return nil
			}
			continue
		}

		snapshot, err := p.buf.Snapshot(samplesPerCycle)
		if err != nil {
			return err
		}

		if err := p.handshake.Run(snapshot, clock.NUTC(p.now())); err != nil {
			return err
		}
	}

	return nil
}

// shutdown stops the producer and joins it before the terminate signal is
// sent, so no audio arrives after termination is requested.
func (p *Pipeline) shutdown() {
	p.producer.Stop()
	p.producer.Wait()
	p.handshake.Terminate()
	p.logger.Info("Decode loop stopped")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
