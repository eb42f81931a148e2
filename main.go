// Package main implements the jt9 decoder driver.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/savid/ft8-decoder/config"
	"github.com/savid/ft8-decoder/handlers"
	"github.com/savid/ft8-decoder/internal/clock"
	"github.com/savid/ft8-decoder/internal/decoder"
	"github.com/savid/ft8-decoder/internal/mode"
	"github.com/savid/ft8-decoder/internal/pipeline"
	"github.com/savid/ft8-decoder/internal/ring"
	"github.com/savid/ft8-decoder/internal/shm"
	"github.com/savid/ft8-decoder/internal/stream"
	"github.com/savid/ft8-decoder/internal/wav"
)

// shmKey names the segment jt9 attaches to with its -s flag.
const shmKey = "JT9DECODE"

func main() {
	// Configure logrus
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	cfg, err := config.New()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// Set log level based on config
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to parse log level")
	}
	logrus.SetLevel(level)

	// Diagnostics go to the logger on stderr; decoded results go to
	// stdout, one per line.
	logger := logrus.StandardLogger()

	m, err := mode.Lookup(cfg.Mode)
	if err != nil {
		logger.WithError(err).Fatal("Invalid mode")
	}

	if err := run(cfg, m, logger); err != nil {
		logger.WithError(err).Fatal("Decoder driver failed")
	}
}

func run(cfg *config.Config, m mode.Config, logger *logrus.Logger) error {
	seg, err := shm.Create(shmKey)
	if err != nil {
		return err
	}
	defer func() {
		if err := seg.Close(); err != nil {
			logger.WithError(err).Error("Failed to release shared memory")
		}
	}()

	logger.WithFields(logrus.Fields{
		"key":  seg.Key(),
		"size": shm.BlockSize,
	}).Info("Shared memory created")

	proc, err := decoder.StartProcess(cfg.JT9Path, seg.Key(), cfg.TempDir, logger)
	if err != nil {
		return err
	}

	var feed *handlers.FeedHandler
	var pub decoder.Publisher
	if cfg.ListenAddr != "" {
		feed = handlers.NewFeedHandler(logger)
		defer feed.Close()
		pub = feed
	}

	req := decoder.Request{
		Mode:        m,
		Depth:       cfg.Depth,
		FreqLow:     cfg.FreqLow,
		FreqHigh:    cfg.FreqHigh,
		Multithread: cfg.Multithread && m == mode.FT8,
		DiskData:    !cfg.Stream,
	}
	hs := decoder.NewHandshake(seg, proc.Lines(), req, os.Stdout, pub, logger)
	hs.Prepare()

	logger.WithFields(logrus.Fields{
		"mode":  m.Name,
		"depth": cfg.Depth,
		"freq":  logrus.Fields{"low": cfg.FreqLow, "high": cfg.FreqHigh},
	}).Info("Decoder parameters set")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.ListenAddr != "" {
		server := &http.Server{
			Addr:        cfg.ListenAddr,
			Handler:     setupRoutes(feed, logger),
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 120 * time.Second,
		}
		g.Go(func() error {
			logger.WithField("addr", cfg.ListenAddr).Info("Starting feed server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	var runErr error
	if cfg.Stream {
		runErr = runStream(gctx, m, hs, logger)
	} else {
		runErr = runSingleShot(cfg, hs, logger)
	}

	// Shutdown path for every exit: terminate signal (idempotent), drain
	// what the decoder still has to say, then make sure it is gone.
	hs.Terminate()
	hs.FinalDrain(2 * time.Second)
	if err := proc.Close(5 * time.Second); err != nil {
		logger.WithError(err).Error("Failed to stop jt9")
	}

	cancel()
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Feed server error")
	}

	return runErr
}

// runStream continuously reads PCM from stdin and decodes at UTC-aligned
// cycle boundaries.
func runStream(ctx context.Context, m mode.Config, hs *decoder.Handshake, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"rate":  mode.SampleRate,
		"cycle": m.CycleMillis,
	}).Info("Stream mode: reading 16-bit mono PCM from stdin")

	buf := ring.New(shm.AudioCapacity)
	producer := stream.NewProducer(os.Stdin, buf, logger)

	go func() {
		<-ctx.Done()
		producer.Stop()
		// Unblock a read pending on stdin so the producer can exit.
		os.Stdin.Close()
	}()

	return pipeline.New(m, buf, producer, hs, logger).Run(ctx)
}

// runSingleShot decodes one WAV file and exits.
func runSingleShot(cfg *config.Config, hs *decoder.Handshake, logger *logrus.Logger) error {
	samples, info, err := wav.ReadFile(cfg.WAVFile, shm.AudioCapacity)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"file":     cfg.WAVFile,
		"rate":     info.SampleRate,
		"channels": info.Channels,
		"samples":  len(samples),
	}).Info("WAV file loaded")

	if info.SampleRate != mode.SampleRate {
		logger.WithField("rate", info.SampleRate).Warn("Sample rate is not 12000 Hz, decodes may fail")
	}

	return hs.Run(samples, clock.NUTC(time.Now()))
}

func setupRoutes(feed *handlers.FeedHandler, logger *logrus.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/feed", feed)
	mux.HandleFunc("/health", handlers.HealthHandler)
	return handlers.LoggingMiddleware(logger)(mux)
}
