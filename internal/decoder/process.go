// Package decoder manages the external jt9 process and the per-cycle
// request/response handshake against the shared command block.
package decoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Process wraps a running jt9 decoder. Its stdout and stderr are merged
// into one line channel; the decoder interleaves decoded messages and
// status text on both.
type Process struct {
	cmd    *exec.Cmd
	lines  chan string
	logger *logrus.Logger
}

// StartProcess launches the jt9 binary attached to the named shared
// memory segment.
func StartProcess(path, shmKey, tempDir string, logger *logrus.Logger) (*Process, error) {
	args := []string{
		"-s", shmKey,
		"-w", "1",
		"-m", "1",
		"-e", ".",
		"-a", ".",
		"-t", tempDir,
	}
	logger.WithFields(logrus.Fields{
		"binary": path,
		"shm":    shmKey,
	}).Info("Starting jt9 decoder")

	cmd := exec.Command(path, args...) // #nosec G204 - args are internally constructed

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start jt9: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		lines:  make(chan string, 256),
		logger: logger,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go p.scan(stdout, &wg)
	go p.scan(stderr, &wg)
	go func() {
		wg.Wait()
		close(p.lines)
	}()

	return p, nil
}

func (p *Process) scan(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		p.logger.WithError(err).Debug("jt9 output pipe closed")
	}
}

// Lines returns the merged output stream. The channel is closed once the
// process has closed both pipes.
func (p *Process) Lines() <-chan string {
	return p.lines
}

// Close waits for the decoder to exit after the terminate signal has been
// written to the shared block, killing it if it does not leave within the
// timeout. It must be called on every exit path so the decoder is never
// orphaned.
func (p *Process) Close(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- p.cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				p.logger.WithField("code", exitErr.ExitCode()).Info("jt9 exited")
				return nil
			}
			return fmt.Errorf("jt9 process error: %w", err)
		}
		p.logger.Info("jt9 exited cleanly")
		return nil
	case <-time.After(timeout):
		p.logger.Warn("jt9 did not exit cleanly, killing")
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill jt9: %w", err)
		}
		<-done
		return nil
	}
}
