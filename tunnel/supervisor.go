// Package tunnel provides tunnel provider management functionality.
// This file contains the Supervisor which spawns a tunnel child process,
// watches its output for the public URL, and guarantees exactly one
// terminal outcome per connect attempt.
package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/adlara/tunnel-manager/common"
)

// supervisorState tracks the per-attempt state machine:
// notStarted → spawned → (established | exited | timedOut).
type supervisorState int

const (
	supNotStarted supervisorState = iota
	supSpawned
	supEstablished
	supExited
	supTimedOut
)

// exitError reports a child that exited before establishing a URL.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("process exited with code %d", e.code)
}

func (e *exitError) Unwrap() error {
	return common.ErrUnexpectedTermination
}

// Supervisor spawns and monitors a single tunnel child process. One connect
// attempt may be in flight per instance; a concurrent second attempt is
// rejected. All events for an attempt (output lines, exit, timeout,
// cancellation) are consumed by the single goroutine inside Start, so each
// attempt resolves to exactly one outcome.
type Supervisor struct {
	mu       sync.Mutex
	state    supervisorState
	cmd      *exec.Cmd
	done     chan struct{}
	exited   bool
	exitCode int
	stopping bool
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		state: supNotStarted,
		done:  make(chan struct{}),
	}
}

// Start spawns name with args and waits until a stdout/stderr line matches
// pattern, the process exits, the timeout elapses, or ctx is cancelled.
// On success it returns the matched URL (capture group 1 when the pattern
// has one) and leaves the process running; remaining output is drained in
// the background so the eventual exit is still observed. On timeout or
// cancellation the child is killed before returning; no process is ever
// leaked.
func (s *Supervisor) Start(ctx context.Context, name string, args []string, pattern *regexp.Regexp, timeout time.Duration) (string, error) {
	s.mu.Lock()
	if s.cmd != nil && !s.exited {
		s.mu.Unlock()
		return "", common.ErrAlreadyConnecting
	}

	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.mu.Unlock()
		return "", err
	}

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return "", common.WrapError(err, "failed to start tunnel process")
	}

	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	s.exited = false
	s.exitCode = 0
	s.stopping = false
	s.state = supSpawned
	s.mu.Unlock()

	common.LogDebug("Spawned %s (pid %d)", name, cmd.Process.Pid)

	// Scanner goroutines reassemble partial lines across read buffers
	// before anything is matched.
	lineC := make(chan string, 64)
	var readers sync.WaitGroup
	readers.Add(2)
	go scanLines(stdout, lineC, &readers)
	go scanLines(stderr, lineC, &readers)
	go func() {
		readers.Wait()
		close(lineC)
	}()

	go func() {
		readers.Wait()
		werr := cmd.Wait()
		s.mu.Lock()
		s.exited = true
		s.exitCode = exitCodeOf(werr)
		s.mu.Unlock()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	lines := lineC
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				// Pipes closed but the process may still be running;
				// keep waiting for exit, timeout, or cancellation.
				lines = nil
				continue
			}
			if url := matchURL(pattern, line); url != "" {
				s.setState(supEstablished)
				// Tools keep logging after the URL. Keep consuming so the
				// scanners can reach EOF and the waiter can reap the child.
				go drainLines(lines)
				return url, nil
			}

		case <-done:
			// Prefer a success line that was fully read before the exit
			// was observed; anything still buffered qualifies.
			if url := drainForURL(lines, pattern); url != "" {
				s.setState(supEstablished)
				return url, nil
			}
			s.mu.Lock()
			code := s.exitCode
			s.state = supExited
			s.mu.Unlock()
			return "", &exitError{code: code}

		case <-timer.C:
			s.kill()
			go drainLines(lines)
			<-done
			s.setState(supTimedOut)
			return "", common.ErrTimeout

		case <-ctx.Done():
			s.kill()
			go drainLines(lines)
			<-done
			s.setState(supNotStarted)
			return "", ctx.Err()
		}
	}
}

// Stop terminates the supervised process: graceful signal first, force-kill
// after the grace period. An already-exited process counts as success;
// force-kill never fails the call.
func (s *Supervisor) Stop(ctx context.Context, grace time.Duration) error {
	s.mu.Lock()
	cmd := s.cmd
	done := s.done
	if cmd == nil || cmd.Process == nil || s.exited {
		s.cmd = nil
		s.state = supNotStarted
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case <-done:
	case <-graceTimer.C:
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
	}

	s.mu.Lock()
	s.cmd = nil
	s.state = supNotStarted
	s.mu.Unlock()
	return nil
}

// Done returns a channel closed when the current process exits.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// ExitCode returns the exit code of the last exited process.
func (s *Supervisor) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// WasStopped reports whether the last exit was requested via Stop.
func (s *Supervisor) WasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// Pid returns the supervised process id, or 0 when nothing is running.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *Supervisor) setState(state supervisorState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) kill() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// scanLines forwards whole output lines to out. bufio.Scanner reassembles
// lines that span read buffers.
func scanLines(r io.Reader, out chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// matchURL applies the tool-specific success pattern to one line. When the
// pattern has a capture group the group is the URL, otherwise the whole
// match is.
func matchURL(pattern *regexp.Regexp, line string) string {
	m := pattern.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	if len(m) > 1 && m[1] != "" {
		return m[1]
	}
	return m[0]
}

// drainForURL checks lines already buffered at exit time for a success
// match. It never blocks.
func drainForURL(lines <-chan string, pattern *regexp.Regexp) string {
	if lines == nil {
		return ""
	}
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return ""
			}
			if url := matchURL(pattern, line); url != "" {
				return url
			}
		default:
			return ""
		}
	}
}

// drainLines discards output remaining after an attempt has resolved. The
// line channel is bounded, so without a consumer the scanner goroutines
// would block and the child would never be reaped.
func drainLines(lines <-chan string) {
	if lines == nil {
		return
	}
	for range lines {
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
