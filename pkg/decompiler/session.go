/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package decompiler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	pkgerrors "github.com/pkg/errors"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/log"
)

// SessionState models the session lifecycle:
// initializing -> ready <-> busy -> closed, error -> closed on failure.
type SessionState int

const (
	StateInitializing SessionState = iota
	StateReady
	StateBusy
	StateError
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const outputDelimiter = 0x00

type commandRequest struct {
	cmd    string
	respCh chan commandResponse
}

type commandResponse struct {
	data []byte
	err  error
}

// Session owns one disassembler child process. Commands are serialized
// through a single writer goroutine; callers block on a per-command channel.
type Session struct {
	mu       sync.Mutex
	state    SessionState
	binary   string
	filePath string
	ownedTmp string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	requests chan commandRequest
	done     chan struct{}

	cache      *gocache.Cache
	maxRetries int
}

// Open spawns the disassembler against filePath in quiet null-delimited
// mode and waits for the prompt.
func Open(ctx context.Context, binary, filePath string, maxRetries int) (*Session, error) {
	cmd := exec.CommandContext(ctx, binary, "-q0", "-2", filePath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.WrapError(pkgerrors.Wrap(err, "stdin pipe"), "failed to start disassembler", errors.TypeDecompiler)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.WrapError(pkgerrors.Wrap(err, "stdout pipe"), "failed to start disassembler", errors.TypeDecompiler)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.WrapError(pkgerrors.Wrap(err, "exec"), "disassembler unavailable", errors.TypeProviderUnavailable)
	}

	s := &Session{
		state:      StateInitializing,
		binary:     binary,
		filePath:   filePath,
		cmd:        cmd,
		stdin:      stdin,
		stdout:     bufio.NewReaderSize(stdout, 1<<20),
		requests:   make(chan commandRequest),
		done:       make(chan struct{}),
		cache:      gocache.New(gocache.NoExpiration, 0),
		maxRetries: maxRetries,
	}

	// -q0 emits one delimiter once the file is loaded
	if _, err := s.stdout.ReadBytes(outputDelimiter); err != nil {
		_ = s.terminate()
		return nil, errors.WrapError(pkgerrors.Wrap(err, "read banner"), "disassembler failed to open file", errors.TypeDecompiler)
	}

	go s.writerLoop()

	s.mu.Lock()
	s.state = StateReady
	s.mu.Unlock()
	return s, nil
}

// writerLoop is the single writer to the child's stdin. It pairs each
// command with the next delimiter-terminated chunk of stdout.
func (s *Session) writerLoop() {
	for {
		select {
		case <-s.done:
			return
		case req := <-s.requests:
			if _, err := fmt.Fprintln(s.stdin, req.cmd); err != nil {
				req.respCh <- commandResponse{err: pkgerrors.Wrap(err, "write command")}
				s.fail()
				return
			}
			data, err := s.stdout.ReadBytes(outputDelimiter)
			if err != nil {
				req.respCh <- commandResponse{err: pkgerrors.Wrap(err, "read output")}
				s.fail()
				return
			}
			req.respCh <- commandResponse{data: data[:len(data)-1]}
		}
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run executes one command with a deadline. Only a ready session accepts
// commands. JSON results are retried with backoff on parse failures and
// cached per (command, expectJSON) for the session lifetime.
func (s *Session) Run(ctx context.Context, cmd string, timeout time.Duration, expectJSON bool) ([]byte, error) {
	cacheKey := fmt.Sprintf("%s|%t", cmd, expectJSON)
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.([]byte), nil
	}

	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return nil, errors.NewDecompiler("session not ready").WithDetail("state", state.String())
	}
	s.state = StateBusy
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state == StateBusy {
			s.state = StateReady
		}
		s.mu.Unlock()
	}()

	attempts := s.maxRetries + 1
	if !expectJSON {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * 200 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		data, err := s.runOnce(ctx, cmd, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		if expectJSON && !json.Valid(data) {
			lastErr = errors.NewDecompiler("invalid JSON output").WithDetail("command", cmd)
			log.Debugf("disassembler returned invalid JSON for %q, attempt %d", cmd, attempt)
			continue
		}
		s.cache.Set(cacheKey, data, gocache.NoExpiration)
		return data, nil
	}
	return nil, lastErr
}

func (s *Session) runOnce(ctx context.Context, cmd string, timeout time.Duration) ([]byte, error) {
	respCh := make(chan commandResponse, 1)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.requests <- commandRequest{cmd: cmd, respCh: respCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errors.NewDecompiler("session closed")
	case <-timer.C:
		return nil, errors.NewTimeout("command timed out").WithDetail("command", cmd)
	}

	select {
	case resp := <-respCh:
		if resp.err != nil {
			return nil, errors.WrapError(resp.err, "command failed", errors.TypeDecompiler)
		}
		return resp.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		// the writer is stuck on this command; the session cannot be reused
		s.fail()
		return nil, errors.NewTimeout("command timed out").WithDetail("command", cmd)
	}
}

// RunJSON runs a command and unmarshals its output into target.
func (s *Session) RunJSON(ctx context.Context, cmd string, timeout time.Duration, target interface{}) error {
	data, err := s.Run(ctx, cmd, timeout, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return errors.WrapError(err, "parse disassembler output", errors.TypeDecompiler).
			WithDetail("command", cmd)
	}
	return nil
}

func (s *Session) fail() {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = StateError
	}
	s.mu.Unlock()
}

// AdoptTempFile registers a temp file the adapter created; it is removed
// on Close.
func (s *Session) AdoptTempFile(path string) {
	s.mu.Lock()
	s.ownedTmp = path
	s.mu.Unlock()
}

// Close terminates the child process and removes any owned temp file.
// Safe to call from any state and more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	ownedTmp := s.ownedTmp
	s.mu.Unlock()

	close(s.done)
	err := s.terminate()

	if ownedTmp != "" {
		if rmErr := os.Remove(ownedTmp); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warnf("failed to remove temp file %s: %v", ownedTmp, rmErr)
		}
	}
	return err
}

func (s *Session) terminate() error {
	_ = s.stdin.Close()

	waited := make(chan error, 1)
	go func() { waited <- s.cmd.Wait() }()

	select {
	case <-waited:
		return nil
	case <-time.After(3 * time.Second):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-waited
		return nil
	}
}
