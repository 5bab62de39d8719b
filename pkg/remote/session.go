// pkg/remote/session.go

package remote

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/fwerr"
)

// Session binds one host to one temporary key file and at most one transport.
// It is owned by a single caller and must not be used from two goroutines.
// Cleanup must be deferred right after CreateSession succeeds.
type Session struct {
	id          string
	host        config.Host
	keyPath     string
	controlPath string
	runner      *Runner
	logger      zerolog.Logger

	mu      sync.Mutex
	conn    Conn
	entry   *muxEntry
	broken  error
	cleaned bool
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// KeyPath returns the temporary key file location
func (s *Session) KeyPath() string { return s.keyPath }

// ControlPath returns the multiplexing key, empty when the session uses a private connection
func (s *Session) ControlPath() string { return s.controlPath }

// Host returns the host this session targets
func (s *Session) Host() config.Host { return s.host }

// Connect establishes the transport. Execute connects lazily, but callers that must
// distinguish "cannot reach the host" from "command failed" connect explicitly first.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.connLocked(ctx)
	return err
}

func (s *Session) connLocked(ctx context.Context) (Conn, error) {
	if s.cleaned {
		return nil, errors.New("session already cleaned up")
	}
	if s.broken != nil {
		return nil, s.broken
	}
	if s.conn != nil {
		return s.conn, nil
	}

	target := Target{
		Host:           s.host.Address(),
		Port:           s.host.SSHPort(),
		User:           s.host.User(),
		KeyFile:        s.keyPath,
		KnownHosts:     s.runner.opts.KnownHosts,
		ConnectTimeout: s.runner.opts.ConnectTimeout,
	}
	dial := func(ctx context.Context) (Conn, error) {
		return s.runner.dialer.Dial(ctx, target)
	}

	var (
		conn Conn
		err  error
	)
	if s.controlPath != "" {
		var entry *muxEntry
		entry, err = s.runner.pool.acquire(ctx, s.controlPath, dial)
		if err == nil {
			s.entry = entry
			conn = entry.conn
		}
	} else {
		conn, err = dial(ctx)
	}
	if err != nil {
		s.broken = s.connectionFailed(err)
		s.logger.Error().Err(err).Msg("SSH connection failed")
		return nil, s.broken
	}

	s.conn = conn
	return conn, nil
}

// Run executes a command with the runner's command timeout and returns the raw result.
// A non-zero exit status is logged, not returned as an error. A command that times out
// or is cancelled fails alone and the session stays usable; transport failures break
// the session and are returned as *fwerr.ConnectionFailedError.
func (s *Session) Run(ctx context.Context, command string) (CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connLocked(ctx)
	if err != nil {
		return CommandResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.runner.opts.CommandTimeout)
	defer cancel()

	s.logger.Debug().Str("command", command).Msg("running remote command")
	result, err := conn.Run(ctx, command)
	if err != nil && isCommandFailure(err) {
		s.logger.Error().Err(err).Str("command", command).Dur("timeout", s.runner.opts.CommandTimeout).Msg("remote command did not complete")
		return result, errors.Wrapf(err, "remote command %q did not complete", command)
	}
	if err != nil {
		s.broken = s.connectionFailed(err)
		s.dropConnLocked(true)
		s.logger.Error().Err(err).Str("command", command).Msg("remote command failed")
		return result, s.broken
	}

	if result.ExitStatus != 0 {
		s.logger.Warn().
			Int("exit_status", result.ExitStatus).
			Str("command", command).
			Str("stderr", strings.TrimSpace(result.Stderr)).
			Msg("remote command exited non-zero")
	}
	return result, nil
}

// Execute runs a command and returns its trimmed stdout
func (s *Session) Execute(ctx context.Context, command string) (string, error) {
	result, err := s.Run(ctx, command)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

// Cleanup deletes the key file and releases the transport. It is idempotent.
func (s *Session) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleaned {
		return nil
	}
	s.cleaned = true

	s.dropConnLocked(false)

	if err := os.Remove(s.keyPath); err != nil && !os.IsNotExist(err) {
		s.logger.Error().Err(err).Str("key_file", s.keyPath).Msg("failed to remove key file")
		return errors.Wrap(err, "failed to remove session key file")
	}

	s.logger.Debug().Msg("session cleaned up")
	return nil
}

// dropConnLocked lets a pooled transport expire (or retires it when broken) and
// closes a private one
func (s *Session) dropConnLocked(broken bool) {
	if s.conn == nil {
		return
	}
	switch {
	case s.entry != nil && broken:
		s.runner.pool.discard(s.entry)
	case s.entry != nil:
		s.runner.pool.release(s.entry)
	default:
		s.conn.Close()
	}
	s.conn = nil
	s.entry = nil
}

// isCommandFailure reports errors that end one command but leave the transport intact
func isCommandFailure(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (s *Session) connectionFailed(err error) error {
	return fwerr.WithDiagnosis(&fwerr.ConnectionFailedError{
		Host:  s.host.Address(),
		Port:  s.host.SSHPort(),
		Cause: err,
	})
}
