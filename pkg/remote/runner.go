// pkg/remote/runner.go

package remote

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/fwerr"
)

// Options configures a Runner
type Options struct {
	CommandTimeout time.Duration
	ConnectTimeout time.Duration
	KeyDir         string
	MuxDir         string
	MuxPersist     time.Duration
	KnownHosts     string
}

// OptionsFromSettings maps the ssh settings block
func OptionsFromSettings(s config.SSHSettings) Options {
	return Options{
		CommandTimeout: s.CommandTimeout,
		ConnectTimeout: s.ConnectTimeout,
		KeyDir:         s.KeyDir,
		MuxDir:         s.MuxDir,
		MuxPersist:     s.MuxPersist,
		KnownHosts:     s.KnownHosts,
	}
}

// Runner creates SSH sessions. It is safe for concurrent use; the sessions it
// returns are not.
type Runner struct {
	opts   Options
	dialer Dialer
	pool   *muxPool
	logger zerolog.Logger
}

// Option customizes a Runner
type Option func(*Runner)

// WithDialer replaces the SSH dialer
func WithDialer(d Dialer) Option {
	return func(r *Runner) { r.dialer = d }
}

// WithLogger sets the runner logger
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner
func NewRunner(opts Options, optFns ...Option) *Runner {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 30 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	if opts.KeyDir == "" {
		opts.KeyDir = os.TempDir()
	}

	r := &Runner{
		opts:   opts,
		dialer: SSHDialer{},
		logger: log.Logger,
	}
	for _, fn := range optFns {
		fn(r)
	}
	r.logger = r.logger.With().Str("component", "remote").Logger()

	if opts.MuxDir != "" && opts.MuxPersist > 0 {
		r.pool = newMuxPool(opts.MuxPersist)
	}
	return r
}

// CreateSession writes the host's private key to a fresh 0600 file and prepares the
// multiplexing directory. Only a key write failure is fatal.
func (r *Runner) CreateSession(host config.Host) (*Session, error) {
	id := uuid.NewString()
	keyPath := filepath.Join(r.opts.KeyDir, fmt.Sprintf("fwu-%s.key", id))

	if err := host.Validate(); err != nil {
		return nil, &fwerr.ConnectionSetupError{Path: keyPath, Cause: err}
	}

	if err := writeKeyFile(keyPath, host.PrivateKey); err != nil {
		return nil, &fwerr.ConnectionSetupError{Path: keyPath, Cause: err}
	}

	logger := r.logger.With().
		Str("session", id).
		Str("host", host.Address()).
		Logger()

	s := &Session{
		id:      id,
		host:    host,
		keyPath: keyPath,
		runner:  r,
		logger:  logger,
	}

	if r.pool != nil {
		if err := os.MkdirAll(r.opts.MuxDir, 0700); err != nil {
			logger.Warn().Err(err).Str("mux_dir", r.opts.MuxDir).Msg("multiplexing directory unavailable, using a private connection")
		} else {
			s.controlPath = filepath.Join(r.opts.MuxDir, fmt.Sprintf("%s@%s:%d", host.User(), host.Address(), host.SSHPort()))
		}
	}

	logger.Debug().Str("key_file", keyPath).Msg("session created")
	return s, nil
}

// Close closes any multiplexed transports still being persisted
func (r *Runner) Close() {
	if r.pool != nil {
		r.pool.closeAll()
	}
}

// writeKeyFile creates path exclusively with mode 0600
func writeKeyFile(path string, key []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}

	if _, err := f.Write(key); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}

	// umask can only narrow the mode, but be explicit
	return os.Chmod(path, 0600)
}
