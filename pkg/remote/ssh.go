// pkg/remote/ssh.go

package remote

import (
	"bytes"
	"context"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Target is everything a Dialer needs to reach one host
type Target struct {
	Host           string
	Port           int
	User           string
	KeyFile        string
	KnownHosts     string
	ConnectTimeout time.Duration
}

// Addr returns host:port
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// CommandResult is the raw outcome of one remote command
type CommandResult struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Conn is an established transport able to run commands. Implementations must allow
// concurrent Run calls since a multiplexed Conn is shared between sessions.
type Conn interface {
	Run(ctx context.Context, command string) (CommandResult, error)
	Close() error
}

// Dialer opens transports
type Dialer interface {
	Dial(ctx context.Context, target Target) (Conn, error)
}

// SSHDialer dials with golang.org/x/crypto/ssh
type SSHDialer struct{}

// Dial establishes the SSH connection
func (SSHDialer) Dial(ctx context.Context, target Target) (Conn, error) {
	keyAuth, err := keyAuth(target.KeyFile)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := hostKeyCallback(target.KnownHosts)
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{keyAuth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         target.ConnectTimeout,
	}

	address := target.Addr()
	dialer := net.Dialer{Timeout: target.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", address)
	}

	// Bound the handshake as well as the TCP connect
	if target.ConnectTimeout > 0 {
		_ = netConn.SetDeadline(time.Now().Add(target.ConnectTimeout))
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(netConn, address, sshConfig)
	if err != nil {
		netConn.Close()
		return nil, errors.Wrapf(err, "failed to connect to %s", address)
	}
	_ = netConn.SetDeadline(time.Time{})

	return &sshConn{client: ssh.NewClient(clientConn, chans, reqs)}, nil
}

// keyAuth returns SSH key authentication from a key file
func keyAuth(keyFile string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read private key")
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse private key (it may be passphrase-protected)")
	}

	return ssh.PublicKeys(signer), nil
}

// hostKeyCallback pins host keys when a known_hosts file is configured. Otherwise
// checking is disabled on purpose: fleet host keys are enrolled out of band.
func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load known_hosts %s", knownHostsFile)
	}
	return cb, nil
}

// sshConn runs each command on its own channel of one client
type sshConn struct {
	client *ssh.Client
}

// Run executes a command. A non-zero exit status is not an error.
func (c *sshConn) Run(ctx context.Context, command string) (CommandResult, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return CommandResult{}, errors.Wrap(err, "failed to create session")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return CommandResult{}, errors.Wrap(ctx.Err(), "command timed out")
		}
		return CommandResult{}, ctx.Err()
	}

	result := CommandResult{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		var exitMissing *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			result.ExitStatus = exitErr.ExitStatus()
			return result, nil
		case errors.As(err, &exitMissing):
			result.ExitStatus = -1
			return result, nil
		}
		return result, err
	}

	return result, nil
}

// Close closes the SSH connection
func (c *sshConn) Close() error {
	return c.client.Close()
}
