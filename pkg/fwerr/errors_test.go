package fwerr

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestInvalidInputMatching(t *testing.T) {
	assert.True(t, errors.Is(&InvalidIPError{IP: "x"}, ErrInvalidInput))
	assert.True(t, errors.Is(&UnknownOperationError{Operation: "nope"}, ErrInvalidInput))

	wrapped := errors.Wrap(&InvalidIPError{IP: "x"}, "analyze")
	assert.True(t, errors.Is(wrapped, ErrInvalidInput))

	conn := &ConnectionFailedError{Host: "h", Port: 22, Cause: fmt.Errorf("boom")}
	assert.False(t, errors.Is(conn, ErrInvalidInput))
}

func TestClass(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&InvalidIPError{IP: "1"}, "InvalidIpError"},
		{errors.Wrap(&ConnectionFailedError{Host: "h", Port: 22, Cause: fmt.Errorf("x")}, "ctx"), "ConnectionFailedError"},
		{&CsfRemediationError{Command: "csf -dr", Cause: fmt.Errorf("x")}, "CsfRemediationError"},
		{&CommandExecutionError{Step: StepRewrite, Cause: fmt.Errorf("x")}, "CommandExecutionError"},
		{&ConnectionSetupError{Path: "/tmp/k", Cause: fmt.Errorf("x")}, "ConnectionSetupError"},
		{fmt.Errorf("plain"), "Error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Class(tt.err))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		cause    string
		critical bool
		hint     string
	}{
		{"publickey", "ssh: handshake failed: ssh: unable to authenticate, attempted methods [none publickey]", true, "SSH key authentication"},
		{"refused", "dial tcp 10.0.0.1:22: connect: connection refused", true, "refused"},
		{"timeout", "dial tcp 10.0.0.1:22: i/o timeout", true, "timed out"},
		{"host key", "ssh: handshake failed: knownhosts: key mismatch", true, "host key"},
		{"bad key", "ssh: no key found", true, "private key"},
		{"channel refused", "ssh: rejected: administratively prohibited (open failed)", true, "refused to open a session"},
		{"exec refused", "ssh: command csf -g 1.2.3.4 failed", true, "exec the command"},
		{"other", "EOF", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &ConnectionFailedError{Host: "srv1.example.net", Port: 22, Cause: errors.New(tt.cause)}
			d := Classify(err)
			assert.Equal(t, tt.critical, d.Critical)
			if tt.hint == "" {
				assert.Empty(t, d.Hint)
			} else {
				assert.Contains(t, d.Hint, tt.hint)
			}
		})
	}
}

func TestWithDiagnosisAttachesHint(t *testing.T) {
	err := WithDiagnosis(&ConnectionFailedError{Host: "h", Port: 22, Cause: errors.New("connect: connection refused")})
	hints := errors.GetAllHints(err)
	assert.Len(t, hints, 1)

	var connErr *ConnectionFailedError
	assert.True(t, errors.As(err, &connErr))
	assert.Equal(t, "h", connErr.Host)

	assert.Nil(t, WithDiagnosis(nil))
}
