// pkg/fwerr/diagnose.go

package fwerr

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Diagnosis is the coarse classification handed to the notification layer
type Diagnosis struct {
	Critical bool
	Pattern  string
	Hint     string
}

type failurePattern struct {
	needles []string
	hint    string
}

// Ordered: the first matching entry wins.
var criticalPatterns = []failurePattern{
	{
		needles: []string{"Permission denied (publickey)", "unable to authenticate", "no supported methods remain"},
		hint:    "SSH key authentication likely failed: verify the fleet public key is installed in the admin user's authorized_keys",
	},
	{
		needles: []string{"Connection refused", "connection refused"},
		hint:    "SSH port refused the connection: check sshd is running and the configured SSH port is correct",
	},
	{
		needles: []string{"Connection timed out", "i/o timeout", "connection timed out", "command timed out"},
		hint:    "connection timed out: check the host is up and that the SSH port is not firewalled from this server",
	},
	{
		needles: []string{"Host key verification failed", "knownhosts: key mismatch", "knownhosts: key is unknown"},
		hint:    "host key verification failed: re-enroll the host key for this server",
	},
	{
		needles: []string{"ssh: rejected: administratively prohibited", "ssh: command "},
		hint:    "the remote sshd refused to open a session or exec the command: check sshd_config and any command= restriction on the key",
	},
	{
		needles: []string{"ssh: no key found", "ssh: cannot decode", "asn1:", "libcrypto", "error in libcrypto", "invalid format", "unsupported key type"},
		hint:    "the stored private key could not be parsed: re-generate or re-import the host's SSH key",
	},
}

// Classify matches an error chain against known SSH failure patterns.
// Errors that match none are reported as non-critical with no hint.
func Classify(err error) Diagnosis {
	if err == nil {
		return Diagnosis{}
	}

	msg := err.Error()
	for _, p := range criticalPatterns {
		for _, needle := range p.needles {
			if strings.Contains(msg, needle) {
				return Diagnosis{Critical: true, Pattern: needle, Hint: p.hint}
			}
		}
	}

	if hints := errors.GetAllHints(err); len(hints) > 0 {
		return Diagnosis{Hint: strings.Join(hints, "; ")}
	}
	return Diagnosis{}
}

// WithDiagnosis attaches the classification hint to err so it survives further wrapping
func WithDiagnosis(err error) error {
	if err == nil {
		return nil
	}
	d := Classify(err)
	if d.Hint == "" || !d.Critical {
		return err
	}
	return errors.WithHint(err, d.Hint)
}
