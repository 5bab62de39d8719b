// pkg/action/gates.go

package action

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hostops/csf-unblocker/pkg/config"
)

// Authorizer decides whether operator may act on host for ip. It runs before any remote work.
type Authorizer interface {
	Authorize(ctx context.Context, operator string, host config.Host, ip string) error
}

// AllowAll authorizes everything
type AllowAll struct{}

// Authorize implements Authorizer
func (AllowAll) Authorize(context.Context, string, config.Host, string) error { return nil }

// NotAuthorizedError is returned by an Authorizer that refuses a request
type NotAuthorizedError struct {
	Operator string
	HostID   string
	Reason   string
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("operator %q may not act on host %s: %s", e.Operator, e.HostID, e.Reason)
}

// GroupAuthorizer allows hosts belonging to one of the inventory groups
type GroupAuthorizer struct {
	Groups []string
}

// Authorize implements Authorizer
func (g GroupAuthorizer) Authorize(_ context.Context, operator string, host config.Host, _ string) error {
	for _, group := range g.Groups {
		if group == host.Group {
			return nil
		}
	}
	return &NotAuthorizedError{
		Operator: operator,
		HostID:   host.ID,
		Reason:   fmt.Sprintf("host group %q is not in %v", host.Group, g.Groups),
	}
}

// ConnectionAlert is what gets escalated when a host cannot be reached
type ConnectionAlert struct {
	HostID   string
	FQDN     string
	IP       string
	Cause    string
	Critical bool
	Hint     string
}

// Notifier escalates connection failures to operators
type Notifier interface {
	ConnectionFailed(ctx context.Context, alert ConnectionAlert)
}

// LogNotifier writes alerts to the log
type LogNotifier struct {
	Logger zerolog.Logger
}

// ConnectionFailed implements Notifier
func (n LogNotifier) ConnectionFailed(_ context.Context, alert ConnectionAlert) {
	ev := n.Logger.Warn()
	if alert.Critical {
		ev = n.Logger.Error()
	}
	ev.Str("host", alert.HostID).
		Str("fqdn", alert.FQDN).
		Str("ip", alert.IP).
		Bool("critical", alert.Critical).
		Str("hint", alert.Hint).
		Str("cause", alert.Cause).
		Msg("connection to managed host failed")
}
