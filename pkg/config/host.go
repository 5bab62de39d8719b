// pkg/config/host.go

package config

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Panel is the hosting control panel running on a managed host
type Panel string

const (
	PanelCPanel      Panel = "cpanel"
	PanelDirectAdmin Panel = "directadmin"
	PanelUnknown     Panel = "unknown"
)

// ParsePanel normalizes a panel name. Anything unrecognized is kept verbatim
// (lower-cased) so the analyzer can report which panel it could not handle.
func ParsePanel(value string) Panel {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "cpanel", "whm":
		return PanelCPanel
	case "directadmin", "da":
		return PanelDirectAdmin
	case "":
		return PanelUnknown
	}
	return Panel(value)
}

// Host is a managed server as returned by the host directory.
// The core treats it as read-only.
type Host struct {
	ID         string
	FQDN       string
	IP         string
	Port       int
	Panel      Panel
	Admin      string
	PrivateKey []byte
	PublicKey  string
	Group      string
}

// Address returns the name used to reach the host over SSH
func (h Host) Address() string {
	if h.FQDN != "" {
		return h.FQDN
	}
	return h.IP
}

// SSHPort returns the configured SSH port, defaulting to 22
func (h Host) SSHPort() int {
	if h.Port <= 0 {
		return 22
	}
	return h.Port
}

// User returns the admin user commands run as, conventionally root
func (h Host) User() string {
	if h.Admin == "" {
		return "root"
	}
	return h.Admin
}

// Validate checks the host can be used for an SSH operation
func (h Host) Validate() error {
	if strings.TrimSpace(h.FQDN) == "" && strings.TrimSpace(h.IP) == "" {
		return errors.Newf("host %q has neither an FQDN nor an IP", h.ID)
	}
	if len(h.PrivateKey) == 0 {
		return errors.Newf("host %q has no private key configured", h.ID)
	}
	return nil
}

// Directory is the read-only host lookup the core consumes
type Directory interface {
	Lookup(id string) (Host, error)
}
