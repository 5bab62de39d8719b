// pkg/commands/catalog.go

package commands

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/alessio/shellescape"

	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/fwerr"
)

// Operation names. These strings are also the keys callers configure batteries with.
const (
	OpCSF                = "csf"
	OpCSFDenyCheck       = "csf_deny_check"
	OpCSFTempIPCheck     = "csf_tempip_check"
	OpModSecurity        = "mod_security"
	OpEximCpanel         = "exim_cpanel"
	OpDovecotCpanel      = "dovecot_cpanel"
	OpEximDirectAdmin    = "exim_directadmin"
	OpDovecotDirectAdmin = "dovecot_directadmin"
	OpBFMCheck           = "da_bfm_check"
	OpBFMRemove          = "da_bfm_remove"
	OpBFMFetch           = "da_bfm_fetch"
	OpCSFRemove          = "csf_remove"
	OpWhitelist          = "whitelist"
	OpUnblock            = "unblock"
)

// modSecurityTail bounds how many audit lines are pulled back per check
const modSecurityTail = 500

// mailLogTail bounds how many auth-failure lines are pulled back per mail log
const mailLogTail = 50

// Catalog maps an operation name and an IP to the shell command run on a managed host.
// These command strings are the protocol with the fleet: grep anchors matter.
type Catalog struct {
	paths        config.RemotePaths
	whitelistTTL int
	builders     map[string]func(ip string) string
}

// NewCatalog creates a catalog for the given remote paths. The whitelist TTL is
// floored at config.MinWhitelistTTL.
func NewCatalog(paths config.RemotePaths, whitelistTTL int) *Catalog {
	c := &Catalog{
		paths:        paths,
		whitelistTTL: config.FloorTTL(whitelistTTL),
	}

	c.builders = map[string]func(string) string{
		OpCSF: func(ip string) string {
			return "csf -g " + shellescape.Quote(ip)
		},
		OpCSFDenyCheck: func(ip string) string {
			return anchoredGrep(ip, `(\s|$)`, paths.CSFDeny)
		},
		OpCSFTempIPCheck: func(ip string) string {
			return anchoredGrep(ip, `(\s|\||$)`, paths.CSFTempIP)
		},
		OpModSecurity: func(ip string) string {
			// Substring pre-filter only; exact client_ip matching happens locally
			return fmt.Sprintf("grep -F -- %s %s | tail -n %d",
				shellescape.Quote(ip), shellescape.Quote(paths.ModSecurityAudit), modSecurityTail)
		},
		OpEximCpanel: func(ip string) string {
			return eximAuthGrep(ip, paths.CpanelExim)
		},
		OpDovecotCpanel: func(ip string) string {
			return dovecotAuthGrep(ip, paths.CpanelDovecot)
		},
		OpEximDirectAdmin: func(ip string) string {
			return eximAuthGrep(ip, paths.DAExim)
		},
		OpDovecotDirectAdmin: func(ip string) string {
			return dovecotAuthGrep(ip, paths.DADovecot)
		},
		OpBFMCheck: func(ip string) string {
			return anchoredGrep(ip, `(\s|$)`, paths.BFMBlacklist)
		},
		// Removal is fetch-filter-rewrite: its remote part starts with a full read
		OpBFMRemove: func(string) string {
			return "cat " + shellescape.Quote(paths.BFMBlacklist)
		},
		OpBFMFetch: func(string) string {
			return "cat " + shellescape.Quote(paths.BFMBlacklist)
		},
		OpCSFRemove: func(ip string) string {
			return "csf -dr " + shellescape.Quote(ip)
		},
		OpWhitelist: func(ip string) string {
			return fmt.Sprintf("csf -ta %s %d", shellescape.Quote(ip), c.whitelistTTL)
		},
		OpUnblock: func(ip string) string {
			quoted := shellescape.Quote(ip)
			return fmt.Sprintf("csf -dr %s; csf -ta %s %d", quoted, quoted, c.whitelistTTL)
		},
	}

	return c
}

// Lookup returns the command for op, or false if op is unknown
func (c *Catalog) Lookup(op, ip string) (string, bool) {
	build, ok := c.builders[op]
	if !ok {
		return "", false
	}
	return build(ip), true
}

// Build returns the command for op. An unknown op is a configuration error.
func (c *Catalog) Build(op, ip string) (string, error) {
	command, ok := c.Lookup(op, ip)
	if !ok {
		return "", &fwerr.UnknownOperationError{Operation: op}
	}
	return command, nil
}

// Operations lists the known operation names, sorted
func (c *Catalog) Operations() []string {
	ops := make([]string, 0, len(c.builders))
	for op := range c.builders {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// WhitelistTTL returns the floored temporal allow TTL in seconds
func (c *Catalog) WhitelistTTL() int {
	return c.whitelistTTL
}

// BFMBlacklistPath returns the DirectAdmin blacklist location
func (c *Catalog) BFMBlacklistPath() string {
	return c.paths.BFMBlacklist
}

// BFMWrite rewrites the BFM blacklist with content. Content is single-quoted as a whole,
// so no part of it is interpreted by the remote shell.
func (c *Catalog) BFMWrite(content string) string {
	path := shellescape.Quote(c.paths.BFMBlacklist)
	if content == "" {
		return ": > " + path
	}
	return fmt.Sprintf("echo %s > %s", shellescape.Quote(content), path)
}

// anchoredGrep matches ip only at line start followed by one of boundary, so that
// 192.168.1.100 never matches 10.192.168.1.100 or 192.168.1.1000
func anchoredGrep(ip, boundary, path string) string {
	pattern := "^" + regexp.QuoteMeta(ip) + boundary
	return fmt.Sprintf("grep -E %s %s", shellescape.Quote(pattern), shellescape.Quote(path))
}

// eximAuthGrep matches the bracketed remote address exim logs, e.g. [203.0.113.9]:51234
func eximAuthGrep(ip, path string) string {
	pattern := `\[` + regexp.QuoteMeta(ip) + `\]`
	return fmt.Sprintf("grep -E %s %s | grep -Ei %s | tail -n %d",
		shellescape.Quote(pattern), shellescape.Quote(path),
		shellescape.Quote("authenticator failed|Incorrect authentication data"), mailLogTail)
}

// dovecotAuthGrep matches dovecot's rip=<ip>, field
func dovecotAuthGrep(ip, path string) string {
	pattern := `rip=` + regexp.QuoteMeta(ip) + `(,|$)`
	return fmt.Sprintf("grep -E %s %s | grep -Ei %s | tail -n %d",
		shellescape.Quote(pattern), shellescape.Quote(path),
		shellescape.Quote("auth failed|authentication failure|password mismatch"), mailLogTail)
}
