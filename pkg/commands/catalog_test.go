package commands

import (
	"regexp"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/fwerr"
)

func testCatalog(ttl int) *Catalog {
	return NewCatalog(config.DefaultSettings().Paths, ttl)
}

func TestCatalogCommands(t *testing.T) {
	c := testCatalog(86400)
	ip := "192.168.1.100"

	tests := []struct {
		op   string
		want string
	}{
		{OpCSF, "csf -g 192.168.1.100"},
		{OpCSFDenyCheck, `grep -E '^192\.168\.1\.100(\s|$)' /etc/csf/csf.deny`},
		{OpCSFTempIPCheck, `grep -E '^192\.168\.1\.100(\s|\||$)' /var/lib/csf/csf.tempip`},
		{OpModSecurity, "grep -F -- 192.168.1.100 /var/log/httpd/modsec_audit.log | tail -n 500"},
		{OpEximCpanel, `grep -E '\[192\.168\.1\.100\]' /var/log/exim_mainlog | grep -Ei 'authenticator failed|Incorrect authentication data' | tail -n 50`},
		{OpDovecotDirectAdmin, `grep -E 'rip=192\.168\.1\.100(,|$)' /var/log/maillog | grep -Ei 'auth failed|authentication failure|password mismatch' | tail -n 50`},
		{OpBFMCheck, `grep -E '^192\.168\.1\.100(\s|$)' /usr/local/directadmin/data/admin/ip_blacklist`},
		{OpBFMRemove, "cat /usr/local/directadmin/data/admin/ip_blacklist"},
		{OpCSFRemove, "csf -dr 192.168.1.100"},
		{OpWhitelist, "csf -ta 192.168.1.100 86400"},
		{OpUnblock, "csf -dr 192.168.1.100; csf -ta 192.168.1.100 86400"},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			got, err := c.Build(tt.op, ip)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCatalogUnknownOperation(t *testing.T) {
	c := testCatalog(86400)

	_, ok := c.Lookup("da_bfm_sed", "1.2.3.4")
	assert.False(t, ok)

	_, err := c.Build("da_bfm_sed", "1.2.3.4")
	var unknown *fwerr.UnknownOperationError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "da_bfm_sed", unknown.Operation)
	assert.True(t, errors.Is(err, fwerr.ErrInvalidInput))
}

func TestCatalogEscapesIP(t *testing.T) {
	c := testCatalog(86400)
	hostile := "1.2.3.4; rm -rf /"

	for _, op := range c.Operations() {
		cmd, err := c.Build(op, hostile)
		require.NoError(t, err)
		assert.NotContains(t, cmd, " "+hostile, "op %s interpolates the IP unquoted", op)
	}

	cmd, _ := c.Build(OpCSF, hostile)
	assert.Equal(t, "csf -g '1.2.3.4; rm -rf /'", cmd)
}

func TestCatalogTTLFloor(t *testing.T) {
	for _, ttl := range []int{0, -1, 30} {
		c := testCatalog(ttl)
		assert.Equal(t, config.MinWhitelistTTL, c.WhitelistTTL())
		cmd, _ := c.Build(OpWhitelist, "10.0.0.1")
		assert.Equal(t, "csf -ta 10.0.0.1 60", cmd)
	}

	c := testCatalog(3600)
	cmd, _ := c.Build(OpWhitelist, "10.0.0.1")
	assert.Equal(t, "csf -ta 10.0.0.1 3600", cmd)
}

// grepPattern pulls the quoted -E pattern back out of a command
func grepPattern(t *testing.T, cmd string) *regexp.Regexp {
	t.Helper()
	start := strings.Index(cmd, "'")
	end := strings.Index(cmd[start+1:], "'")
	require.True(t, start >= 0 && end > 0, "no quoted pattern in %q", cmd)
	return regexp.MustCompile(cmd[start+1 : start+1+end])
}

func TestBFMCheckWordBoundary(t *testing.T) {
	c := testCatalog(86400)

	tests := []struct {
		ip    string
		line  string
		match bool
	}{
		{"192.168.1.100", "192.168.1.100", true},
		{"192.168.1.100", "192.168.1.100 2025-10-30 06:27:30", true},
		{"192.168.1.100", "10.192.168.1.100", false},
		{"192.168.1.100", "192.168.1.1000", false},
		{"192.168.1.10", "192.168.1.100", false},
		{"2.2.2.2", "22.2.2.2", false},
		{"2.2.2.2", "2.2.2.20", false},
		{"192.168.1.100", "192x168x1x100", false},
	}

	for _, tt := range tests {
		cmd, err := c.Build(OpBFMCheck, tt.ip)
		require.NoError(t, err)
		assert.Equal(t, tt.match, grepPattern(t, cmd).MatchString(tt.line), "ip %s line %q", tt.ip, tt.line)
	}
}

func TestBFMWrite(t *testing.T) {
	c := testCatalog(86400)

	assert.Equal(t, ": > /usr/local/directadmin/data/admin/ip_blacklist", c.BFMWrite(""))
	assert.Equal(t,
		"echo '10.0.0.1\n10.0.0.2' > /usr/local/directadmin/data/admin/ip_blacklist",
		c.BFMWrite("10.0.0.1\n10.0.0.2"))
	assert.Equal(t,
		`echo 'it'"'"'s' > /usr/local/directadmin/data/admin/ip_blacklist`,
		c.BFMWrite("it's"))
}
