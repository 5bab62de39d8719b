package analyzer_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostops/csf-unblocker/pkg/analyzer"
	"github.com/hostops/csf-unblocker/pkg/commands"
	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/fwerr"
	"github.com/hostops/csf-unblocker/pkg/parsers"
	"github.com/hostops/csf-unblocker/pkg/remote"
	"github.com/hostops/csf-unblocker/pkg/remote/remotetest"
)

const blockedIP = "158.173.23.58"

const csfBlockedOutput = `Table  Chain            num   pkts bytes target     prot opt in     out     source               destination
filter DENYIN           42       0     0 DROP       all  --  !lo    *       158.173.23.58        0.0.0.0/0

IPSET: No matches found for 158.173.23.58

csf.deny: 158.173.23.58 # lfd: (smtpauth) Failed SMTP AUTH login from 158.173.23.58 (GB/United Kingdom/-): 5 in the last 3600 secs - Thu Oct 30 06:27:30 2025`

func host(panel config.Panel) config.Host {
	return config.Host{
		ID:         "web01",
		FQDN:       "web01.example.net",
		Panel:      panel,
		PrivateKey: []byte("key material"),
	}
}

func setup(t *testing.T, rules ...remotetest.Rule) (*remote.Runner, *commands.Catalog, *remotetest.Dialer, string) {
	t.Helper()
	keyDir := t.TempDir()
	dialer := &remotetest.Dialer{Handler: remotetest.Respond(rules...)}
	r := remote.NewRunner(remote.Options{CommandTimeout: time.Second, KeyDir: keyDir}, remote.WithDialer(dialer))
	t.Cleanup(r.Close)
	return r, commands.NewCatalog(config.DefaultSettings().Paths, config.DefaultWhitelistTTL), dialer, keyDir
}

func assertNoKeyFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary key files left behind")
}

func TestFactory(t *testing.T) {
	r, c, _, _ := setup(t)

	assert.IsType(t, &analyzer.CpanelAnalyzer{}, analyzer.New(config.PanelCPanel, r, c))
	assert.IsType(t, &analyzer.DirectAdminAnalyzer{}, analyzer.New(config.PanelDirectAdmin, r, c))

	a := analyzer.New(config.Panel("plesk"), r, c)
	assert.IsType(t, &analyzer.UnknownPanelAnalyzer{}, a)
	assert.Equal(t, config.Panel("plesk"), a.Panel())

	var unsupported *fwerr.UnsupportedPanelError
	assert.True(t, errors.As(analyzer.Supported("plesk"), &unsupported))
	assert.NoError(t, analyzer.Supported(config.PanelDirectAdmin))
}

func TestCpanelBlockedByCSF(t *testing.T) {
	r, c, dialer, keyDir := setup(t,
		remotetest.On("csf -g", csfBlockedOutput),
		remotetest.On("csf.deny", "158.173.23.58 # lfd: (smtpauth) Failed SMTP AUTH login from 158.173.23.58 (GB/United Kingdom/-): 5 in the last 3600 secs - Thu Oct 30 06:27:30 2025"),
		remotetest.On("exim_mainlog", "2025-10-30 06:27:00 login authenticator failed for (User) [158.173.23.58]:51234: 535 Incorrect authentication data"),
	)

	res, err := analyzer.New(config.PanelCPanel, r, c).Analyze(context.Background(), host(config.PanelCPanel), blockedIP)
	require.NoError(t, err)

	assert.True(t, res.Blocked())
	assert.Equal(t, blockedIP, res.IP())
	assert.Equal(t, "web01", res.HostID())

	a := res.Analysis()
	assert.Equal(t, []string{parsers.ServiceCSF, parsers.ServiceExim}, a.BlockSources)
	assert.Empty(t, a.UnsupportedPanel)
	require.NotNil(t, a.BlockingDetails)
	require.NotNil(t, a.BlockingDetails.CSF)
	assert.Equal(t, parsers.BlockTypeDenyFile, a.BlockingDetails.CSF.BlockType)
	assert.Equal(t, 5, a.BlockingDetails.CSF.Attempts)
	require.NotNil(t, a.BlockingDetails.Exim)
	assert.Equal(t, 1, a.BlockingDetails.Exim.Count)
	assert.Nil(t, a.BlockingDetails.BFM)

	logs := res.Logs()
	assert.ElementsMatch(t,
		[]string{parsers.SourceCSF, parsers.SourceCSFDeny, parsers.SourceCSFTempIP, parsers.SourceExim, parsers.SourceDovecot},
		keys(logs))
	assert.NotContains(t, logs, parsers.SourceBFM)

	// Commands ran in battery order over one session
	cmds := dialer.Commands()
	require.Len(t, cmds, 5)
	assert.True(t, strings.HasPrefix(cmds[0], "csf -g "))
	assert.Equal(t, 1, dialer.Dials())
	assertNoKeyFiles(t, keyDir)
}

func TestDirectAdminBFMAndModSecurity(t *testing.T) {
	modsec := `{"transaction":{"client_ip":"2.2.2.2","time_stamp":"Thu Oct 30 06:27:30 2025","request":{"uri":"/wp-login.php"}},"messages":[{"message":"SQL Injection Attack","details":{"ruleId":"942100"}}]}
{"transaction":{"client_ip":"22.2.2.2","time_stamp":"Thu Oct 30 06:28:00 2025","request":{"uri":"/private"}},"messages":[{"message":"XSS","details":{"ruleId":"941100"}}]}`

	r, c, _, keyDir := setup(t,
		remotetest.On("csf -g", "IPSET: No matches found for 2.2.2.2"),
		remotetest.On("ip_blacklist", "2.2.2.2"),
		remotetest.On("modsec_audit.log", modsec),
	)

	res, err := analyzer.Analyze(context.Background(), r, c, host(config.PanelDirectAdmin), "2.2.2.2")
	require.NoError(t, err)

	assert.True(t, res.Blocked())
	assert.Equal(t, []string{parsers.ServiceBFM, parsers.ServiceModSecurity}, res.Analysis().BlockSources)

	summary := res.Log(parsers.SourceModSecurity)
	assert.Equal(t, "[Thu Oct 30 06:27:30 2025] IP: 2.2.2.2 | URI: /wp-login.php | Rules: [942100] SQL Injection Attack", summary)
	assert.NotContains(t, summary, "22.2.2.2")

	details := res.Analysis().BlockingDetails
	require.NotNil(t, details.BFM)
	assert.Equal(t, []string{"2.2.2.2"}, details.BFM.Entries)
	require.NotNil(t, details.ModSecurity)
	assert.Equal(t, 1, details.ModSecurity.Entries)
	assert.Equal(t, []string{"942100"}, details.ModSecurity.RuleIDs)
	assert.Nil(t, details.CSF)
	assertNoKeyFiles(t, keyDir)
}

func TestNotBlocked(t *testing.T) {
	r, c, _, _ := setup(t, remotetest.On("csf -g", "IPSET: No matches found for 192.0.2.44"))

	res, err := analyzer.Analyze(context.Background(), r, c, host(config.PanelDirectAdmin), "192.0.2.44")
	require.NoError(t, err)

	assert.False(t, res.Blocked())
	assert.Empty(t, res.Analysis().BlockSources)
	assert.Nil(t, res.Analysis().BlockingDetails)
	assert.Equal(t, "", res.Log(parsers.SourceBFM))
}

func TestUnsupportedPanelRunsCSFOnly(t *testing.T) {
	r, c, dialer, _ := setup(t, remotetest.On("csf -g", csfBlockedOutput))

	res, err := analyzer.Analyze(context.Background(), r, c, host(config.PanelUnknown), blockedIP)
	require.NoError(t, err)

	assert.Equal(t, "unknown", res.Analysis().UnsupportedPanel)
	assert.True(t, res.Blocked())
	assert.NotEmpty(t, res.Log(parsers.SourceCSF))
	assert.ElementsMatch(t, []string{parsers.SourceCSF, parsers.SourceCSFDeny, parsers.SourceCSFTempIP}, keys(res.Logs()))
	assert.Len(t, dialer.Commands(), 3)
}

func TestInvalidIP(t *testing.T) {
	r, c, dialer, _ := setup(t)

	for _, ip := range []string{"", "999.1.1.1", "1.2.3.4; rm -rf /", "fe80::1%eth0", "example.com"} {
		_, err := analyzer.Analyze(context.Background(), r, c, host(config.PanelCPanel), ip)
		var invalid *fwerr.InvalidIPError
		require.True(t, errors.As(err, &invalid), "ip %q", ip)
		assert.True(t, errors.Is(err, fwerr.ErrInvalidInput))
	}
	assert.Zero(t, dialer.Dials(), "invalid input never reaches the network")

	for _, ip := range []string{"192.0.2.1", "2001:db8::1"} {
		assert.NoError(t, analyzer.ValidateIP(ip))
	}
}

func TestConnectionFailureIsFatal(t *testing.T) {
	keyDir := t.TempDir()
	dialer := &remotetest.Dialer{DialErr: errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none publickey]")}
	r := remote.NewRunner(remote.Options{CommandTimeout: time.Second, KeyDir: keyDir}, remote.WithDialer(dialer))
	defer r.Close()
	c := commands.NewCatalog(config.DefaultSettings().Paths, 86400)

	res, err := analyzer.Analyze(context.Background(), r, c, host(config.PanelCPanel), blockedIP)
	assert.Nil(t, res)

	var connErr *fwerr.ConnectionFailedError
	require.True(t, errors.As(err, &connErr))
	assert.True(t, fwerr.Classify(err).Critical)
	assertNoKeyFiles(t, keyDir)
}

func TestCommandFailureMidBatteryStillCleansUp(t *testing.T) {
	r, c, dialer, keyDir := setup(t,
		remotetest.On("csf -g", csfBlockedOutput),
		remotetest.Fail("csf.deny", errors.New("read tcp: connection reset by peer")),
	)

	res, err := analyzer.Analyze(context.Background(), r, c, host(config.PanelCPanel), blockedIP)
	require.NoError(t, err, "individual command failures do not abort the analysis")

	assert.True(t, res.Blocked(), "output gathered before the failure is kept")
	assert.Equal(t, "", res.Log(parsers.SourceCSFDeny))
	assert.Contains(t, res.Analysis().FailedSources, parsers.SourceCSFDeny)
	assert.Len(t, dialer.Commands(), 2, "the broken session fails fast afterwards")
	assertNoKeyFiles(t, keyDir)
}

func TestCommandTimeoutDoesNotHideLaterSources(t *testing.T) {
	r, c, dialer, keyDir := setup(t,
		remotetest.On("csf -g", "IPSET: No matches found for "+blockedIP),
		remotetest.Fail("exim", context.DeadlineExceeded),
		remotetest.On("ip_blacklist", blockedIP+" 20251030"),
	)

	res, err := analyzer.Analyze(context.Background(), r, c, host(config.PanelDirectAdmin), blockedIP)
	require.NoError(t, err)

	assert.Equal(t, []string{parsers.SourceExim}, res.Analysis().FailedSources)
	assert.Equal(t, blockedIP+" 20251030", res.Log(parsers.SourceBFM))
	assert.True(t, res.Blocked())
	assert.Contains(t, res.Analysis().BlockSources, parsers.ServiceBFM)

	assert.Len(t, dialer.Commands(), 7, "every step is attempted after the timeout")
	assert.Equal(t, 1, dialer.Dials(), "the transport survives a command timeout")
	assertNoKeyFiles(t, keyDir)
}

func TestResultIsImmutable(t *testing.T) {
	res := analyzer.NewResult(host(config.PanelDirectAdmin), "2.2.2.2", map[string]string{parsers.SourceBFM: "2.2.2.2"})

	logs := res.Logs()
	logs[parsers.SourceBFM] = ""
	a := res.Analysis()
	a.BlockSources[0] = "tampered"
	a.BlockingDetails.BFM = nil

	assert.Equal(t, "2.2.2.2", res.Log(parsers.SourceBFM))
	assert.Equal(t, []string{parsers.ServiceBFM}, res.Analysis().BlockSources)
	assert.NotNil(t, res.Analysis().BlockingDetails.BFM)
}

func TestResultJSON(t *testing.T) {
	res := analyzer.NewResult(host(config.PanelDirectAdmin), "2.2.2.2", map[string]string{parsers.SourceBFM: "2.2.2.2"})

	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, true, decoded["blocked"])
	assert.Equal(t, "web01", decoded["host_id"])
	analysis := decoded["analysis"].(map[string]any)
	assert.Equal(t, []any{"bfm"}, analysis["block_sources"])
}

func TestNoKeyFileOutsideKeyDir(t *testing.T) {
	r, c, dialer, keyDir := setup(t)
	_, err := analyzer.Analyze(context.Background(), r, c, host(config.PanelCPanel), "192.0.2.1")
	require.NoError(t, err)

	targets := dialer.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, keyDir, filepath.Dir(targets[0].KeyFile))
	assert.Equal(t, [][]byte{[]byte("key material")}, dialer.Keys())
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
