package unblocker_test

import (
	"context"
	"os"
	"regexp"
	"strings"
	"sync"
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
	"github.com/hostops/csf-unblocker/pkg/unblocker"
)

const target = "192.168.1.100"

func daHost() config.Host {
	return config.Host{ID: "da1", FQDN: "da1.example.net", Panel: config.PanelDirectAdmin, PrivateKey: []byte("k")}
}

func cpHost() config.Host {
	return config.Host{ID: "cp1", FQDN: "cp1.example.net", Panel: config.PanelCPanel, PrivateKey: []byte("k")}
}

// fakeHost emulates csf and the BFM blacklist file on a managed server
type fakeHost struct {
	mu        sync.Mutex
	blacklist string
	failOn    string
	// denyExit is the exit status of csf -dr
	denyExit int
}

func (h *fakeHost) handle(cmd string) (remote.CommandResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.failOn != "" && strings.Contains(cmd, h.failOn) {
		return remote.CommandResult{}, errors.New("connection reset by peer")
	}

	switch {
	case strings.HasPrefix(cmd, "csf -dr"):
		if h.denyExit != 0 {
			return remote.CommandResult{ExitStatus: h.denyExit, Stderr: "csf: 192.168.1.100 not found in csf.deny"}, nil
		}
		return remote.CommandResult{Stdout: "Removing rule..."}, nil
	case strings.HasPrefix(cmd, "csf -ta"):
		return remote.CommandResult{Stdout: "csf: 192.168.1.100 allowed for 86400 seconds"}, nil
	case strings.HasPrefix(cmd, "cat "):
		return remote.CommandResult{Stdout: h.blacklist}, nil
	case strings.HasPrefix(cmd, ": > "):
		h.blacklist = ""
		return remote.CommandResult{}, nil
	case strings.HasPrefix(cmd, "echo "):
		quoted := strings.TrimPrefix(cmd[:strings.LastIndex(cmd, " > ")], "echo ")
		h.blacklist = strings.Trim(quoted, "'") + "\n"
		return remote.CommandResult{}, nil
	case strings.HasPrefix(cmd, "grep -E "):
		start := strings.Index(cmd, "'")
		end := strings.Index(cmd[start+1:], "'")
		re := regexp.MustCompile(cmd[start+1 : start+1+end])
		var hits []string
		for _, line := range strings.Split(h.blacklist, "\n") {
			if re.MatchString(line) {
				hits = append(hits, line)
			}
		}
		if len(hits) == 0 {
			return remote.CommandResult{ExitStatus: 1}, nil
		}
		return remote.CommandResult{Stdout: strings.Join(hits, "\n")}, nil
	}
	return remote.CommandResult{ExitStatus: 127, Stderr: "command not found"}, nil
}

func (h *fakeHost) content() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blacklist
}

func setup(t *testing.T, fh *fakeHost) (*unblocker.Unblocker, *remotetest.Dialer, string) {
	t.Helper()
	keyDir := t.TempDir()
	dialer := &remotetest.Dialer{Handler: fh.handle}
	r := remote.NewRunner(remote.Options{CommandTimeout: time.Second, KeyDir: keyDir}, remote.WithDialer(dialer))
	t.Cleanup(r.Close)
	c := commands.NewCatalog(config.DefaultSettings().Paths, config.DefaultWhitelistTTL)
	return unblocker.New(r, c), dialer, keyDir
}

func result(host config.Host, logs map[string]string) *analyzer.AnalysisResult {
	return analyzer.NewResult(host, target, logs)
}

func commandPrefixes(cmds []string) []string {
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		fields := strings.Fields(c)
		if len(fields) >= 2 {
			out = append(out, fields[0]+" "+fields[1])
		}
	}
	return out
}

func TestRuleTable(t *testing.T) {
	csfBlocked := "filter DENYIN 1 0 0 DROP all -- * * 192.168.1.100 0.0.0.0/0"
	tests := []struct {
		name    string
		logs    map[string]string
		wantCSF bool
		wantBFM bool
		want    []string
	}{
		{
			name:    "csf and bfm",
			logs:    map[string]string{parsers.SourceCSF: csfBlocked, parsers.SourceBFM: target},
			wantCSF: true, wantBFM: true,
			want: []string{"csf -dr", "csf -ta", "cat /usr/local/directadmin/data/admin/ip_blacklist", ": >", "grep -E"},
		},
		{
			name:    "csf only",
			logs:    map[string]string{parsers.SourceCSF: csfBlocked},
			wantCSF: true,
			want:    []string{"csf -dr", "csf -ta"},
		},
		{
			name:    "bfm only never whitelists",
			logs:    map[string]string{parsers.SourceCSF: "IPSET: No matches found for 192.168.1.100", parsers.SourceBFM: target},
			wantBFM: true,
			want:    []string{"cat /usr/local/directadmin/data/admin/ip_blacklist", ": >", "grep -E"},
		},
		{
			name: "nothing",
			logs: map[string]string{parsers.SourceCSF: "IPSET: No matches found for 192.168.1.100"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fh := &fakeHost{blacklist: target + "\n"}
			u, dialer, keyDir := setup(t, fh)

			res := result(daHost(), tt.logs)
			plan := unblocker.NewPlan(res, daHost())
			assert.Equal(t, tt.wantCSF, plan.CSF)
			assert.Equal(t, tt.wantBFM, plan.BFM)

			outcome, err := u.Unblock(context.Background(), daHost(), target, res)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCSF, outcome.CSF != nil)
			assert.Equal(t, tt.wantBFM, outcome.BFM != nil)
			assert.True(t, outcome.Success())

			cmds := dialer.Commands()
			require.Len(t, cmds, len(tt.want))
			for i, prefix := range tt.want {
				assert.True(t, strings.HasPrefix(cmds[i], prefix), "command %d: %q does not start with %q", i, cmds[i], prefix)
			}
			for _, cmd := range cmds {
				if !tt.wantCSF {
					assert.NotContains(t, cmd, "csf -ta")
				}
			}
			if len(tt.want) == 0 {
				assert.Zero(t, dialer.Dials(), "no session is opened when nothing is blocked")
			}

			entries, err := os.ReadDir(keyDir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestCSFBlockSignals(t *testing.T) {
	tests := []struct {
		name string
		logs map[string]string
		want bool
	}{
		{"denyin", map[string]string{parsers.SourceCSF: "DENYIN"}, true},
		{"drop", map[string]string{parsers.SourceCSF: "DROP all"}, true},
		{"temporary", map[string]string{parsers.SourceCSF: "Temporary Blocks: IP:192.168.1.100"}, true},
		{"deny file", map[string]string{parsers.SourceCSFDeny: "192.168.1.100 # manual"}, true},
		{"tempip file", map[string]string{parsers.SourceCSFTempIP: "192.168.1.100|0|1761800000|"}, true},
		{"no matches", map[string]string{parsers.SourceCSF: "No matches found"}, false},
		{"blank", map[string]string{parsers.SourceCSFDeny: "  \n"}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, unblocker.HasCSFBlock(result(cpHost(), tt.logs)), tt.name)
	}
}

func TestBFMIgnoredOutsideDirectAdmin(t *testing.T) {
	res := result(cpHost(), map[string]string{parsers.SourceBFM: target})
	plan := unblocker.NewPlan(res, cpHost())
	assert.True(t, plan.Empty())
	assert.Empty(t, plan.Operations())
}

func TestPlanOperations(t *testing.T) {
	p := unblocker.Plan{CSF: true, BFM: true}
	assert.Equal(t, []string{commands.OpCSFRemove, commands.OpWhitelist, commands.OpBFMRemove}, p.Operations())
}

func TestBFMRoundTrip(t *testing.T) {
	others := []string{
		"10.192.168.1.100",
		"192.168.1.1000",
		"192.168.1.10",
		"203.0.113.5 2025-10-30 06:27:30",
		"198.51.100.7",
	}
	fh := &fakeHost{blacklist: strings.Join([]string{others[0], others[1], target + " 2025-10-30 06:27:30", others[2], "", others[3], others[4]}, "\n") + "\n"}
	u, _, _ := setup(t, fh)

	res := result(daHost(), map[string]string{parsers.SourceBFM: target})
	outcome, err := u.Unblock(context.Background(), daHost(), target, res)
	require.NoError(t, err)

	require.NotNil(t, outcome.BFM)
	assert.True(t, outcome.BFM.Removed)
	assert.True(t, outcome.BFM.Success)
	assert.Equal(t, 1, outcome.BFM.RemovedLines)
	assert.Nil(t, outcome.CSF)

	remaining := parsers.NonEmptyLines(fh.content())
	assert.Equal(t, others, remaining)
	assert.NotContains(t, remaining, target)
}

func TestFilterBlacklistWordBoundary(t *testing.T) {
	filtered, removed, err := unblocker.FilterBlacklist("10.192.168.1.100\n192.168.1.1000\n", target)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, "10.192.168.1.100\n192.168.1.1000", filtered)

	filtered, removed, err = unblocker.FilterBlacklist("192.168.1.100\r\n192.168.1.100\tnote\n\n\n", target)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Empty(t, filtered)
}

func TestBFMRewriteFailureIsSurfaced(t *testing.T) {
	fh := &fakeHost{blacklist: target + "\n10.0.0.1\n", failOn: "echo "}
	u, _, _ := setup(t, fh)

	res := result(daHost(), map[string]string{parsers.SourceBFM: target})
	outcome, err := u.Unblock(context.Background(), daHost(), target, res)
	require.Error(t, err)

	var execErr *fwerr.CommandExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, fwerr.StepRewrite, execErr.Step)
	assert.Equal(t, "10.0.0.1", execErr.Output, "the content that failed to be written is kept for audit")

	require.NotNil(t, outcome)
	require.NotNil(t, outcome.BFM)
	assert.False(t, outcome.BFM.Success)
	assert.Len(t, outcome.BFM.Commands, 2, "fetch result is surfaced with the failure")
	assert.Contains(t, fh.content(), target, "file untouched")
}

func TestBFMFetchFailureDoesNotWipeFile(t *testing.T) {
	fh := &fakeHost{blacklist: target + "\n"}
	u, dialer, _ := setup(t, fh)

	// Unreadable file: cat exits non-zero
	dialer.Handler = func(cmd string) (remote.CommandResult, error) {
		if strings.HasPrefix(cmd, "cat ") {
			return remote.CommandResult{ExitStatus: 1, Stderr: "cat: Permission denied"}, nil
		}
		return fh.handle(cmd)
	}

	res := result(daHost(), map[string]string{parsers.SourceBFM: target})
	_, err := u.Unblock(context.Background(), daHost(), target, res)

	var execErr *fwerr.CommandExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, fwerr.StepFetch, execErr.Step)
	for _, cmd := range dialer.Commands() {
		assert.False(t, strings.HasPrefix(cmd, ": >") || strings.HasPrefix(cmd, "echo "), "no rewrite after a failed fetch")
	}
	assert.Equal(t, target+"\n", fh.content())
}

func TestCSFFailureWrapsAndSkipsWhitelist(t *testing.T) {
	fh := &fakeHost{failOn: "csf -dr"}
	u, dialer, keyDir := setup(t, fh)

	res := result(cpHost(), map[string]string{parsers.SourceCSF: "DENYIN"})
	outcome, err := u.Unblock(context.Background(), cpHost(), target, res)

	var csfErr *fwerr.CsfRemediationError
	require.True(t, errors.As(err, &csfErr))
	assert.Equal(t, "csf -dr 192.168.1.100", csfErr.Command)

	require.NotNil(t, outcome.CSF)
	assert.False(t, outcome.CSF.Success)
	assert.False(t, outcome.Success())
	assert.Equal(t, []string{"csf -dr"}, commandPrefixes(dialer.Commands()))

	entries, err := os.ReadDir(keyDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCSFDenyRemovalExitStillWhitelists(t *testing.T) {
	fh := &fakeHost{denyExit: 1}
	u, dialer, _ := setup(t, fh)

	res := result(cpHost(), map[string]string{parsers.SourceCSF: "Temporary Blocks: IP:192.168.1.100"})
	outcome, err := u.Unblock(context.Background(), cpHost(), target, res)
	require.NoError(t, err)

	assert.Equal(t, []string{"csf -dr", "csf -ta"}, commandPrefixes(dialer.Commands()))
	require.NotNil(t, outcome.CSF)
	require.Len(t, outcome.CSF.Commands, 2)
	assert.Equal(t, 1, outcome.CSF.Commands[0].ExitStatus, "the exit status is kept in the outcome")
	assert.Equal(t, 0, outcome.CSF.Commands[1].ExitStatus)
	assert.True(t, outcome.CSF.Success)
}

func TestUnblockRejectsInvalidIP(t *testing.T) {
	u, dialer, _ := setup(t, &fakeHost{})
	res := result(cpHost(), map[string]string{parsers.SourceCSF: "DENYIN"})

	_, err := u.Unblock(context.Background(), cpHost(), "not-an-ip", res)
	assert.True(t, errors.Is(err, fwerr.ErrInvalidInput))
	assert.Zero(t, dialer.Dials())
}
