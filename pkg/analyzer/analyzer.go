// pkg/analyzer/analyzer.go

package analyzer

import (
	"context"
	"net/netip"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hostops/csf-unblocker/pkg/commands"
	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/fwerr"
	"github.com/hostops/csf-unblocker/pkg/parsers"
	"github.com/hostops/csf-unblocker/pkg/remote"
)

// Analyzer runs the panel-specific diagnostic battery against one host
type Analyzer interface {
	// Panel returns the panel type this analyzer handles
	Panel() config.Panel
	// Analyze checks whether ip is blocked on host. Only invalid input and
	// session-open failures are returned as errors.
	Analyze(ctx context.Context, host config.Host, ip string) (*AnalysisResult, error)
}

// step is one catalog operation whose output is stored under source
type step struct {
	source string
	op     string
}

// csfBattery runs on every panel
var csfBattery = []step{
	{parsers.SourceCSF, commands.OpCSF},
	{parsers.SourceCSFDeny, commands.OpCSFDenyCheck},
	{parsers.SourceCSFTempIP, commands.OpCSFTempIPCheck},
}

var cpanelBattery = []step{
	{parsers.SourceExim, commands.OpEximCpanel},
	{parsers.SourceDovecot, commands.OpDovecotCpanel},
}

var directAdminBattery = []step{
	{parsers.SourceExim, commands.OpEximDirectAdmin},
	{parsers.SourceDovecot, commands.OpDovecotDirectAdmin},
	{parsers.SourceBFM, commands.OpBFMCheck},
	{parsers.SourceModSecurity, commands.OpModSecurity},
}

// Option configures an analyzer
type Option func(*base)

// WithLogger sets the analyzer logger
func WithLogger(l zerolog.Logger) Option {
	return func(b *base) {
		b.logger = l
	}
}

// base holds the shared analysis flow; the panel analyzers differ only in their battery
type base struct {
	runner  *remote.Runner
	catalog *commands.Catalog
	logger  zerolog.Logger
}

func newBase(runner *remote.Runner, catalog *commands.Catalog, opts ...Option) base {
	b := base{
		runner:  runner,
		catalog: catalog,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(&b)
	}
	b.logger = b.logger.With().Str("component", "analyzer").Logger()
	return b
}

// CpanelAnalyzer checks CSF plus cPanel exim/dovecot logs
type CpanelAnalyzer struct{ base }

// Panel implements Analyzer
func (a *CpanelAnalyzer) Panel() config.Panel { return config.PanelCPanel }

// Analyze implements Analyzer
func (a *CpanelAnalyzer) Analyze(ctx context.Context, host config.Host, ip string) (*AnalysisResult, error) {
	return a.run(ctx, host, ip, append(append([]step{}, csfBattery...), cpanelBattery...), "")
}

// DirectAdminAnalyzer checks CSF, DirectAdmin mail logs, the BFM blacklist and ModSecurity
type DirectAdminAnalyzer struct{ base }

// Panel implements Analyzer
func (a *DirectAdminAnalyzer) Panel() config.Panel { return config.PanelDirectAdmin }

// Analyze implements Analyzer
func (a *DirectAdminAnalyzer) Analyze(ctx context.Context, host config.Host, ip string) (*AnalysisResult, error) {
	return a.run(ctx, host, ip, append(append([]step{}, csfBattery...), directAdminBattery...), "")
}

// UnknownPanelAnalyzer runs the CSF-only battery and marks the result unsupported_panel
type UnknownPanelAnalyzer struct {
	base
	panel config.Panel
}

// Panel implements Analyzer
func (a *UnknownPanelAnalyzer) Panel() config.Panel { return a.panel }

// Analyze implements Analyzer
func (a *UnknownPanelAnalyzer) Analyze(ctx context.Context, host config.Host, ip string) (*AnalysisResult, error) {
	marker := string(host.Panel)
	if marker == "" {
		marker = string(config.PanelUnknown)
	}
	a.logger.Warn().Err(&fwerr.UnsupportedPanelError{Panel: marker}).Str("host", host.ID).Msg("degrading to CSF-only analysis")
	return a.run(ctx, host, ip, append([]step{}, csfBattery...), marker)
}

// New selects the analyzer for a panel
func New(panel config.Panel, runner *remote.Runner, catalog *commands.Catalog, opts ...Option) Analyzer {
	b := newBase(runner, catalog, opts...)
	switch panel {
	case config.PanelCPanel:
		return &CpanelAnalyzer{b}
	case config.PanelDirectAdmin:
		return &DirectAdminAnalyzer{b}
	default:
		return &UnknownPanelAnalyzer{base: b, panel: panel}
	}
}

// Supported returns an *fwerr.UnsupportedPanelError for panels without a dedicated analyzer
func Supported(panel config.Panel) error {
	switch panel {
	case config.PanelCPanel, config.PanelDirectAdmin:
		return nil
	}
	return &fwerr.UnsupportedPanelError{Panel: string(panel)}
}

// Analyze picks the analyzer for host's panel and runs it
func Analyze(ctx context.Context, runner *remote.Runner, catalog *commands.Catalog, host config.Host, ip string) (*AnalysisResult, error) {
	return New(host.Panel, runner, catalog).Analyze(ctx, host, ip)
}

// ValidateIP accepts IPv4 and IPv6 literals without zone
func ValidateIP(ip string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil || addr.Zone() != "" {
		return &fwerr.InvalidIPError{IP: ip}
	}
	return nil
}

func (b *base) run(ctx context.Context, host config.Host, ip string, battery []step, unsupported string) (*AnalysisResult, error) {
	ip = strings.TrimSpace(ip)
	if err := ValidateIP(ip); err != nil {
		return nil, err
	}

	// Resolve every command before touching the network
	cmds := make([]string, len(battery))
	for i, st := range battery {
		cmd, err := b.catalog.Build(st.op, ip)
		if err != nil {
			return nil, err
		}
		cmds[i] = cmd
	}

	logger := b.logger.With().Str("host", host.ID).Str("ip", ip).Logger()

	session, err := b.runner.CreateSession(host)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Cleanup(); err != nil {
			logger.Error().Err(err).Msg("session cleanup failed")
		}
	}()

	if err := session.Connect(ctx); err != nil {
		return nil, err
	}

	logs := make(map[string]string, len(battery))
	var failed []string
	for i, st := range battery {
		out, err := session.Execute(ctx, cmds[i])
		if err != nil {
			logger.Error().Err(err).Str("source", st.source).Msg("diagnostic command failed, treating as no output")
			failed = append(failed, st.source)
			out = ""
		}
		logs[st.source] = out
	}

	if raw, ok := logs[parsers.SourceModSecurity]; ok {
		logs[parsers.SourceModSecurity] = parsers.FilterModSecurity(raw, ip)
	}

	result := newResult(host, ip, logs, unsupported, failed)
	logger.Info().
		Bool("blocked", result.Blocked()).
		Strs("block_sources", result.analysis.BlockSources).
		Msg("firewall analysis complete")
	return result, nil
}
