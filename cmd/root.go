// cmd/root.go

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hostops/csf-unblocker/pkg/action"
	"github.com/hostops/csf-unblocker/pkg/commands"
	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/remote"
	"github.com/hostops/csf-unblocker/pkg/report"
)

// errCheckFailed is returned after a failed check has already been printed
var errCheckFailed = errors.New("firewall check failed")

var (
	settingsFile   string
	hostsFile      string
	verboseOutput  bool
	logJSON        bool
	noReport       bool
	operator       string
	operatorGroups []string
	rootCmd        = &cobra.Command{
		Use:   "fw-unblock",
		Short: "CSF / DirectAdmin BFM firewall diagnosis and unblock tool",
		Long: `Checks why an IP address is blocked on a managed cPanel or DirectAdmin server
(CSF deny and temporary lists, DirectAdmin Brute Force Monitor, Exim and Dovecot
authentication failures, ModSecurity) and removes CSF and BFM blocks on request.
Every check is written to an AsciiDoc report and a SQLite audit log.`,
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
	}
)

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&settingsFile, "config", "c", "", "YAML settings file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVarP(&hostsFile, "hosts", "H", "hosts.ini", "Hosts inventory file")
	rootCmd.PersistentFlags().BoolVarP(&verboseOutput, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON instead of console text")
	rootCmd.PersistentFlags().BoolVar(&noReport, "no-report", false, "Skip writing reports and the audit row")
	rootCmd.PersistentFlags().StringVar(&operator, "operator", defaultOperator(), "Operator name recorded in the audit log")
	rootCmd.PersistentFlags().StringSliceVar(&operatorGroups, "operator-groups", nil, "Inventory groups the operator may act on (all when empty)")

	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newUnblockCmd())
	rootCmd.AddCommand(newMultiCmd())
	rootCmd.AddCommand(newHistoryCmd())
}

func setupLogging(cmd *cobra.Command, args []string) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verboseOutput {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if !logJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return nil
}

func defaultOperator() string {
	if u := os.Getenv("SUDO_USER"); u != "" {
		return u
	}
	return os.Getenv("USER")
}

// app holds what every subcommand loads
type app struct {
	settings *config.Settings
	hosts    *config.HostsConfig
	runner   *remote.Runner
	catalog  *commands.Catalog
	store    *report.Store
}

// loadApp loads settings and the inventory. The audit store is opened when withStore is set.
func loadApp(withStore bool) (*app, error) {
	settings, err := config.LoadSettings(settingsFile)
	if err != nil {
		return nil, err
	}

	hosts := config.NewHostsConfig()
	if err := hosts.LoadFromFile(hostsFile); err != nil {
		return nil, errors.WithHint(err, "pass the inventory with --hosts")
	}

	a := &app{
		settings: settings,
		hosts:    hosts,
		runner:   remote.NewRunner(remote.OptionsFromSettings(settings.SSH), remote.WithLogger(log.Logger)),
		catalog:  commands.NewCatalog(settings.Paths, settings.CSF.WhitelistTTL),
	}

	if withStore && !noReport {
		store, err := report.OpenStore(settings.Report.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
	}

	return a, nil
}

// Close releases the audit store and persisted SSH transports
func (a *app) Close() {
	a.runner.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close audit database")
		}
	}
}

// generator writes reports into dir, or nil with --no-report
func (a *app) generator(dir string) *report.Generator {
	if noReport {
		return nil
	}
	g := report.NewGenerator(dir, a.store)
	g.Compress = a.settings.Report.Compress
	g.Password = a.settings.Report.Password
	return g
}

// action builds the orchestrator writing reports into reportDir
func (a *app) action(reportDir string) *action.CheckFirewall {
	opts := []action.Option{
		action.WithRetry(a.settings.Action.ConnectRetries, a.settings.Action.RetryBackoff),
		action.WithNotifier(action.LogNotifier{Logger: log.Logger}),
		action.WithLogger(log.Logger),
	}
	if len(operatorGroups) > 0 {
		opts = append(opts, action.WithAuthorizer(action.GroupAuthorizer{Groups: operatorGroups}))
	}
	if g := a.generator(reportDir); g != nil {
		opts = append(opts, action.WithReports(g))
	}
	return action.New(a.hosts, a.runner, a.catalog, opts...)
}

// printResult prints the verdict of one request
func printResult(res action.Result) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow, color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Println()
	switch {
	case !res.Success:
		fmt.Printf("%s %s\n", red("✗ FAILED"), res.Message)
		if res.ErrorClass != "" {
			fmt.Printf("  Error class: %s\n", res.ErrorClass)
		}
		if res.Hint != "" {
			fmt.Printf("  Hint:        %s\n", res.Hint)
		}
	case res.Unblocked:
		fmt.Printf("%s %s\n", green("✓ UNBLOCKED"), res.Message)
	case res.Blocked:
		fmt.Printf("%s %s\n", yellow("! BLOCKED"), res.Message)
	default:
		fmt.Printf("%s %s\n", green("✓ CLEAR"), res.Message)
	}

	if res.Analysis != nil {
		analysis := res.Analysis.Analysis()
		if d := analysis.BlockingDetails; d != nil && d.CSF != nil && d.CSF.ReasonShort != "" {
			fmt.Printf("  CSF reason:  %s\n", d.CSF.ReasonShort)
		}
		if analysis.UnsupportedPanel != "" {
			fmt.Printf("  Panel %q is not supported, only CSF was checked\n", analysis.UnsupportedPanel)
		}
		if len(analysis.FailedSources) > 0 {
			fmt.Printf("  Could not read: %s\n", strings.Join(analysis.FailedSources, ", "))
		}
	}
	if res.Outcome != nil && res.Outcome.DryRun {
		ops := res.Outcome.Plan.Operations()
		if len(ops) == 0 {
			ops = []string{"none"}
		}
		fmt.Printf("  Planned:     %s\n", strings.Join(ops, ", "))
	}
	if res.ReportPath != "" {
		fmt.Printf("  Report:      %s\n", cyan(res.ReportPath))
	}
}
