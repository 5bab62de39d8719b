// cmd/multi.go

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hostops/csf-unblocker/pkg/action"
	"github.com/hostops/csf-unblocker/pkg/analyzer"
	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/report"
	"github.com/hostops/csf-unblocker/pkg/utils"
)

// newMultiCmd creates the multi-host subcommand
func newMultiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "multi <ip>",
		Short: "Check (and optionally unblock) an IP on many hosts",
		Long: `Checks one IP on every inventory host, or the hosts of one group, in parallel.
Generates a report per host and a consolidated summary report.`,
		Args: cobra.ExactArgs(1),
		RunE: runMultiHostCommand,
	}

	cmd.Flags().String("group", "", "Only check hosts of this inventory group")
	cmd.Flags().Int("max-parallel", 0, "Maximum number of parallel connections (settings multi.parallel when 0)")
	cmd.Flags().Bool("unblock", false, "Remove CSF and BFM blocks where found")
	cmd.Flags().Bool("dry-run", false, "With --unblock, print the planned operations without running them")

	return cmd
}

type hostResult struct {
	host     config.Host
	result   action.Result
	duration time.Duration
}

func runMultiHostCommand(cmd *cobra.Command, args []string) error {
	ip := args[0]
	group, _ := cmd.Flags().GetString("group")
	maxParallel, _ := cmd.Flags().GetInt("max-parallel")
	unblock, _ := cmd.Flags().GetBool("unblock")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if err := analyzer.ValidateIP(ip); err != nil {
		return err
	}

	a, err := loadApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if maxParallel <= 0 {
		maxParallel = a.settings.Multi.Parallel
	}

	hosts := a.hosts.GetAllHosts()
	if group != "" {
		hosts = a.hosts.GetHostsByGroup(group)
	}
	if len(hosts) == 0 {
		return errors.Newf("no hosts found in %s (group %q)", hostsFile, group)
	}

	fmt.Printf("\n")
	fmt.Printf("╔══════════════════════════════════════════════════╗\n")
	fmt.Printf("║          Multi-Host Firewall Check               ║\n")
	fmt.Printf("╚══════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("IP:                   %s\n", ip)
	fmt.Printf("Hosts to check:       %d\n", len(hosts))
	fmt.Printf("Parallel connections: %d\n", maxParallel)
	fmt.Printf("Unblock:              %v (dry run: %v)\n", unblock, dryRun)
	fmt.Printf("\n")

	timestamp := time.Now().Format("20060102-150405")
	baseOutputDir := filepath.Join(a.settings.Report.Dir, fmt.Sprintf("multi-%s-%s", utils.SanitizeFilename(ip), timestamp))
	hostsOutputDir := filepath.Join(baseOutputDir, "hosts")
	if !noReport {
		if err := os.MkdirAll(hostsOutputDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create output directories")
		}
	}

	checker := a.action(hostsOutputDir)
	cache := report.NewCheckCache()

	bar := progressbar.NewOptions(len(hosts),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetDescription("[cyan]Checking hosts[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	results := make(chan hostResult, len(hosts))
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxParallel)

	startTime := time.Now()

	for _, host := range hosts {
		wg.Add(1)
		go func(host config.Host) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			hostStart := time.Now()
			res := checker.Run(cmd.Context(), action.Request{
				HostID:   host.ID,
				IP:       ip,
				Unblock:  unblock,
				DryRun:   dryRun,
				Operator: operator,
			})

			bar.Add(1)
			results <- hostResult{host: host, result: res, duration: time.Since(hostStart)}
		}(host)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var collected []hostResult
	for r := range results {
		rec := r.result.Record
		if rec == nil {
			// Refused before any remote work
			rec = report.NewRecord(r.host, ip, operator, nil, nil)
			rec.Fail(r.result.ErrorClass, r.result.Message, r.result.Hint)
		}
		cache.Put(r.host.ID, rec, r.result.ReportPath)
		collected = append(collected, r)
	}

	bar.Finish()
	fmt.Printf("\n\n")

	printMultiResults(collected)

	if !noReport {
		summary := report.NewSummaryReport(baseOutputDir, ip)
		summary.AddFromCache(cache)
		path, err := summary.GenerateSummaryReport()
		if err != nil {
			return err
		}
		fmt.Printf("Summary report: %s\n", path)
	}

	fmt.Printf("\nTotal execution time: %s\n", time.Since(startTime).Round(time.Second))
	if !noReport {
		fmt.Printf("Reports location: %s\n", baseOutputDir)
	}

	for _, r := range collected {
		if !r.result.Success {
			return errCheckFailed
		}
	}
	return nil
}

func printMultiResults(collected []hostResult) {
	fmt.Printf("╔══════════════════════════════════════════════════╗\n")
	fmt.Printf("║                  Results Summary                 ║\n")
	fmt.Printf("╚══════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	groups := []struct {
		title string
		paint *color.Color
		state report.HostState
	}{
		{"Blocked", color.New(color.FgYellow, color.Bold), report.HostBlocked},
		{"Unblocked", color.New(color.FgCyan, color.Bold), report.HostUnblocked},
		{"Failed", color.New(color.FgRed, color.Bold), report.HostFailed},
		{"Clear", color.New(color.FgGreen, color.Bold), report.HostClean},
	}

	for _, g := range groups {
		var lines []string
		for _, r := range collected {
			rec := r.result.Record
			if rec == nil {
				if g.state == report.HostFailed && !r.result.Success {
					lines = append(lines, fmt.Sprintf("%s: %s", r.host.ID, r.result.Message))
				}
				continue
			}
			if report.StateOf(rec) != g.state {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s (%v): %s", r.host.ID, r.duration.Round(time.Millisecond), r.result.Message))
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Println(g.paint.Sprintf("%s (%d):", g.title, len(lines)))
		for _, line := range lines {
			fmt.Printf("  • %s\n", line)
		}
		fmt.Printf("\n")
	}
}
