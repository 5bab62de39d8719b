// pkg/report/summary_report.go

package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// HostState is the single verdict a host gets in the summary
type HostState string

const (
	HostFailed    HostState = "Failed"
	HostBlocked   HostState = "Blocked"
	HostUnblocked HostState = "Unblocked"
	HostClean     HostState = "Clean"
)

// StateOf derives the summary verdict of a record
func StateOf(rec *Record) HostState {
	switch {
	case !rec.Success:
		return HostFailed
	case rec.Unblocked:
		return HostUnblocked
	case rec.Blocked:
		return HostBlocked
	}
	return HostClean
}

// SummaryReport consolidates the checks of one IP across many hosts
type SummaryReport struct {
	GeneratedTime time.Time
	OutputDir     string
	IP            string

	HostRecords map[string]*Record
	HostReports map[string]*AsciiDocReport

	TotalHosts     int
	FailedCount    int
	BlockedCount   int
	UnblockedCount int
	CleanCount     int
	// HostsBySource maps a block source to the hosts reporting it
	HostsBySource map[string][]string
}

// NewSummaryReport creates a new summary report generator
func NewSummaryReport(outputDir, ip string) *SummaryReport {
	return &SummaryReport{
		GeneratedTime: time.Now(),
		OutputDir:     outputDir,
		IP:            ip,
		HostRecords:   make(map[string]*Record),
		HostReports:   make(map[string]*AsciiDocReport),
		HostsBySource: make(map[string][]string),
	}
}

// AddHost adds the record of hostID and, when one was rendered, its report
func (s *SummaryReport) AddHost(hostID string, rec *Record, report *AsciiDocReport) {
	s.HostRecords[hostID] = rec
	if report != nil {
		s.HostReports[hostID] = report
	}
	s.TotalHosts = len(s.HostRecords)
}

// AddFromCache adds every host held by cache, rebuilding reports from their records
func (s *SummaryReport) AddFromCache(cache *CheckCache) {
	for _, id := range cache.HostIDs() {
		rec, _ := cache.Get(id)
		path, _ := cache.ReportPath(id)
		s.AddHost(id, rec, BuildReport(rec, path))
	}
}

// analyzeRecords tallies host states and block sources
func (s *SummaryReport) analyzeRecords() {
	s.FailedCount = 0
	s.BlockedCount = 0
	s.UnblockedCount = 0
	s.CleanCount = 0
	s.HostsBySource = make(map[string][]string)

	for _, hostID := range s.sortedHosts() {
		rec := s.HostRecords[hostID]
		switch StateOf(rec) {
		case HostFailed:
			s.FailedCount++
		case HostBlocked:
			s.BlockedCount++
		case HostUnblocked:
			s.UnblockedCount++
		default:
			s.CleanCount++
		}
		for _, source := range rec.BlockSources() {
			s.HostsBySource[source] = append(s.HostsBySource[source], hostID)
		}
	}
}

// GenerateSummaryReport writes the consolidated report and returns its path
func (s *SummaryReport) GenerateSummaryReport() (string, error) {
	s.analyzeRecords()

	if err := os.MkdirAll(s.OutputDir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create summary directory")
	}

	filename := filepath.Join(s.OutputDir, fmt.Sprintf("%s-%s-firewall-summary.adoc",
		s.GeneratedTime.Format("2006-01-02-150405"), strings.ReplaceAll(s.IP, ":", "_")))

	if err := os.WriteFile(filename, []byte(s.Content()), 0644); err != nil {
		return "", errors.Wrap(err, "failed to write summary report")
	}
	return filename, nil
}

// Content renders the summary
func (s *SummaryReport) Content() string {
	s.analyzeRecords()

	var content strings.Builder

	content.WriteString(fmt.Sprintf("= Firewall Check Summary: %s\n", s.IP))
	content.WriteString(fmt.Sprintf("Generated: %s\n", s.GeneratedTime.Format("2006-01-02 15:04:05")))
	content.WriteString(fmt.Sprintf("Total Hosts: %d | Blocked: %d | Unblocked: %d | Failed: %d | Clean: %d\n\n",
		s.TotalHosts, s.BlockedCount, s.UnblockedCount, s.FailedCount, s.CleanCount))

	content.WriteString("== Dashboard\n\n")
	content.WriteString(s.generateDashboard())

	if len(s.HostsBySource) > 0 {
		content.WriteString("== Block Sources\n\n")
		content.WriteString(s.generateSourceBreakdown())
	}

	required := s.groupIssues(ResultKeyRequired)
	if len(required) > 0 {
		content.WriteString("== PRIORITY 1: Blocks Still In Place or Failed Checks\n\n")
		content.WriteString(s.formatGroupedIssues(required))
	}

	recommended := s.groupIssues(ResultKeyRecommended)
	if len(recommended) > 0 {
		content.WriteString("== PRIORITY 2: Unverified Remediation\n\n")
		content.WriteString(s.formatGroupedIssues(recommended))
	}

	content.WriteString("== Host Matrix\n\n")
	content.WriteString(s.generateHostMatrix())

	if len(s.HostReports) > 0 {
		content.WriteString("== Individual Host Reports\n\n")
		for _, hostID := range s.sortedHosts() {
			report, ok := s.HostReports[hostID]
			if !ok || report.OutputPath == "" {
				continue
			}
			content.WriteString(fmt.Sprintf("* link:hosts/%s[%s - %s]\n",
				filepath.Base(report.OutputPath), hostID, report.Title))
		}
		content.WriteString("\n")
	}

	return content.String()
}

// generateDashboard creates a bar chart of host states
func (s *SummaryReport) generateDashboard() string {
	var sb strings.Builder

	sb.WriteString("[listing]\n----\n")
	for _, row := range []struct {
		label string
		count int
	}{
		{"Blocked:   ", s.BlockedCount},
		{"Unblocked: ", s.UnblockedCount},
		{"Failed:    ", s.FailedCount},
		{"Clean:     ", s.CleanCount},
	} {
		sb.WriteString(fmt.Sprintf("%s %s %d (%.0f%%)\n",
			row.label, strings.Repeat("█", min(row.count*5, 20)), row.count, s.percent(row.count)))
	}
	sb.WriteString("----\n\n")

	return sb.String()
}

func (s *SummaryReport) percent(n int) float64 {
	if s.TotalHosts == 0 {
		return 0
	}
	return float64(n) / float64(s.TotalHosts) * 100
}

// generateSourceBreakdown lists which hosts report each block source
func (s *SummaryReport) generateSourceBreakdown() string {
	var sb strings.Builder

	var sources []string
	for source := range s.HostsBySource {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	sb.WriteString("[cols=\"1,1,4\", options=header]\n|===\n")
	sb.WriteString("|Source |Hosts |Affected\n\n")
	for _, source := range sources {
		hosts := s.HostsBySource[source]
		shown := hosts[:min(5, len(hosts))]
		affected := strings.Join(shown, ", ")
		if len(hosts) > 5 {
			affected += fmt.Sprintf(" ... and %d more", len(hosts)-5)
		}
		sb.WriteString(fmt.Sprintf("|%s |%d |%s\n", source, len(hosts), affected))
	}
	sb.WriteString("|===\n\n")

	return sb.String()
}

// groupIssues groups report checks with the given result key by check and message
func (s *SummaryReport) groupIssues(severity ResultKey) map[string][]IssueSummary {
	grouped := make(map[string][]IssueSummary)

	for _, hostID := range s.sortedHosts() {
		report, ok := s.HostReports[hostID]
		if !ok {
			continue
		}
		for _, check := range report.Checks {
			if check.Result.ResultKey != severity {
				continue
			}
			issueKey := fmt.Sprintf("%s_%s", check.Category, check.Name)

			found := false
			for i := range grouped[issueKey] {
				if grouped[issueKey][i].Message == check.Result.Message {
					grouped[issueKey][i].Hosts = append(grouped[issueKey][i].Hosts, hostID)
					found = true
					break
				}
			}

			if !found {
				issue := IssueSummary{
					Category:  check.Category,
					CheckName: check.Name,
					Message:   check.Result.Message,
					Severity:  severity,
					Hosts:     []string{hostID},
				}
				if len(check.Result.Recommendations) > 0 {
					issue.Remediation = check.Result.Recommendations[0]
				}
				grouped[issueKey] = append(grouped[issueKey], issue)
			}
		}
	}

	return grouped
}

// formatGroupedIssues formats grouped issues for output
func (s *SummaryReport) formatGroupedIssues(grouped map[string][]IssueSummary) string {
	var sb strings.Builder

	var issueTypes []string
	for issueType := range grouped {
		issueTypes = append(issueTypes, issueType)
	}
	sort.Strings(issueTypes)

	for _, issueType := range issueTypes {
		issues := grouped[issueType]
		if len(issues) == 0 {
			continue
		}

		affected := 0
		for _, issue := range issues {
			affected += len(issue.Hosts)
		}

		sb.WriteString(fmt.Sprintf("=== %s (Affects %d hosts)\n\n", issues[0].CheckName, affected))
		sb.WriteString("[cols=\"2,4,2\", options=header]\n|===\n")
		sb.WriteString("|Host |Issue |Action Required\n\n")

		for _, issue := range issues {
			for _, host := range issue.Hosts {
				sb.WriteString(fmt.Sprintf("|%s |%s |%s\n",
					host, escapeCell(issue.Message), escapeCell(issue.Remediation)))
			}
		}
		sb.WriteString("|===\n\n")
	}

	return sb.String()
}

// generateHostMatrix creates one row per host
func (s *SummaryReport) generateHostMatrix() string {
	var sb strings.Builder

	sb.WriteString("[cols=\"3,1,3,1\", options=header]\n|===\n")
	sb.WriteString("|Host |Panel |Block Sources |State\n\n")

	for _, hostID := range s.sortedHosts() {
		rec := s.HostRecords[hostID]
		state := StateOf(rec)

		color := "#00FF00"
		switch state {
		case HostFailed, HostBlocked:
			color = "#FF0000"
		case HostUnblocked:
			color = "#80E5FF"
		}

		name := hostID
		if report, ok := s.HostReports[hostID]; ok && report.OutputPath != "" {
			name = fmt.Sprintf("link:hosts/%s[%s]", filepath.Base(report.OutputPath), hostID)
		}

		sources := strings.Join(rec.BlockSources(), ", ")
		if state == HostFailed {
			sources = rec.ErrorClass
		}
		if sources == "" {
			sources = "-"
		}

		sb.WriteString(fmt.Sprintf("|%s |%s |%s |{set:cellbgcolor:%s}%s\n",
			name, rec.Panel, sources, color, state))
		sb.WriteString("{set:cellbgcolor!}\n")
	}

	sb.WriteString("|===\n\n")
	sb.WriteString("{set:cellbgcolor!}\n\n")

	return sb.String()
}

func (s *SummaryReport) sortedHosts() []string {
	hosts := make([]string, 0, len(s.HostRecords))
	for hostID := range s.HostRecords {
		hosts = append(hosts, hostID)
	}
	sort.Strings(hosts)
	return hosts
}

// IssueSummary represents a summary of an issue for reporting
type IssueSummary struct {
	Category    Category
	CheckName   string
	Message     string
	Severity    ResultKey
	Hosts       []string
	Remediation string
}
