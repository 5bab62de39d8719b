// pkg/analyzer/result.go

package analyzer

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/parsers"
)

// BFMDetail lists the blacklist entries matching the IP
type BFMDetail struct {
	Entries []string `json:"entries"`
}

// ModSecDetail summarises the filtered ModSecurity transactions
type ModSecDetail struct {
	Entries int      `json:"entries"`
	RuleIDs []string `json:"rule_ids,omitempty"`
}

// BlockingDetails holds parser-specific facts for every source that reported a block
type BlockingDetails struct {
	CSF         *parsers.CsfSummary       `json:"csf,omitempty"`
	BFM         *BFMDetail                `json:"bfm,omitempty"`
	Exim        *parsers.MailAuthFailures `json:"exim,omitempty"`
	Dovecot     *parsers.MailAuthFailures `json:"dovecot,omitempty"`
	ModSecurity *ModSecDetail             `json:"modsecurity,omitempty"`
}

// Analysis is the derived part of an AnalysisResult
type Analysis struct {
	BlockSources    []string         `json:"block_sources"`
	BlockingDetails *BlockingDetails `json:"blocking_details,omitempty"`
	// UnsupportedPanel names the panel that only got CSF checks
	UnsupportedPanel string `json:"unsupported_panel,omitempty"`
	// FailedSources are the log sources whose command could not be run
	FailedSources []string `json:"failed_sources,omitempty"`
}

// AnalysisResult is the immutable outcome of one firewall analysis.
// Blocked is true exactly when BlockSources is non-empty.
type AnalysisResult struct {
	hostID    string
	panel     config.Panel
	ip        string
	logs      map[string]string
	analysis  Analysis
	checkedAt time.Time
}

// resultJSON is the wire form of AnalysisResult
type resultJSON struct {
	HostID    string            `json:"host_id"`
	Panel     config.Panel      `json:"panel"`
	IP        string            `json:"ip"`
	Blocked   bool              `json:"blocked"`
	Logs      map[string]string `json:"logs"`
	Analysis  Analysis          `json:"analysis"`
	CheckedAt time.Time         `json:"checked_at"`
}

// NewResult builds a result from collected logs, deriving block sources and details.
// logs is copied.
func NewResult(host config.Host, ip string, logs map[string]string) *AnalysisResult {
	return newResult(host, ip, logs, "", nil)
}

func newResult(host config.Host, ip string, logs map[string]string, unsupported string, failed []string) *AnalysisResult {
	copied := make(map[string]string, len(logs))
	for k, v := range logs {
		copied[k] = v
	}

	sources := parsers.DetectBlockSources(copied)
	return &AnalysisResult{
		hostID: host.ID,
		panel:  host.Panel,
		ip:     ip,
		logs:   copied,
		analysis: Analysis{
			BlockSources:     sources,
			BlockingDetails:  blockingDetails(copied, sources),
			UnsupportedPanel: unsupported,
			FailedSources:    failed,
		},
		checkedAt: time.Now().UTC(),
	}
}

// HostID returns the analysed host id
func (r *AnalysisResult) HostID() string { return r.hostID }

// Panel returns the panel of the analysed host
func (r *AnalysisResult) Panel() config.Panel { return r.panel }

// IP returns the analysed address
func (r *AnalysisResult) IP() string { return r.ip }

// CheckedAt returns when the result was built
func (r *AnalysisResult) CheckedAt() time.Time { return r.checkedAt }

// Blocked reports whether any source showed a block
func (r *AnalysisResult) Blocked() bool { return len(r.analysis.BlockSources) > 0 }

// Log returns the output collected for source, "" if none
func (r *AnalysisResult) Log(source string) string { return r.logs[source] }

// Logs returns a copy of the raw outputs keyed by source
func (r *AnalysisResult) Logs() map[string]string {
	out := make(map[string]string, len(r.logs))
	for k, v := range r.logs {
		out[k] = v
	}
	return out
}

// Analysis returns a copy of the derived facts
func (r *AnalysisResult) Analysis() Analysis {
	a := r.analysis
	a.BlockSources = append([]string{}, r.analysis.BlockSources...)
	a.FailedSources = append([]string(nil), r.analysis.FailedSources...)
	if r.analysis.BlockingDetails != nil {
		details := *r.analysis.BlockingDetails
		a.BlockingDetails = &details
	}
	return a
}

// HasSource reports whether service is among the block sources
func (r *AnalysisResult) HasSource(service string) bool {
	for _, s := range r.analysis.BlockSources {
		if s == service {
			return true
		}
	}
	return false
}

// MarshalJSON implements json.Marshaler
func (r *AnalysisResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		HostID:    r.hostID,
		Panel:     r.panel,
		IP:        r.ip,
		Blocked:   r.Blocked(),
		Logs:      r.logs,
		Analysis:  r.analysis,
		CheckedAt: r.checkedAt,
	})
}

var modSecRuleIDRe = regexp.MustCompile(`\[([^\]]+)\] `)

func blockingDetails(logs map[string]string, sources []string) *BlockingDetails {
	if len(sources) == 0 {
		return nil
	}

	d := &BlockingDetails{}
	for _, service := range sources {
		switch service {
		case parsers.ServiceCSF:
			d.CSF = csfDetail(logs)
		case parsers.ServiceBFM:
			d.BFM = &BFMDetail{Entries: parsers.NonEmptyLines(logs[parsers.SourceBFM])}
		case parsers.ServiceExim:
			f := parsers.ParseMailAuthFailures(logs[parsers.SourceExim])
			d.Exim = &f
		case parsers.ServiceDovecot:
			f := parsers.ParseMailAuthFailures(logs[parsers.SourceDovecot])
			d.Dovecot = &f
		case parsers.ServiceModSecurity:
			d.ModSecurity = modSecDetail(logs[parsers.SourceModSecurity])
		}
	}
	return d
}

// csfDetail prefers the `csf -g` verdict, then falls back to the grepped deny and temp files
func csfDetail(logs map[string]string) *parsers.CsfSummary {
	summary := parsers.ParseCsfSummary(logs[parsers.SourceCSF])

	if summary.DenyLine == nil {
		if lines := parsers.NonEmptyLines(logs[parsers.SourceCSFDeny]); len(lines) > 0 {
			deny := parsers.ParseDenyLine(lines[0])
			summary.Blocked = true
			summary.BlockType = parsers.BlockTypeDenyFile
			summary.DenyLine = &deny
			summary.ReasonShort = parsers.ShortReason(deny)
			summary.Attempts = deny.Attempts
			summary.Location = deny.Location
			summary.BlockedSince = deny.Timestamp
		}
	}

	if !summary.Blocked {
		if strings.TrimSpace(logs[parsers.SourceCSFTempIP]) != "" {
			summary.Blocked = true
			summary.BlockType = parsers.BlockTypeTempIP
		} else if strings.Contains(logs[parsers.SourceCSF], "Temporary Blocks") {
			summary.Blocked = true
			summary.BlockType = parsers.BlockTypeTempIP
		}
	}
	summary.NoMatches = !summary.Blocked && summary.NoMatches
	return &summary
}

func modSecDetail(summary string) *ModSecDetail {
	d := &ModSecDetail{}
	seen := make(map[string]bool)
	for _, line := range parsers.NonEmptyLines(summary) {
		d.Entries++
		_, rules, ok := strings.Cut(line, "| Rules: ")
		if !ok {
			continue
		}
		for _, m := range modSecRuleIDRe.FindAllStringSubmatch(rules, -1) {
			if id := m[1]; !seen[id] {
				seen[id] = true
				d.RuleIDs = append(d.RuleIDs, id)
			}
		}
	}
	return d
}
