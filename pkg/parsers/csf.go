// pkg/parsers/csf.go

package parsers

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// CsfBlockMarkers are the case-sensitive substrings of `csf -g` output that mean the IP is denied
var CsfBlockMarkers = []string{"DENYIN", "DENYOUT", "DROP", "LOGDROPOUT", "csf.deny:"}

// csfNoMatches is printed by `csf -g` for every table that does not know the IP
const csfNoMatches = "No matches found"

// Block types reported in CsfSummary.BlockType
const (
	BlockTypeDenyFile      = "csf_deny"
	BlockTypeFirewallRules = "firewall_rules"
	BlockTypeTempIP        = "csf_tempip"
)

const reasonShortLen = 80

// DenyLine is one parsed csf.deny entry. Every field is optional: zero values mean
// the line did not carry that piece of information.
type DenyLine struct {
	IP         string `json:"ip,omitempty"`
	ReasonType string `json:"reason_type,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Location   string `json:"location,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Timeframe  int    `json:"timeframe,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

var (
	denyReasonTypeRe = regexp.MustCompile(`^lfd:\s*\(([^)]+)\)\s*`)
	denyLocationRe   = regexp.MustCompile(`\(([A-Z]{2}/[^)]*)\)`)
	denyCountersRe   = regexp.MustCompile(`:?\s*(\d+)\s+in the last\s+(\d+)\s+secs`)
	denyFromRe       = regexp.MustCompile(`\s+from\s+\S+`)
	denyTimestampRe  = regexp.MustCompile(`\s+-\s+([A-Z][a-z]{2}\s+[A-Z][a-z]{2}\s+\d{1,2}\s+\d{1,2}:\d{2}:\d{2}\s+\d{4})\s*$`)
)

// ParseDenyLine parses a csf.deny line such as
//
//	158.173.23.58 # lfd: (smtpauth) Failed SMTP AUTH login from 158.173.23.58 (GB/United Kingdom/-): 5 in the last 3600 secs - Thu Oct 30 06:27:30 2025
//
// A leading "csf.deny:" prefix from `csf -g` output is accepted.
func ParseDenyLine(line string) DenyLine {
	var d DenyLine

	line = strings.TrimSpace(line)
	line = strings.TrimSpace(strings.TrimPrefix(line, "csf.deny:"))
	if line == "" {
		return d
	}

	head, comment, hasComment := strings.Cut(line, "#")
	if fields := strings.Fields(head); len(fields) > 0 {
		d.IP = fields[0]
	}
	if !hasComment {
		return d
	}
	comment = strings.TrimSpace(comment)

	// cut marks the earliest structured suffix; the free-text reason ends before it
	cut := len(comment)
	mark := func(idx int) {
		if idx >= 0 && idx < cut {
			cut = idx
		}
	}

	if m := denyTimestampRe.FindStringSubmatchIndex(comment); m != nil {
		d.Timestamp = comment[m[2]:m[3]]
		mark(m[0])
	} else if idx := strings.LastIndex(comment, " - "); idx >= 0 {
		d.Timestamp = strings.TrimSpace(comment[idx+3:])
		mark(idx)
	}

	if m := denyCountersRe.FindStringSubmatchIndex(comment[:cut]); m != nil {
		d.Attempts, _ = strconv.Atoi(comment[m[2]:m[3]])
		d.Timeframe, _ = strconv.Atoi(comment[m[4]:m[5]])
		mark(m[0])
	}

	if m := denyLocationRe.FindStringSubmatchIndex(comment[:cut]); m != nil {
		d.Location = comment[m[2]:m[3]]
		mark(m[0])
	}

	start := 0
	if m := denyReasonTypeRe.FindStringSubmatchIndex(comment); m != nil && m[1] <= cut {
		d.ReasonType = comment[m[2]:m[3]]
		start = m[1]
	} else if strings.HasPrefix(comment, "lfd:") {
		start = len("lfd:")
	}
	if start > cut {
		start = cut
	}

	body := comment[start:cut]
	if m := denyFromRe.FindStringIndex(body); m != nil {
		body = body[:m[0]]
	}
	d.Reason = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(body), ":"))

	return d
}

// CsfSummary is the human-readable verdict over the whole `csf -g` output
type CsfSummary struct {
	Blocked      bool      `json:"blocked"`
	NoMatches    bool      `json:"no_matches,omitempty"`
	BlockType    string    `json:"block_type,omitempty"`
	ReasonShort  string    `json:"reason_short,omitempty"`
	Attempts     int       `json:"attempts,omitempty"`
	Location     string    `json:"location,omitempty"`
	BlockedSince string    `json:"blocked_since,omitempty"`
	DenyLine     *DenyLine `json:"deny_line,omitempty"`
}

// ParseCsfSummary decides whether `csf -g` output shows a block. A DENY/DROP table entry
// or csf.deny line is authoritative; otherwise "No matches found" means not blocked.
func ParseCsfSummary(output string) CsfSummary {
	if strings.TrimSpace(output) == "" {
		return CsfSummary{}
	}

	if !containsAny(output, CsfBlockMarkers, false) {
		return CsfSummary{NoMatches: strings.Contains(output, csfNoMatches)}
	}

	summary := CsfSummary{Blocked: true, BlockType: BlockTypeFirewallRules}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "csf.deny:") {
			continue
		}

		deny := ParseDenyLine(line)
		summary.DenyLine = &deny
		summary.BlockType = BlockTypeDenyFile
		summary.ReasonShort = ShortReason(deny)
		summary.Attempts = deny.Attempts
		summary.Location = deny.Location
		summary.BlockedSince = deny.Timestamp
		break
	}

	return summary
}

// ShortReason returns the reason truncated for table display
func ShortReason(d DenyLine) string {
	reason := d.Reason
	if reason == "" {
		reason = d.ReasonType
	}
	if utf8.RuneCountInString(reason) <= reasonShortLen {
		return reason
	}
	runes := []rune(reason)
	return strings.TrimSpace(string(runes[:reasonShortLen-3])) + "..."
}
