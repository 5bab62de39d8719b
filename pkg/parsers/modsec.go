// pkg/parsers/modsec.go

package parsers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ModSecRule is one matched rule in an audit transaction
type ModSecRule struct {
	ID      string `json:"rule_id,omitempty"`
	Message string `json:"message"`
}

// ModSecEntry is one audit transaction for a client
type ModSecEntry struct {
	Timestamp string       `json:"timestamp,omitempty"`
	ClientIP  string       `json:"client_ip"`
	URI       string       `json:"uri,omitempty"`
	Rules     []ModSecRule `json:"rules,omitempty"`
}

// String renders the entry as one summary line
func (e ModSecEntry) String() string {
	rules := make([]string, 0, len(e.Rules))
	for _, r := range e.Rules {
		rules = append(rules, fmt.Sprintf("[%s] %s", r.ID, r.Message))
	}
	return fmt.Sprintf("[%s] IP: %s | URI: %s | Rules: %s", e.Timestamp, e.ClientIP, e.URI, strings.Join(rules, "; "))
}

type modSecMessage struct {
	Message string `json:"message"`
	Details struct {
		RuleID string `json:"ruleId"`
	} `json:"details"`
}

type modSecEvent struct {
	Transaction struct {
		ClientIP  string `json:"client_ip"`
		TimeStamp string `json:"time_stamp"`
		Request   struct {
			URI string `json:"uri"`
		} `json:"request"`
		Messages []modSecMessage `json:"messages"`
	} `json:"transaction"`
	Messages []modSecMessage `json:"messages"`
}

// ParseModSecurity decodes JSON-lines audit output and keeps the transactions whose
// client_ip equals ip exactly. An empty ip keeps every transaction. Lines that are
// not JSON are skipped.
func ParseModSecurity(raw, ip string) []ModSecEntry {
	var entries []ModSecEntry

	for n, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var ev modSecEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			log.Debug().Err(err).Int("line", n+1).Msg("skipping non-JSON ModSecurity line")
			continue
		}

		clientIP := ev.Transaction.ClientIP
		if ip != "" && clientIP != ip {
			continue
		}

		messages := ev.Messages
		if len(messages) == 0 {
			messages = ev.Transaction.Messages
		}

		entry := ModSecEntry{
			Timestamp: ev.Transaction.TimeStamp,
			ClientIP:  clientIP,
			URI:       ev.Transaction.Request.URI,
		}
		for _, m := range messages {
			entry.Rules = append(entry.Rules, ModSecRule{ID: m.Details.RuleID, Message: m.Message})
		}
		entries = append(entries, entry)
	}

	return entries
}

// FilterModSecurity returns one summary line per matching transaction, or "" if none matched
func FilterModSecurity(raw, ip string) string {
	entries := ParseModSecurity(raw, ip)
	if len(entries) == 0 {
		return ""
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.String())
	}
	return strings.Join(lines, "\n")
}

// RuleIDs returns the distinct rule ids across entries, in first-seen order
func RuleIDs(entries []ModSecEntry) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		for _, r := range e.Rules {
			if r.ID == "" || seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			ids = append(ids, r.ID)
		}
	}
	return ids
}
