// pkg/parsers/detect.go

package parsers

import (
	"sort"
	"strings"
)

// Log source keys used in AnalysisResult logs
const (
	SourceCSF         = "csf"
	SourceCSFDeny     = "csf_deny"
	SourceCSFTempIP   = "csf_tempip"
	SourceBFM         = "da_bfm"
	SourceExim        = "exim"
	SourceDovecot     = "dovecot"
	SourceModSecurity = "mod_security"
)

// Services reported in block_sources
const (
	ServiceCSF         = "csf"
	ServiceBFM         = "bfm"
	ServiceExim        = "exim"
	ServiceDovecot     = "dovecot"
	ServiceModSecurity = "modsecurity"
)

// detector is the keyword list for one service. An empty keyword list means any
// non-blank output is a block (grep-style checks that only print matching lines).
type detector struct {
	keywords        []string
	caseInsensitive bool
}

var detectors = map[string]detector{
	ServiceCSF: {
		keywords: append(append([]string(nil), CsfBlockMarkers...), "Temporary Blocks"),
	},
	ServiceBFM: {},
	ServiceExim: {
		keywords:        []string{"authenticator failed", "incorrect authentication data"},
		caseInsensitive: true,
	},
	ServiceDovecot: {
		keywords:        []string{"auth failed", "authentication failure", "password mismatch"},
		caseInsensitive: true,
	},
	ServiceModSecurity: {
		keywords: []string{"Rules:"},
	},
}

// sourceService maps each log source to the service whose detector reads it
var sourceService = map[string]string{
	SourceCSF:         ServiceCSF,
	SourceCSFDeny:     ServiceCSF,
	SourceCSFTempIP:   ServiceCSF,
	SourceBFM:         ServiceBFM,
	SourceExim:        ServiceExim,
	SourceDovecot:     ServiceDovecot,
	SourceModSecurity: ServiceModSecurity,
}

// greppedSources hold pre-filtered grep output: any line means the IP is listed
var greppedSources = map[string]bool{
	SourceCSFDeny:   true,
	SourceCSFTempIP: true,
	SourceBFM:       true,
}

// ServiceForSource returns the service a log source belongs to
func ServiceForSource(source string) (string, bool) {
	service, ok := sourceService[source]
	return service, ok
}

// Detect reports whether text from service shows a block. Blank text never does.
func Detect(service, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	d, ok := detectors[service]
	if !ok {
		return false
	}
	if len(d.keywords) == 0 {
		return true
	}
	return containsAny(text, d.keywords, d.caseInsensitive)
}

// DetectBlockSources returns the sorted, de-duplicated services whose logs show a block.
// Unknown source keys are ignored.
func DetectBlockSources(logs map[string]string) []string {
	seen := make(map[string]bool)
	for source, text := range logs {
		service, ok := sourceService[source]
		if !ok || seen[service] {
			continue
		}

		blocked := false
		if greppedSources[source] {
			blocked = strings.TrimSpace(text) != ""
		} else {
			blocked = Detect(service, text)
		}
		if blocked {
			seen[service] = true
		}
	}

	sources := make([]string, 0, len(seen))
	for service := range seen {
		sources = append(sources, service)
	}
	sort.Strings(sources)
	return sources
}

func containsAny(text string, keywords []string, caseInsensitive bool) bool {
	if caseInsensitive {
		text = strings.ToLower(text)
	}
	for _, kw := range keywords {
		if caseInsensitive {
			kw = strings.ToLower(kw)
		}
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
