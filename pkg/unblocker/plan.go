// pkg/unblocker/plan.go

package unblocker

import (
	"strings"

	"github.com/hostops/csf-unblocker/pkg/analyzer"
	"github.com/hostops/csf-unblocker/pkg/commands"
	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/parsers"
)

// csfBlockMarkers in `csf -g` output that call for CSF remediation
var csfBlockMarkers = []string{"DENYIN", "DROP", "Temporary Blocks"}

// Plan is the remediation decided from an analysis
type Plan struct {
	HasCSFBlock bool `json:"has_csf_block"`
	HasBFMBlock bool `json:"has_bfm_block"`
	// CSF runs `csf -dr` followed by the temporal whitelist
	CSF bool `json:"csf"`
	// BFM runs the fetch-filter-rewrite-verify blacklist removal
	BFM bool `json:"bfm"`
}

// Empty reports whether the plan performs no operations
func (p Plan) Empty() bool { return !p.CSF && !p.BFM }

// Operations lists the catalog operations the plan will run, in order
func (p Plan) Operations() []string {
	var ops []string
	if p.CSF {
		ops = append(ops, commands.OpCSFRemove, commands.OpWhitelist)
	}
	if p.BFM {
		ops = append(ops, commands.OpBFMRemove)
	}
	return ops
}

// HasCSFBlock reports whether the logs show a CSF deny, drop or temporary block
func HasCSFBlock(result *analyzer.AnalysisResult) bool {
	csf := result.Log(parsers.SourceCSF)
	for _, marker := range csfBlockMarkers {
		if strings.Contains(csf, marker) {
			return true
		}
	}
	return strings.TrimSpace(result.Log(parsers.SourceCSFDeny)) != "" ||
		strings.TrimSpace(result.Log(parsers.SourceCSFTempIP)) != ""
}

// HasBFMBlock reports whether the DirectAdmin blacklist check found the IP
func HasBFMBlock(result *analyzer.AnalysisResult) bool {
	return strings.TrimSpace(result.Log(parsers.SourceBFM)) != ""
}

// NewPlan applies the rule table:
//
//	csf   bfm   action
//	yes   yes   CSF unblock + whitelist, BFM removal
//	yes   no    CSF unblock + whitelist
//	no    yes   BFM removal only, no whitelist
//	no    no    nothing
//
// BFM only applies to DirectAdmin hosts.
func NewPlan(result *analyzer.AnalysisResult, host config.Host) Plan {
	p := Plan{
		HasCSFBlock: HasCSFBlock(result),
		HasBFMBlock: host.Panel == config.PanelDirectAdmin && HasBFMBlock(result),
	}
	p.CSF = p.HasCSFBlock
	p.BFM = p.HasBFMBlock
	return p
}
