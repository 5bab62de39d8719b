// pkg/report/record.go

package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/hostops/csf-unblocker/pkg/analyzer"
	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/unblocker"
)

// Record is everything persisted about one firewall check
type Record struct {
	ID        string       `json:"id"`
	HostID    string       `json:"host_id"`
	FQDN      string       `json:"fqdn"`
	Panel     config.Panel `json:"panel"`
	IP        string       `json:"ip"`
	Operator  string       `json:"operator,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`

	Blocked      bool                          `json:"blocked"`
	Logs         map[string]string             `json:"logs,omitempty"`
	Analysis     *analyzer.Analysis            `json:"analysis,omitempty"`
	Remediation  *unblocker.RemediationOutcome `json:"remediation,omitempty"`
	Unblocked    bool                          `json:"unblocked"`
	Success      bool                          `json:"success"`
	ErrorClass   string                        `json:"error_class,omitempty"`
	ErrorMessage string                        `json:"error_message,omitempty"`
	Hint         string                        `json:"hint,omitempty"`
}

// NewRecord builds a record from an analysis and an optional remediation outcome.
// result may be nil when the check failed before analysis completed.
func NewRecord(host config.Host, ip, operator string, result *analyzer.AnalysisResult, outcome *unblocker.RemediationOutcome) *Record {
	r := &Record{
		ID:          uuid.NewString(),
		HostID:      host.ID,
		FQDN:        host.Address(),
		Panel:       host.Panel,
		IP:          ip,
		Operator:    operator,
		CheckedAt:   time.Now().UTC(),
		Remediation: outcome,
		Success:     true,
	}

	if result != nil {
		analysis := result.Analysis()
		r.Blocked = result.Blocked()
		r.Logs = result.Logs()
		r.Analysis = &analysis
		r.CheckedAt = result.CheckedAt()
	}
	if outcome != nil && !outcome.DryRun {
		r.Unblocked = outcome.Success() && !outcome.Plan.Empty()
	}
	return r
}

// Fail marks the record as failed with the error class and message shown to operators
func (r *Record) Fail(class, message, hint string) {
	r.Success = false
	r.ErrorClass = class
	r.ErrorMessage = message
	r.Hint = hint
}

// BlockSources returns the analysed block sources, if any
func (r *Record) BlockSources() []string {
	if r.Analysis == nil {
		return nil
	}
	return r.Analysis.BlockSources
}
