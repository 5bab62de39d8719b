// pkg/report/checks.go

package report

import (
	"fmt"
	"strings"

	"github.com/hostops/csf-unblocker/pkg/commands"
	"github.com/hostops/csf-unblocker/pkg/parsers"
	"github.com/hostops/csf-unblocker/pkg/unblocker"
)

const (
	csfReference      = "https://download.configserver.com/csf/readme.txt"
	bfmReference      = "https://docs.directadmin.com/"
	modSecReference   = "https://github.com/owasp-modsecurity/ModSecurity/wiki"
	noBlockMessage    = "No block found"
	notCheckedMessage = "Not checked on this control panel"
)

// BuildReport turns a record into report checks, one per log source plus remediation
func BuildReport(rec *Record, outputPath string) *AsciiDocReport {
	r := NewAsciiDocReport(outputPath)
	r.Initialize(rec.FQDN, fmt.Sprintf("Firewall Check: %s on %s", rec.IP, rec.HostID))
	r.AddAttribute("IP", rec.IP)
	r.AddAttribute("Host ID", rec.HostID)
	r.AddAttribute("Panel", string(rec.Panel))
	if rec.Operator != "" {
		r.AddAttribute("Operator", rec.Operator)
	}
	r.AddAttribute("Checked At", rec.CheckedAt.Format("2006-01-02 15:04:05 MST"))
	r.AddAttribute("Record ID", rec.ID)

	if !rec.Success && rec.Analysis == nil {
		r.AddCheck(failureCheck(rec))
		return r
	}

	remediated := remediatedServices(rec.Remediation)
	blocked := make(map[string]bool)
	for _, s := range rec.BlockSources() {
		blocked[s] = true
	}

	r.AddCheck(csfCheck(rec, blocked[parsers.ServiceCSF], remediated[parsers.ServiceCSF]))
	r.AddCheck(bfmCheck(rec, blocked[parsers.ServiceBFM], remediated[parsers.ServiceBFM]))
	r.AddCheck(mailCheck(rec, parsers.SourceExim, "Exim SMTP authentication", blocked[parsers.ServiceExim]))
	r.AddCheck(mailCheck(rec, parsers.SourceDovecot, "Dovecot IMAP/POP3 authentication", blocked[parsers.ServiceDovecot]))
	r.AddCheck(modSecCheck(rec, blocked[parsers.ServiceModSecurity]))

	if rec.Analysis != nil && rec.Analysis.UnsupportedPanel != "" {
		check := NewCheck("panel", "Control panel support", "Panel-specific checks", CategoryConnection)
		check.Result = NewResult(StatusInfo,
			fmt.Sprintf("Panel %q is not supported, only CSF was checked", rec.Analysis.UnsupportedPanel),
			ResultKeyAdvisory)
		r.AddCheck(check)
	}

	if rec.Remediation != nil {
		for _, check := range remediationChecks(rec.Remediation) {
			r.AddCheck(check)
		}
	}

	if !rec.Success {
		r.AddCheck(failureCheck(rec))
	}

	return r
}

func failureCheck(rec *Record) *Check {
	check := NewCheck("run", "Firewall check run", "Whether the check completed", CategoryConnection)
	check.Result = NewResult(StatusCritical, fmt.Sprintf("%s: %s", rec.ErrorClass, rec.ErrorMessage), ResultKeyRequired)
	if rec.Hint != "" {
		AddRecommendation(&check.Result, rec.Hint)
	}
	return check
}

// remediatedServices reports which services had a successful remediation
func remediatedServices(o *unblocker.RemediationOutcome) map[string]bool {
	done := make(map[string]bool)
	if o == nil || o.DryRun {
		return done
	}
	if o.CSF != nil && o.CSF.Success {
		done[parsers.ServiceCSF] = true
	}
	if o.BFM != nil && o.BFM.Success {
		done[parsers.ServiceBFM] = true
	}
	return done
}

// verdict maps a block state to a result
func verdict(checked, blocked, remediated bool, message string) Result {
	switch {
	case !checked:
		return NewResult(StatusNotApplicable, notCheckedMessage, ResultKeyNotApplicable)
	case blocked && remediated:
		return NewResult(StatusWarning, message+" (removed)", ResultKeyAdvisory)
	case blocked:
		return NewResult(StatusCritical, message, ResultKeyRequired)
	}
	return NewResult(StatusOK, noBlockMessage, ResultKeyNoChange)
}

func joinLogs(rec *Record, sources ...string) (string, bool) {
	var parts []string
	checked := false
	for _, source := range sources {
		out, ok := rec.Logs[source]
		if !ok {
			continue
		}
		checked = true
		if strings.TrimSpace(out) != "" {
			parts = append(parts, fmt.Sprintf("$ %s\n%s", source, out))
		}
	}
	return strings.Join(parts, "\n\n"), checked
}

func csfCheck(rec *Record, blocked, remediated bool) *Check {
	check := NewCheck("csf", "CSF deny and temporary blocks", "csf -g, csf.deny and csf.tempip", CategoryCSF)
	detail, checked := joinLogs(rec, parsers.SourceCSF, parsers.SourceCSFDeny, parsers.SourceCSFTempIP)

	message := "Blocked by CSF"
	if rec.Analysis != nil && rec.Analysis.BlockingDetails != nil && rec.Analysis.BlockingDetails.CSF != nil {
		csf := rec.Analysis.BlockingDetails.CSF
		message = fmt.Sprintf("Blocked by CSF (%s)", csf.BlockType)
		if csf.ReasonShort != "" {
			message += ": " + csf.ReasonShort
		}
		if csf.Attempts > 0 {
			message += fmt.Sprintf(", %d attempts", csf.Attempts)
		}
		if csf.Location != "" {
			message += ", from " + csf.Location
		}
		if csf.BlockedSince != "" {
			message += ", since " + csf.BlockedSince
		}
	}

	check.Result = verdict(checked, blocked, remediated, message)
	if detail != "" {
		SetDetail(&check.Result, detail)
	}
	if blocked && !remediated {
		AddRecommendation(&check.Result, "Run the unblock to remove the deny entry and add a temporary allow.")
	}
	AddReferenceLink(&check.Result, csfReference)
	return check
}

func bfmCheck(rec *Record, blocked, remediated bool) *Check {
	check := NewCheck("bfm", "BFM IP blacklist", "DirectAdmin ip_blacklist", CategoryBFM)
	detail, checked := joinLogs(rec, parsers.SourceBFM)

	message := "Listed in the DirectAdmin BFM blacklist"
	check.Result = verdict(checked, blocked, remediated, message)
	if detail != "" {
		SetDetail(&check.Result, detail)
	}
	if blocked && !remediated {
		AddRecommendation(&check.Result, "Run the unblock to remove the entry from the blacklist.")
	}
	AddReferenceLink(&check.Result, bfmReference)
	return check
}

func mailCheck(rec *Record, source, name string, blocked bool) *Check {
	check := NewCheck(source, name, "Authentication failures in mail logs", CategoryMail)
	detail, checked := joinLogs(rec, source)

	message := "Authentication failures found"
	if f := mailDetail(rec, source); f != nil {
		message = fmt.Sprintf("%d authentication failures found", f.Count)
	}

	check.Result = verdict(checked, blocked, false, message)
	if blocked {
		// Mail failures feed CSF/BFM but are not blocks themselves
		check.Result = NewResult(StatusInfo, message, ResultKeyAdvisory)
		AddRecommendation(&check.Result, "Ask the customer to verify the mail client password before unblocking again.")
	}
	if detail != "" {
		SetDetail(&check.Result, detail)
	}
	return check
}

func mailDetail(rec *Record, source string) *parsers.MailAuthFailures {
	if rec.Analysis == nil || rec.Analysis.BlockingDetails == nil {
		return nil
	}
	if source == parsers.SourceExim {
		return rec.Analysis.BlockingDetails.Exim
	}
	return rec.Analysis.BlockingDetails.Dovecot
}

func modSecCheck(rec *Record, blocked bool) *Check {
	check := NewCheck("modsecurity", "ModSecurity audit log", "Web application firewall rule hits", CategoryWebFirewall)
	detail, checked := joinLogs(rec, parsers.SourceModSecurity)

	message := "ModSecurity rules triggered"
	if rec.Analysis != nil && rec.Analysis.BlockingDetails != nil && rec.Analysis.BlockingDetails.ModSecurity != nil {
		m := rec.Analysis.BlockingDetails.ModSecurity
		message = fmt.Sprintf("%d transactions triggered rules %s", m.Entries, strings.Join(m.RuleIDs, ", "))
	}

	check.Result = verdict(checked, blocked, false, message)
	if blocked {
		check.Result = NewResult(StatusInfo, message, ResultKeyAdvisory)
		AddRecommendation(&check.Result, "Review the triggered rules; whitelisting a rule is a site configuration change.")
	}
	if detail != "" {
		SetDetail(&check.Result, detail)
	}
	AddReferenceLink(&check.Result, modSecReference)
	return check
}

func remediationChecks(o *unblocker.RemediationOutcome) []*Check {
	var checks []*Check

	if o.DryRun {
		check := NewCheck("plan", "Planned remediation", "Dry run", CategoryRemediation)
		ops := o.Plan.Operations()
		message := "Nothing to do"
		if len(ops) > 0 {
			message = "Would run: " + strings.Join(ops, ", ")
		}
		check.Result = NewResult(StatusInfo, message, ResultKeyAdvisory)
		return append(checks, check)
	}

	if o.CSF != nil {
		check := NewCheck("csf-unblock", "CSF unblock and temporal whitelist", "csf -dr then csf -ta", CategoryRemediation)
		if o.CSF.Success {
			check.Result = NewResult(StatusOK, "CSF deny removed and temporary allow added", ResultKeyNoChange)
		} else {
			check.Result = NewResult(StatusCritical, "CSF remediation failed", ResultKeyRequired)
		}
		SetDetail(&check.Result, formatCommands(o.CSF.Commands))
		checks = append(checks, check)
	}

	if o.BFM != nil {
		check := NewCheck("bfm-unblock", "BFM blacklist removal", "fetch, filter, rewrite, verify", CategoryRemediation)
		switch {
		case o.BFM.Success:
			check.Result = NewResult(StatusOK, fmt.Sprintf("Removed %d blacklist entries, verified absent", o.BFM.RemovedLines), ResultKeyNoChange)
		case len(o.BFM.Commands) > 0 && !o.BFM.Removed && o.BFM.Commands[len(o.BFM.Commands)-1].Operation == commands.OpBFMCheck:
			check.Result = NewResult(StatusWarning, "Blacklist rewritten but the IP is still listed", ResultKeyRecommended)
		default:
			check.Result = NewResult(StatusCritical, "BFM removal failed", ResultKeyRequired)
		}
		SetDetail(&check.Result, formatCommands(o.BFM.Commands))
		checks = append(checks, check)
	}

	return checks
}

func formatCommands(cmds []unblocker.CommandOutcome) string {
	var sb strings.Builder
	for i, c := range cmds {
		if i > 0 {
			sb.WriteString("\n")
		}
		command := c.Command
		// BFM rewrites carry the whole blacklist
		if len(command) > 200 {
			command = command[:200] + "..."
		}
		sb.WriteString(fmt.Sprintf("$ %s\n", command))
		if c.Output != "" {
			sb.WriteString(strings.TrimRight(c.Output, "\n") + "\n")
		}
		if c.ExitStatus != 0 {
			sb.WriteString(fmt.Sprintf("(exit status %d)\n", c.ExitStatus))
		}
	}
	return sb.String()
}
