// pkg/unblocker/unblocker.go

package unblocker

import (
	"context"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hostops/csf-unblocker/pkg/analyzer"
	"github.com/hostops/csf-unblocker/pkg/commands"
	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/fwerr"
	"github.com/hostops/csf-unblocker/pkg/remote"
)

// opBFMWrite labels the blacklist rewrite in outcomes; it has no catalog entry since it takes content
const opBFMWrite = "da_bfm_write"

// CommandOutcome is one remote command run during remediation
type CommandOutcome struct {
	Operation  string `json:"operation"`
	Command    string `json:"command"`
	Output     string `json:"output"`
	ExitStatus int    `json:"exit_status"`
}

// CsfOutcome reports the CSF unblock and temporal whitelist
type CsfOutcome struct {
	Commands []CommandOutcome `json:"commands"`
	Success  bool             `json:"success"`
}

// BfmOutcome reports the DirectAdmin blacklist removal
type BfmOutcome struct {
	Commands []CommandOutcome `json:"commands"`
	// RemovedLines is how many blacklist lines matched the IP locally
	RemovedLines int  `json:"removed_lines"`
	Removed      bool `json:"removed"`
	Success      bool `json:"success"`
}

// RemediationOutcome is the per-subsystem result of one unblock. A nil subsystem was not attempted.
type RemediationOutcome struct {
	Plan   Plan        `json:"plan"`
	DryRun bool        `json:"dry_run,omitempty"`
	CSF    *CsfOutcome `json:"csf,omitempty"`
	BFM    *BfmOutcome `json:"bfm,omitempty"`
}

// Success reports whether every attempted subsystem succeeded
func (o *RemediationOutcome) Success() bool {
	if o == nil || o.DryRun {
		return false
	}
	if o.CSF != nil && !o.CSF.Success {
		return false
	}
	if o.BFM != nil && !o.BFM.Success {
		return false
	}
	return true
}

// Option configures an Unblocker
type Option func(*Unblocker)

// WithLogger sets the unblocker logger
func WithLogger(l zerolog.Logger) Option {
	return func(u *Unblocker) {
		u.logger = l
	}
}

// Unblocker applies the remediation rule table to an analysis
type Unblocker struct {
	runner  *remote.Runner
	catalog *commands.Catalog
	logger  zerolog.Logger
}

// New creates an Unblocker
func New(runner *remote.Runner, catalog *commands.Catalog, opts ...Option) *Unblocker {
	u := &Unblocker{
		runner:  runner,
		catalog: catalog,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = u.logger.With().Str("component", "unblocker").Logger()
	return u
}

// Unblock runs the planned remediation for ip on host over a fresh session.
// CSF failures return *fwerr.CsfRemediationError and BFM failures *fwerr.CommandExecutionError;
// the outcome gathered so far is returned alongside the error.
func (u *Unblocker) Unblock(ctx context.Context, host config.Host, ip string, result *analyzer.AnalysisResult) (*RemediationOutcome, error) {
	if ip == "" {
		ip = result.IP()
	}
	if err := analyzer.ValidateIP(ip); err != nil {
		return nil, err
	}

	plan := NewPlan(result, host)
	outcome := &RemediationOutcome{Plan: plan}
	logger := u.logger.With().Str("host", host.ID).Str("ip", ip).Logger()

	if plan.Empty() {
		logger.Info().Msg("no block found, nothing to remediate")
		return outcome, nil
	}

	session, err := u.runner.CreateSession(host)
	if err != nil {
		return outcome, err
	}
	defer func() {
		if err := session.Cleanup(); err != nil {
			logger.Error().Err(err).Msg("session cleanup failed")
		}
	}()

	var errs error
	if plan.CSF {
		csf, err := u.unblockCSF(ctx, session, ip)
		outcome.CSF = csf
		if err != nil {
			logger.Error().Err(err).Msg("CSF remediation failed")
			errs = errors.CombineErrors(errs, err)
		} else {
			logger.Info().Int("ttl", u.catalog.WhitelistTTL()).Msg("CSF deny removed and temporal whitelist added")
		}
	}

	if plan.BFM {
		bfm, err := u.unblockBFM(ctx, session, ip)
		outcome.BFM = bfm
		if err != nil {
			logger.Error().Err(err).Msg("BFM removal failed")
			errs = errors.CombineErrors(errs, err)
		} else {
			logger.Info().Bool("removed", bfm.Removed).Int("lines", bfm.RemovedLines).Msg("BFM blacklist rewritten")
		}
	}

	return outcome, errs
}

// unblockCSF removes the deny entry then adds the temporal allow. A failed command abandons
// the rest, except a non-zero exit from the deny removal: csf exits non-zero when the IP is
// only in the temporary list, and the allow must still be applied.
func (u *Unblocker) unblockCSF(ctx context.Context, session *remote.Session, ip string) (*CsfOutcome, error) {
	out := &CsfOutcome{}

	for _, op := range []string{commands.OpCSFRemove, commands.OpWhitelist} {
		cmd, err := u.catalog.Build(op, ip)
		if err != nil {
			return out, &fwerr.CsfRemediationError{Command: op, Cause: err}
		}

		res, err := session.Run(ctx, cmd)
		co := CommandOutcome{Operation: op, Command: cmd, Output: strings.TrimSpace(res.Stdout), ExitStatus: res.ExitStatus}
		out.Commands = append(out.Commands, co)
		if err != nil {
			return out, &fwerr.CsfRemediationError{Command: cmd, Output: co.Output, Cause: err}
		}
		if res.ExitStatus != 0 && op == commands.OpCSFRemove {
			u.logger.Warn().
				Int("exit_status", res.ExitStatus).
				Str("output", co.Output).
				Msg("csf deny removal exited non-zero, applying the temporal allow anyway")
			continue
		}
		if res.ExitStatus != 0 {
			return out, &fwerr.CsfRemediationError{
				Command: cmd,
				Output:  co.Output,
				Cause:   errors.Newf("exit status %d: %s", res.ExitStatus, strings.TrimSpace(res.Stderr)),
			}
		}
	}

	out.Success = true
	return out, nil
}

// unblockBFM removes ip from the blacklist by fetching the file, filtering it locally and
// writing it back, then re-checks. The file is never edited in place on the host.
func (u *Unblocker) unblockBFM(ctx context.Context, session *remote.Session, ip string) (*BfmOutcome, error) {
	out := &BfmOutcome{}

	fetchCmd, err := u.catalog.Build(commands.OpBFMFetch, ip)
	if err != nil {
		return out, &fwerr.CommandExecutionError{Step: fwerr.StepFetch, Command: commands.OpBFMFetch, Cause: err}
	}
	res, err := session.Run(ctx, fetchCmd)
	out.Commands = append(out.Commands, CommandOutcome{Operation: commands.OpBFMFetch, Command: fetchCmd, Output: res.Stdout, ExitStatus: res.ExitStatus})
	if err == nil && res.ExitStatus != 0 {
		// An unreadable file must not be rewritten as empty
		err = errors.Newf("exit status %d: %s", res.ExitStatus, strings.TrimSpace(res.Stderr))
	}
	if err != nil {
		return out, &fwerr.CommandExecutionError{Step: fwerr.StepFetch, Command: fetchCmd, Output: res.Stdout, Cause: err}
	}

	filtered, removed, err := FilterBlacklist(res.Stdout, ip)
	if err != nil {
		return out, &fwerr.CommandExecutionError{Step: fwerr.StepFilter, Output: res.Stdout, Cause: err}
	}
	out.RemovedLines = removed

	if removed > 0 {
		writeCmd := u.catalog.BFMWrite(filtered)
		res, err := session.Run(ctx, writeCmd)
		out.Commands = append(out.Commands, CommandOutcome{Operation: opBFMWrite, Command: writeCmd, Output: strings.TrimSpace(res.Stdout), ExitStatus: res.ExitStatus})
		if err == nil && res.ExitStatus != 0 {
			err = errors.Newf("exit status %d: %s", res.ExitStatus, strings.TrimSpace(res.Stderr))
		}
		if err != nil {
			return out, &fwerr.CommandExecutionError{Step: fwerr.StepRewrite, Command: writeCmd, Output: filtered, Cause: err}
		}
	}

	verifyCmd, err := u.catalog.Build(commands.OpBFMCheck, ip)
	if err != nil {
		return out, &fwerr.CommandExecutionError{Step: fwerr.StepVerify, Command: commands.OpBFMCheck, Cause: err}
	}
	remaining, err := session.Execute(ctx, verifyCmd)
	out.Commands = append(out.Commands, CommandOutcome{Operation: commands.OpBFMCheck, Command: verifyCmd, Output: remaining})
	if err != nil {
		return out, &fwerr.CommandExecutionError{Step: fwerr.StepVerify, Command: verifyCmd, Cause: err}
	}

	out.Removed = remaining == ""
	out.Success = out.Removed
	return out, nil
}

// FilterBlacklist drops every line that is ip followed by whitespace or end of line, and
// every blank line. It returns the remaining content and how many lines were dropped for ip.
func FilterBlacklist(content, ip string) (string, int, error) {
	re, err := regexp.Compile("^" + regexp.QuoteMeta(ip) + `(\s|$)`)
	if err != nil {
		return "", 0, errors.Wrap(err, "failed to build blacklist filter")
	}

	var kept []string
	removed := 0
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if re.MatchString(line) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), removed, nil
}
