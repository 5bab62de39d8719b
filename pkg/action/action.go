// pkg/action/action.go

package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hostops/csf-unblocker/pkg/analyzer"
	"github.com/hostops/csf-unblocker/pkg/commands"
	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/fwerr"
	"github.com/hostops/csf-unblocker/pkg/remote"
	"github.com/hostops/csf-unblocker/pkg/report"
	"github.com/hostops/csf-unblocker/pkg/unblocker"
)

// Error classes added on top of fwerr.Class
const (
	ClassHostNotFound  = "HostNotFoundError"
	ClassNotAuthorized = "NotAuthorizedError"
	ClassInternal      = "InternalError"
	ClassUnverified    = "RemediationNotVerifiedError"
	ClassIncomplete    = "IncompleteAnalysisError"
)

// Request is one check, optionally followed by an unblock
type Request struct {
	HostID   string
	IP       string
	Unblock  bool
	DryRun   bool
	Operator string
}

// Result is the single verdict of a request. It is always returned, never an error.
type Result struct {
	Success    bool
	Message    string
	ErrorClass string
	Critical   bool
	Hint       string

	HostID    string
	IP        string
	Blocked   bool
	Unblocked bool

	Analysis   *analyzer.AnalysisResult
	Outcome    *unblocker.RemediationOutcome
	Record     *report.Record
	ReportPath string
}

// CheckFirewall runs the analyze, unblock and report flow for one host
type CheckFirewall struct {
	directory  config.Directory
	runner     *remote.Runner
	catalog    *commands.Catalog
	unblocker  *unblocker.Unblocker
	reports    *report.Generator
	authorizer Authorizer
	notifier   Notifier
	retries    int
	backoff    time.Duration
	logger     zerolog.Logger
}

// Option configures CheckFirewall
type Option func(*CheckFirewall)

// WithReports persists every request through g
func WithReports(g *report.Generator) Option {
	return func(a *CheckFirewall) { a.reports = g }
}

// WithAuthorizer sets the authorization gate; the default allows everything
func WithAuthorizer(auth Authorizer) Option {
	return func(a *CheckFirewall) { a.authorizer = auth }
}

// WithNotifier sets where connection failures are escalated
func WithNotifier(n Notifier) Option {
	return func(a *CheckFirewall) { a.notifier = n }
}

// WithRetry retries connection failures up to retries times, doubling backoff each time
func WithRetry(retries int, backoff time.Duration) Option {
	return func(a *CheckFirewall) {
		a.retries = retries
		a.backoff = backoff
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(a *CheckFirewall) { a.logger = l }
}

// New creates the orchestrator
func New(directory config.Directory, runner *remote.Runner, catalog *commands.Catalog, opts ...Option) *CheckFirewall {
	a := &CheckFirewall{
		directory:  directory,
		runner:     runner,
		catalog:    catalog,
		authorizer: AllowAll{},
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.notifier == nil {
		a.notifier = LogNotifier{Logger: a.logger}
	}
	a.logger = a.logger.With().Str("component", "action").Logger()
	a.unblocker = unblocker.New(runner, catalog, unblocker.WithLogger(a.logger))
	return a
}

// Run handles req. Failures are reported in the Result.
func (a *CheckFirewall) Run(ctx context.Context, req Request) (res Result) {
	res = Result{HostID: req.HostID, IP: req.IP}
	logger := a.logger.With().Str("host", req.HostID).Str("ip", req.IP).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("firewall check panicked")
			res.Success = false
			res.ErrorClass = ClassInternal
			res.Message = fmt.Sprintf("internal error: %v", r)
		}
	}()

	if err := analyzer.ValidateIP(req.IP); err != nil {
		return a.fail(res, err)
	}

	host, err := a.directory.Lookup(req.HostID)
	if err != nil {
		res = a.fail(res, err)
		if errors.Is(err, config.ErrHostNotFound) {
			res.ErrorClass = ClassHostNotFound
		}
		return res
	}
	res.HostID = host.ID

	if err := a.authorizer.Authorize(ctx, req.Operator, host, req.IP); err != nil {
		res = a.fail(res, err)
		res.ErrorClass = ClassNotAuthorized
		return res
	}

	result, err := a.analyze(ctx, host, req.IP, logger)
	var outcome *unblocker.RemediationOutcome
	if err == nil && req.Unblock {
		outcome, err = a.unblock(ctx, host, req, result)
	}

	if err != nil {
		var connErr *fwerr.ConnectionFailedError
		if errors.As(err, &connErr) {
			a.alert(ctx, host, req.IP, err)
		}
	}

	rec := report.NewRecord(host, req.IP, req.Operator, result, outcome)
	res.Analysis = result
	res.Outcome = outcome
	res.Record = rec

	switch {
	case err != nil:
		res = a.fail(res, err)
		rec.Fail(res.ErrorClass, res.Message, res.Hint)
	case outcome != nil && !outcome.DryRun && !outcome.Plan.Empty() && !outcome.Success():
		res.ErrorClass = ClassUnverified
		res.Message = verdictMessage(rec, outcome)
		res.Hint = "the blacklist was rewritten but the IP is still listed; another process may have re-added it"
		rec.Fail(res.ErrorClass, res.Message, res.Hint)
	case result != nil && len(result.Analysis().FailedSources) > 0:
		// An unread source may hide a block, so "not blocked" cannot be trusted
		failed := result.Analysis().FailedSources
		res.ErrorClass = ClassIncomplete
		res.Message = fmt.Sprintf("%s (incomplete: could not read %s)", verdictMessage(rec, outcome), strings.Join(failed, ", "))
		res.Hint = "re-run the check; a diagnostic command timed out or failed on the host"
		rec.Fail(res.ErrorClass, res.Message, res.Hint)
		logger.Warn().Strs("failed_sources", failed).Msg("analysis incomplete")
	default:
		res.Success = true
		res.Message = verdictMessage(rec, outcome)
	}
	res.Blocked = rec.Blocked
	res.Unblocked = rec.Unblocked

	if a.reports != nil {
		artifacts, rerr := a.reports.Generate(ctx, rec)
		if rerr != nil {
			logger.Error().Err(rerr).Msg("failed to persist firewall check")
		}
		res.ReportPath = artifacts.Report
	}

	logger.Info().Bool("success", res.Success).Bool("blocked", res.Blocked).Bool("unblocked", res.Unblocked).Msg(res.Message)
	return res
}

// analyze retries connection failures with exponential backoff
func (a *CheckFirewall) analyze(ctx context.Context, host config.Host, ip string, logger zerolog.Logger) (*analyzer.AnalysisResult, error) {
	az := analyzer.New(host.Panel, a.runner, a.catalog, analyzer.WithLogger(a.logger))
	backoff := a.backoff

	for attempt := 0; ; attempt++ {
		result, err := az.Analyze(ctx, host, ip)
		if err == nil {
			return result, nil
		}

		var connErr *fwerr.ConnectionFailedError
		if !errors.As(err, &connErr) || attempt >= a.retries {
			return nil, err
		}

		logger.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("connection failed, retrying")
		select {
		case <-ctx.Done():
			return nil, errors.CombineErrors(err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (a *CheckFirewall) unblock(ctx context.Context, host config.Host, req Request, result *analyzer.AnalysisResult) (*unblocker.RemediationOutcome, error) {
	if req.DryRun {
		return &unblocker.RemediationOutcome{Plan: unblocker.NewPlan(result, host), DryRun: true}, nil
	}
	return a.unblocker.Unblock(ctx, host, req.IP, result)
}

func (a *CheckFirewall) alert(ctx context.Context, host config.Host, ip string, err error) {
	d := fwerr.Classify(err)
	a.notifier.ConnectionFailed(ctx, ConnectionAlert{
		HostID:   host.ID,
		FQDN:     host.Address(),
		IP:       ip,
		Cause:    err.Error(),
		Critical: d.Critical,
		Hint:     d.Hint,
	})
}

// fail fills the failure fields of res from err
func (a *CheckFirewall) fail(res Result, err error) Result {
	d := fwerr.Classify(err)
	res.Success = false
	res.ErrorClass = fwerr.Class(err)
	res.Message = err.Error()
	res.Critical = d.Critical
	res.Hint = d.Hint
	return res
}

func verdictMessage(rec *report.Record, outcome *unblocker.RemediationOutcome) string {
	sources := strings.Join(rec.BlockSources(), ", ")

	switch {
	case outcome != nil && outcome.DryRun:
		ops := outcome.Plan.Operations()
		if len(ops) == 0 {
			return fmt.Sprintf("%s: nothing to unblock on %s", rec.IP, rec.HostID)
		}
		return fmt.Sprintf("%s: would run %s on %s", rec.IP, strings.Join(ops, ", "), rec.HostID)
	case rec.Unblocked:
		return fmt.Sprintf("%s unblocked on %s (was blocked by %s)", rec.IP, rec.HostID, sources)
	case outcome != nil && !outcome.Plan.Empty():
		return fmt.Sprintf("%s: unblock on %s could not be verified (blocked by %s)", rec.IP, rec.HostID, sources)
	case rec.Blocked:
		return fmt.Sprintf("%s is blocked on %s by %s", rec.IP, rec.HostID, sources)
	}
	return fmt.Sprintf("%s is not blocked on %s", rec.IP, rec.HostID)
}
