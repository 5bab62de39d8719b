// pkg/config/settings.go

package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// MinWhitelistTTL is the floor applied to the CSF temporal allow TTL. A zero or negative
// TTL would otherwise turn `csf -ta` into a permanent or immediately-expiring rule.
const MinWhitelistTTL = 60

// DefaultWhitelistTTL is 24h
const DefaultWhitelistTTL = 86400

// Settings is the YAML application configuration
type Settings struct {
	SSH    SSHSettings    `yaml:"ssh"`
	CSF    CSFSettings    `yaml:"csf"`
	Paths  RemotePaths    `yaml:"paths"`
	Report ReportSettings `yaml:"report"`
	Action ActionSettings `yaml:"action"`
	Multi  MultiSettings  `yaml:"multi"`
}

// SSHSettings configures the remote command runner
type SSHSettings struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	KeyDir         string        `yaml:"key_dir"`
	MuxDir         string        `yaml:"mux_dir"`
	MuxPersist     time.Duration `yaml:"mux_persist"`
	// KnownHosts pins host keys when set. When empty, host key checking is disabled:
	// fleet host keys are enrolled by a separate provisioning step.
	KnownHosts string `yaml:"known_hosts"`
}

// CSFSettings configures CSF remediation
type CSFSettings struct {
	WhitelistTTL int `yaml:"whitelist_ttl"`
}

// RemotePaths are the log and blacklist locations on managed hosts
type RemotePaths struct {
	CSFDeny          string `yaml:"csf_deny"`
	CSFTempIP        string `yaml:"csf_tempip"`
	ModSecurityAudit string `yaml:"modsec_audit"`
	CpanelExim       string `yaml:"cpanel_exim"`
	CpanelDovecot    string `yaml:"cpanel_dovecot"`
	DAExim           string `yaml:"directadmin_exim"`
	DADovecot        string `yaml:"directadmin_dovecot"`
	BFMBlacklist     string `yaml:"bfm_blacklist"`
}

// ReportSettings configures report persistence
type ReportSettings struct {
	Dir      string `yaml:"dir"`
	Database string `yaml:"database"`
	Compress bool   `yaml:"compress"`
	Password string `yaml:"password"`
}

// ActionSettings configures the orchestrator retry policy
type ActionSettings struct {
	ConnectRetries int           `yaml:"connect_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

// MultiSettings configures multi-host runs
type MultiSettings struct {
	Parallel int `yaml:"parallel"`
}

// DefaultSettings returns the settings used when no file is given
func DefaultSettings() *Settings {
	return &Settings{
		SSH: SSHSettings{
			CommandTimeout: 30 * time.Second,
			ConnectTimeout: 15 * time.Second,
			KeyDir:         os.TempDir(),
			MuxDir:         filepath.Join(os.TempDir(), "fw-unblock-mux"),
			MuxPersist:     60 * time.Second,
		},
		CSF: CSFSettings{
			WhitelistTTL: DefaultWhitelistTTL,
		},
		Paths: RemotePaths{
			CSFDeny:          "/etc/csf/csf.deny",
			CSFTempIP:        "/var/lib/csf/csf.tempip",
			ModSecurityAudit: "/var/log/httpd/modsec_audit.log",
			CpanelExim:       "/var/log/exim_mainlog",
			CpanelDovecot:    "/var/log/maillog",
			DAExim:           "/var/log/exim/mainlog",
			DADovecot:        "/var/log/maillog",
			BFMBlacklist:     "/usr/local/directadmin/data/admin/ip_blacklist",
		},
		Report: ReportSettings{
			Dir:      "reports",
			Database: filepath.Join("reports", "firewall-checks.db"),
		},
		Action: ActionSettings{
			ConnectRetries: 1,
			RetryBackoff:   2 * time.Second,
		},
		Multi: MultiSettings{
			Parallel: 5,
		},
	}
}

// LoadSettings reads a YAML settings file over the defaults. An empty path returns the defaults.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read settings file")
		}
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, errors.Wrapf(err, "failed to parse settings file %s", path)
		}
	}

	settings.applyEnv()
	settings.normalize()
	return settings, nil
}

// applyEnv applies environment overrides
func (s *Settings) applyEnv() {
	if ttl := os.Getenv("FWU_WHITELIST_TTL"); ttl != "" {
		if v, err := strconv.Atoi(ttl); err == nil {
			s.CSF.WhitelistTTL = v
		}
	}
	if compress := os.Getenv("COMPRESS_REPORT"); compress == "true" || compress == "1" {
		s.Report.Compress = true
	}
	if password := os.Getenv("REPORT_PASSWORD"); password != "" {
		s.Report.Password = password
	}
}

// normalize fills zero values and enforces floors
func (s *Settings) normalize() {
	defaults := DefaultSettings()

	if s.SSH.CommandTimeout <= 0 {
		s.SSH.CommandTimeout = defaults.SSH.CommandTimeout
	}
	if s.SSH.ConnectTimeout <= 0 {
		s.SSH.ConnectTimeout = defaults.SSH.ConnectTimeout
	}
	if s.SSH.KeyDir == "" {
		s.SSH.KeyDir = defaults.SSH.KeyDir
	}
	s.SSH.KeyDir = expandPath(s.SSH.KeyDir)
	s.SSH.MuxDir = expandPath(s.SSH.MuxDir)
	s.SSH.KnownHosts = expandPath(s.SSH.KnownHosts)

	s.CSF.WhitelistTTL = FloorTTL(s.CSF.WhitelistTTL)

	if s.Action.ConnectRetries < 0 {
		s.Action.ConnectRetries = 0
	}
	if s.Multi.Parallel <= 0 {
		s.Multi.Parallel = defaults.Multi.Parallel
	}
}

// FloorTTL clamps a whitelist TTL to MinWhitelistTTL
func FloorTTL(ttl int) int {
	if ttl < MinWhitelistTTL {
		return MinWhitelistTTL
	}
	return ttl
}
