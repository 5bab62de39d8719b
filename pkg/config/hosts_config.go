// pkg/config/hosts_config.go

package config

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrHostNotFound is returned by Lookup for an unknown host id
var ErrHostNotFound = errors.New("host not found")

// HostsConfig is the INI host inventory. It implements Directory.
type HostsConfig struct {
	Defaults DefaultConfig
	Hosts    []Host
	Groups   map[string][]Host
}

// DefaultConfig holds values applied to every host that does not set them
type DefaultConfig struct {
	Admin      string
	Port       int
	SSHKeyFile string
	Panel      Panel
}

// NewHostsConfig creates an empty inventory with defaults
func NewHostsConfig() *HostsConfig {
	return &HostsConfig{
		Defaults: DefaultConfig{
			Admin: "root",
			Port:  22,
			Panel: PanelUnknown,
		},
		Hosts:  []Host{},
		Groups: make(map[string][]Host),
	}
}

// hostLine is a parsed inventory line before defaults and key material are applied
type hostLine struct {
	host    Host
	keyFile string
}

// LoadFromFile loads the inventory from an INI-style file
func (hc *HostsConfig) LoadFromFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "failed to open hosts file")
	}
	defer file.Close()

	return hc.Load(file)
}

// Load parses an inventory such as:
//
//	[defaults]
//	admin = root
//	ssh_key = ~/.ssh/fleet_ed25519
//
//	[directadmin_hosts]
//	da1 fqdn=da1.example.net ip=203.0.113.10 panel=directadmin port=2222
func (hc *HostsConfig) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	currentGroup := ""
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentGroup = strings.Trim(line, "[]")
			if currentGroup == "defaults" || currentGroup == "all:vars" {
				currentGroup = "defaults"
				continue
			}
			if _, exists := hc.Groups[currentGroup]; !exists {
				hc.Groups[currentGroup] = []Host{}
			}
			continue
		}

		if currentGroup == "defaults" {
			// Malformed default lines are ignored
			_ = hc.parseDefaultLine(line)
			continue
		}

		parsed, err := hc.parseHostLine(line, currentGroup)
		if err != nil {
			continue
		}

		host, err := hc.finalizeHost(parsed)
		if err != nil {
			return errors.Wrapf(err, "hosts file line %d", lineNum)
		}

		hc.Hosts = append(hc.Hosts, host)
		if currentGroup != "" {
			hc.Groups[currentGroup] = append(hc.Groups[currentGroup], host)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "error reading hosts file")
	}

	return nil
}

// parseDefaultLine parses a `key = value` line of the defaults section
func (hc *HostsConfig) parseDefaultLine(line string) error {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return errors.Newf("invalid default line format: %s", line)
	}

	key := strings.TrimSpace(parts[0])
	value := strings.Trim(strings.TrimSpace(parts[1]), "\"'`")

	switch key {
	case "admin", "user", "ssh_user":
		hc.Defaults.Admin = value
	case "port", "ssh_port", "port_ssh":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		hc.Defaults.Port = port
	case "ssh_key_file", "ssh_key", "private_key":
		hc.Defaults.SSHKeyFile = expandPath(value)
	case "panel":
		hc.Defaults.Panel = ParsePanel(value)
	}

	return nil
}

// parseHostLine parses `id key=value ...`
func (hc *HostsConfig) parseHostLine(line string, group string) (hostLine, error) {
	parsed := hostLine{host: Host{Group: group}}

	parts := strings.Fields(line)
	if len(parts) == 0 {
		return parsed, errors.New("empty host line")
	}

	// Bare `key=value` lines inside a group are group variables, not hosts
	if strings.Contains(parts[0], "=") {
		return parsed, errors.New("not a host line")
	}
	parsed.host.ID = parts[0]

	for _, part := range parts[1:] {
		keyValue := strings.SplitN(part, "=", 2)
		if len(keyValue) != 2 {
			continue
		}

		key := strings.TrimSpace(keyValue[0])
		value := strings.Trim(strings.TrimSpace(keyValue[1]), "\"'`")

		switch key {
		case "fqdn", "hostname":
			parsed.host.FQDN = value
		case "ip":
			parsed.host.IP = value
		case "port", "ssh_port", "port_ssh":
			if port, err := strconv.Atoi(value); err == nil {
				parsed.host.Port = port
			}
		case "panel", "type":
			parsed.host.Panel = ParsePanel(value)
		case "admin", "user", "ssh_user":
			parsed.host.Admin = value
		case "ssh_key_file", "ssh_key", "private_key":
			parsed.keyFile = expandPath(value)
		case "public_key":
			parsed.host.PublicKey = value
		}
	}

	// A bare id doubles as the FQDN
	if parsed.host.FQDN == "" && parsed.host.IP == "" {
		parsed.host.FQDN = parsed.host.ID
	}

	return parsed, nil
}

// finalizeHost applies defaults and reads the private key material into memory
func (hc *HostsConfig) finalizeHost(parsed hostLine) (Host, error) {
	host := parsed.host

	if host.Port == 0 {
		host.Port = hc.Defaults.Port
	}
	if host.Admin == "" {
		host.Admin = hc.Defaults.Admin
	}
	if host.Panel == "" {
		host.Panel = hc.Defaults.Panel
	}

	keyFile := parsed.keyFile
	if keyFile == "" {
		keyFile = hc.Defaults.SSHKeyFile
	}
	if keyFile != "" {
		key, err := os.ReadFile(keyFile)
		if err != nil {
			return host, errors.Wrapf(err, "unable to read private key for host %s", host.ID)
		}
		host.PrivateKey = key
	}

	return host, nil
}

// GetAllHosts returns all configured hosts
func (hc *HostsConfig) GetAllHosts() []Host {
	return hc.Hosts
}

// GetHostsByGroup returns hosts in a specific group
func (hc *HostsConfig) GetHostsByGroup(group string) []Host {
	return hc.Groups[group]
}

// Lookup returns a host by id, FQDN or IP
func (hc *HostsConfig) Lookup(id string) (Host, error) {
	for _, host := range hc.Hosts {
		if host.ID == id || host.FQDN == id || (host.IP != "" && host.IP == id) {
			return host, nil
		}
	}
	return Host{}, errors.Wrapf(ErrHostNotFound, "%s", id)
}

// expandPath expands ~ and environment variables in file paths
func expandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
