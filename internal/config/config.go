// Package config reads delv's two on-disk inputs: an optional TOML file of
// tool defaults (grounded on routedns's cmd/routedns/config.go toml-tagged
// struct style) and a resolver configuration file in the standard
// /etc/resolv.conf "nameserver"/"options ndots:" line format.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Defaults holds the subset of delv's option inventory that can be
// preconfigured in a TOML defaults file instead of passed on the command
// line every time.
type Defaults struct {
	AnchorFile   string `toml:"anchor-file"`
	Port         string `toml:"port"`
	Class        string `toml:"class"`
	DebugLevel   int    `toml:"debug-level"`
	SourceAddr   string `toml:"source-address"`
	QueryTimeout int    `toml:"query-timeout"`
	TCP          bool   `toml:"tcp"`
	NoDNSSEC     bool   `toml:"no-dnssec"`
}

// LoadDefaults parses a TOML defaults file. A missing file is returned as an
// error that wraps fs.ErrNotExist, so callers can tell it apart with
// errors.Is.
func LoadDefaults(path string) (Defaults, error) {
	var d Defaults
	_, err := toml.DecodeFile(path, &d)
	if err != nil {
		return Defaults{}, fmt.Errorf("config: reading defaults file %s: %w", path, err)
	}
	return d, nil
}

// ResolverConfig is the subset of resolver configuration file contents delv
// reads for server discovery: the configured nameservers and the ndots
// search threshold.
type ResolverConfig struct {
	Nameservers []string
	Ndots       int
}

// ReadResolverConfig parses "nameserver <addr>" and "options ndots:<n>"
// lines the way the standard resolver configuration file format specifies;
// all other directives (search, sortlist, domain, ...) are ignored since
// this tool takes servers explicitly via @server.
func ReadResolverConfig(r io.Reader) (ResolverConfig, error) {
	var cfg ResolverConfig
	cfg.Ndots = 1 // the standard default

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "nameserver":
			if len(fields) >= 2 {
				cfg.Nameservers = append(cfg.Nameservers, fields[1])
			}
		case "options":
			for _, opt := range fields[1:] {
				if n, ok := strings.CutPrefix(opt, "ndots:"); ok {
					if v, err := strconv.Atoi(n); err == nil {
						cfg.Ndots = v
					}
				}
			}
		}
	}
	return cfg, scanner.Err()
}

// ReadResolverConfigFile opens path and parses it via ReadResolverConfig.
func ReadResolverConfigFile(path string) (ResolverConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return ResolverConfig{}, err
	}
	defer f.Close()
	return ReadResolverConfig(f)
}
