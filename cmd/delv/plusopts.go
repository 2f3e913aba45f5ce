package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/folbricht/delv/internal/output"
)

// plusOptions collects delv's "+keyword[=value]"/"+nokeyword" toggles,
// parsed from whatever positional arguments cobra left over (everything
// that didn't start with "-"). Grounded on original_source/bin/delv/delv.c's
// plus_option tokenizer.
type plusOptions struct {
	display output.DisplayFlags

	DNSSEC   bool
	CDFlag   bool
	TCP      bool
	Short    bool
	YAML     bool
	Trust    bool
	Root     string // "" => use default ("."); set by root[=<anchor>]
	HasRoot  bool
	RTrace   int
	MTrace   int
	VTrace   int
}

// defaultPlusOptions mirrors delv's out-of-the-box display: everything
// shown, validation on, trust banner on, no short/yaml mode.
func defaultPlusOptions() plusOptions {
	return plusOptions{
		display: output.DefaultFlags(),
		DNSSEC:  true,
		CDFlag:  true,
		Trust:   true,
	}
}

// parsePlusOptions splits args into the recognized "+..." tokens (folded
// into opt) and everything else (returned as the remaining positional
// tokens for bare-token classification).
func parsePlusOptions(args []string) (plusOptions, []string, error) {
	opt := defaultPlusOptions()
	var rest []string

	for _, a := range args {
		if !strings.HasPrefix(a, "+") {
			rest = append(rest, a)
			continue
		}
		token := strings.TrimPrefix(a, "+")
		keyword, value, hasValue := strings.Cut(token, "=")
		enable := true
		if strings.HasPrefix(keyword, "no") {
			enable = false
			keyword = strings.TrimPrefix(keyword, "no")
		}

		switch keyword {
		case "all":
			setAll(&opt, enable)
		case "class":
			opt.display.ShowClass = enable
		case "cdflag":
			opt.CDFlag = enable
		case "comments":
			opt.display.ShowComments = enable
		case "crypto":
			opt.display.ShowCrypto = enable
		case "dnssec":
			opt.DNSSEC = enable
		case "mtrace":
			opt.MTrace = traceLevel(enable)
		case "multiline":
			opt.display.Multiline = enable
		case "root":
			opt.HasRoot = enable
			if enable && hasValue {
				opt.Root = value
			}
		case "rrcomments":
			opt.display.ShowRRComments = enable
		case "rtrace":
			opt.RTrace = traceLevel(enable)
		case "short":
			opt.Short = enable
		case "split":
			if !hasValue {
				return opt, nil, fmt.Errorf("+split requires a value, e.g. +split=56")
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return opt, nil, fmt.Errorf("invalid +split value %q: %w", value, err)
			}
			opt.display.SplitWidth = n
		case "tcp":
			opt.TCP = enable
		case "trust":
			opt.Trust = enable
		case "ttl":
			opt.display.ShowTTL = enable
		case "unknownformat":
			opt.display.UnknownFormat = enable
		case "vtrace":
			opt.VTrace = traceLevel(enable)
		case "yaml":
			opt.YAML = enable
		case "dlv":
			// +dlv (without "no") is the obsolete form; only +nodlv is
			// accepted, silently, as a legacy no-op.
			if enable {
				return opt, nil, fmt.Errorf("+dlv is obsolete; only +nodlv is accepted")
			}
		default:
			return opt, nil, fmt.Errorf("unknown option: +%s", token)
		}
	}
	return opt, rest, nil
}

func traceLevel(enable bool) int {
	if enable {
		return 1
	}
	return 0
}

// setAll turns every zone-file display toggle on or off at once, for
// +all/+noall.
func setAll(opt *plusOptions, enable bool) {
	opt.display.ShowClass = enable
	opt.display.ShowTTL = enable
	opt.display.ShowTrust = enable
	opt.display.ShowDNSSEC = enable
	opt.display.ShowComments = enable
	opt.display.ShowRRComments = enable
	opt.display.ShowCrypto = enable
	opt.Trust = enable
}
