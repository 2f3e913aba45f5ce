// Command delv is a validating DNS stub resolver: it sends one query to a
// configured upstream, proves the response against the DNSSEC chain of
// trust, and prints the annotated result. Grounded on routedns's
// cmd/routedns/main.go cobra setup, generalized from a long-lived proxy
// driver to a one-shot query tool.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/spf13/cobra"

	"github.com/folbricht/delv/internal/anchor"
	"github.com/folbricht/delv/internal/dnsname"
	"github.com/folbricht/delv/internal/output"
	"github.com/folbricht/delv/internal/resolve"
	"github.com/folbricht/delv/internal/rlog"
	"github.com/folbricht/delv/internal/transport"
)

// sourceAddr parses delv's "-b <addr[#port]>" source-binding option into
// the net.Addr type the chosen transport expects (UDPAddr for UDP,
// TCPAddr for TCP/DoT — net.Dialer.LocalAddr requires the address type to
// match the dialed network).
func sourceAddr(spec string, proto transport.Protocol) (net.Addr, error) {
	if spec == "" {
		return nil, nil
	}
	host, portStr := spec, ""
	if i := strings.LastIndex(spec, "#"); i >= 0 {
		host, portStr = spec[:i], spec[i+1:]
	}
	port := 0
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("-b: invalid port in %q: %w", spec, err)
		}
		port = p
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("-b: invalid source address %q", host)
	}
	if proto == transport.UDP {
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

type dashOptions struct {
	ipv4       bool
	ipv6       bool
	anchorFile string
	source     string
	class      string
	debugLevel int
	noDNSSEC   bool
	memStats   bool
	port       string
	qname      string
	qtype      string
	version    bool
	reverse    string
}

func main() {
	var opt dashOptions

	cmd := &cobra.Command{
		Use:   "delv [@server] [type] [class] [name] [+opt ...]",
		Short: "Validating DNS stub resolver",
		Long: `delv (domain entity lookup and validation) sends a single DNS query
to a configured upstream server, validates the response against the
DNSSEC chain of trust, and prints every resource record annotated with
its derived trust level.`,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opt, args, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opt.ipv4, "ipv4", "4", false, "use IPv4 only")
	f.BoolVarP(&opt.ipv6, "ipv6", "6", false, "use IPv6 only")
	f.StringVarP(&opt.anchorFile, "anchor", "a", "", "trust-anchor file")
	f.StringVarP(&opt.source, "source", "b", "", "source address[#port]")
	f.StringVarP(&opt.class, "class", "c", "IN", "query class")
	f.IntVarP(&opt.debugLevel, "debug", "d", 0, "debug level (0-99)")
	f.BoolVarP(&opt.noDNSSEC, "no-dnssec", "i", false, "disable DNSSEC validation")
	f.BoolVarP(&opt.memStats, "mem-stats", "m", false, "print memory statistics on exit")
	f.StringVarP(&opt.port, "port", "p", "53", "port to query")
	f.StringVarP(&opt.qname, "qname", "q", "", "query name")
	f.StringVarP(&opt.qtype, "qtype", "t", "", "query type")
	f.BoolVarP(&opt.version, "version", "v", false, "print version and exit")
	f.StringVarP(&opt.reverse, "reverse", "x", "", "reverse-lookup address")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "delv:", err)
		os.Exit(1)
	}
}

func run(opt dashOptions, args []string, stdout io.Writer) error {
	if opt.version {
		fmt.Fprintln(stdout, "delv (validating stub resolver) 1.0.0")
		return nil
	}

	plus, rest, err := parsePlusOptions(args)
	if err != nil {
		return err
	}

	q, warnings, err := classifyArgs(rest)
	if err != nil {
		return err
	}
	logger := rlog.New(os.Stderr, opt.debugLevel)
	for _, w := range warnings {
		logger.Warn(w)
	}

	if opt.qname != "" {
		q.Name = opt.qname
	}
	if opt.qtype != "" {
		if t, ok := dns.StringToType[opt.qtype]; ok {
			q.Type = t
		} else {
			return fmt.Errorf("unknown query type: %s", opt.qtype)
		}
	}
	if opt.class != "" && opt.class != "IN" {
		if c, ok := dns.StringToClass[opt.class]; ok && c != dns.ClassINET {
			logger.Warn("class " + opt.class + " is not supported, ignoring")
		}
	}
	if opt.reverse != "" {
		rev, err := reverseName(opt.reverse)
		if err != nil {
			return err
		}
		q.Name = rev
		q.Type = dns.TypePTR
	}

	qname, err := dnsname.New(q.Name)
	if err != nil {
		return fmt.Errorf("invalid query name %q: %w", q.Name, err)
	}

	anchors := anchor.NewStore()
	if opt.anchorFile != "" {
		text, err := os.ReadFile(opt.anchorFile)
		if err != nil {
			return fmt.Errorf("reading trust-anchor file: %w", err)
		}
		if err := anchors.Load(string(text)); err != nil {
			return fmt.Errorf("loading trust anchors: %w", err)
		}
	} else {
		anchors.AddDefaultRoot()
	}
	if plus.DNSSEC {
		if err := anchors.RequireAny(); err != nil {
			return err
		}
	}
	for _, s := range anchors.Skipped {
		logger.Warn(s)
	}

	server := q.Server
	if server == "" {
		server = "127.0.0.1"
	}
	proto := transport.UDP
	if plus.TCP {
		proto = transport.TCP
	}

	allowIPv4, allowIPv6 := true, true
	if opt.ipv4 && !opt.ipv6 {
		allowIPv6 = false
	} else if opt.ipv6 && !opt.ipv4 {
		allowIPv4 = false
	}

	localAddr, err := sourceAddr(opt.source, proto)
	if err != nil {
		return err
	}

	engine := &resolve.Engine{
		Servers: []resolve.Server{
			{Addr: server, Port: opt.port, Proto: proto},
		},
		Anchors:   anchors,
		Transport: transport.Options{Timeout: transport.DefaultTimeout, LocalAddr: localAddr},
		Log:       logger,
		AllowIPv4: allowIPv4,
		AllowIPv6: allowIPv6,
	}

	resolveOpt := resolve.Options{
		NoCDFlag: !plus.CDFlag,
		NoDNSSEC: opt.noDNSSEC || !plus.DNSSEC,
		ForceTCP: plus.TCP,
	}
	if plus.HasRoot && plus.Root != "" {
		resolveOpt.RootOverride = plus.Root
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := engine.Resolve(ctx, qname, q.Type, q.Class, resolveOpt)
	if err != nil {
		return fmt.Errorf("resolve failed: %w", err)
	}

	switch {
	case plus.YAML:
		err = output.YAML(stdout, qname.String(), result.Outcome)
	case plus.Short:
		output.Short(stdout, result.Outcome)
	default:
		err = output.ZoneFile(stdout, qname.String(), q.Type, result.Outcome, plus.display)
	}
	if err != nil {
		return err
	}

	if opt.memStats {
		printMemStats(stdout)
	}
	return nil
}

// printMemStats substitutes for delv.c's isc_mem allocator report, which
// has no Go equivalent: runtime.MemStats covers the same "how much memory
// did this process use" diagnostic need.
func printMemStats(w io.Writer) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	fmt.Fprintf(w, "; memory: alloc=%s heap=%s gc_cycles=%d\n",
		formatBytes(m.Alloc), formatBytes(m.HeapAlloc), m.NumGC)
}

func formatBytes(n uint64) string {
	return strconv.FormatUint(n, 10) + "B"
}
