// Package resolve drives the top-level query resolve(qname, qtype, qclass,
// options) -> ResponseSet. It sends the query to the first reachable
// configured upstream, then hands the answer to internal/dnssec for
// chain-of-trust validation, producing the ordered ResponseSet the output
// formatter renders.
//
// Grounded on routedns's resolver.go/router.go server-fanout pattern (try
// each configured resolver in order, falling through on transport failure)
// and cmd/routedns/main.go's option-threading style, generalized from "pick
// a working proxy backend" to "pick a working upstream server".
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/folbricht/delv/internal/anchor"
	"github.com/folbricht/delv/internal/dnssec"
	"github.com/folbricht/delv/internal/dnsname"
	"github.com/folbricht/delv/internal/rlog"
	"github.com/folbricht/delv/internal/transport"
	"github.com/folbricht/delv/internal/wire"
)

// ErrNoCompatibleServer is returned when the address-family filter leaves no
// configured server usable.
var ErrNoCompatibleServer = errors.New("resolve: no compatible server (address family filtered)")

// ErrAllServersFailed is returned when every configured server failed at
// the transport or protocol layer.
var ErrAllServersFailed = errors.New("resolve: all upstream servers failed")

// Options enumerates the resolve-time flags that shape how a query is sent
// and how its answer is classified.
type Options struct {
	NoCDFlag   bool // default false: CD is always sent as 1 regardless (see below)
	NoDNSSEC   bool // strip DO, skip validation entirely
	NoValidate bool // fetch with DO=1 but don't verify; trust level "answer"
	ForceTCP   bool
	// RootOverride is the anchor owner name used in place of "." (the CLI's
	// "+root=<name>").
	RootOverride string
}

// Engine holds everything resolve() needs: the configured servers, the
// transport options shared across them, and the trust-anchor store. One
// Engine handles exactly one query per process invocation — it is not
// reused across top-level queries.
type Engine struct {
	Servers    []Server
	Anchors    *anchor.Store
	Transport  transport.Options
	Log        rlog.Logger
	AllowIPv4  bool
	AllowIPv6  bool
}

// Server is one configured upstream, as parsed from "@host[#port]" or
// /etc/resolv.conf.
type Server struct {
	Addr  string // host or IP, no port
	Port  string // default "53"
	Proto transport.Protocol
}

func (s Server) hostport() string {
	port := s.Port
	if port == "" {
		port = "53"
	}
	return net.JoinHostPort(s.Addr, port)
}

func (s Server) isIPv6() bool {
	ip := net.ParseIP(s.Addr)
	return ip != nil && ip.To4() == nil
}

// Result is the outcome of one Resolve call: the classified RRsets plus the
// response code and whatever reason explains a non-success outcome.
type Result struct {
	QName     dnsname.Name
	QType     uint16
	Outcome   dnssec.Outcome
	Truncated bool
}

// Resolve performs resolve(qname, qtype, qclass, options) -> ResponseSet.
func (e *Engine) Resolve(ctx context.Context, qname dnsname.Name, qtype, qclass uint16, opt Options) (Result, error) {
	servers := e.filterServers()
	if len(servers) == 0 {
		return Result{}, ErrNoCompatibleServer
	}

	q := new(dns.Msg)
	q.SetQuestion(qname.String(), qtype)
	q.Question[0].Qclass = qclass
	q.RecursionDesired = true

	// OPT is negotiated unconditionally so UDP payload size advertising
	// survives +nodnssec; the DO bit is then stripped if DNSSEC was declined.
	wire.SetDNSSECOK(q, dns.DefaultMsgSize)
	if opt.NoDNSSEC {
		wire.StripDNSSEC(q)
	}
	// CD is always sent as 1 on the wire: validation always happens locally
	// against the trust anchors, and the user-visible cdflag option only
	// controls what gets reported, never the bit actually sent.
	q.CheckingDisabled = true

	answer, usedServer, err := e.tryServers(ctx, servers, q, opt.ForceTCP)
	if err != nil {
		return Result{}, err
	}

	res := Result{QName: qname, QType: qtype, Truncated: answer.Truncated}

	if opt.NoDNSSEC || opt.NoValidate {
		res.Outcome = classifyWithoutValidation(answer, opt)
		return res, nil
	}

	validator := dnssec.NewValidator(
		dnssec.WithAnchors(e.Anchors),
		dnssec.WithRootOverride(firstNonEmpty(opt.RootOverride, ".")),
		dnssec.WithResolver(e.subResolver(usedServer)),
	)
	session := validator.NewSession()
	outcome, err := session.Validate(ctx, qname, qtype, answer)
	if err != nil {
		e.logf("validation error for %s/%s: %v", qname, dns.TypeToString[qtype], err)
	}
	res.Outcome = outcome
	return res, nil
}

func firstNonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// classifyWithoutValidation builds the degenerate Outcome for the NoDNSSEC and
// NoValidate options: every RRset is reported at trust level "answer" with no
// cryptographic check performed.
func classifyWithoutValidation(answer *dns.Msg, opt Options) dnssec.Outcome {
	out := dnssec.Outcome{Rcode: answer.Rcode}
	level := dnssec.TrustAnswer
	status := dnssec.Indeterminate
	rrsets := make(map[string][]dns.RR)
	var order []string
	for _, rr := range answer.Answer {
		if _, ok := rr.(*dns.RRSIG); ok {
			continue
		}
		key := fmt.Sprintf("%s/%d", dns.CanonicalName(rr.Header().Name), rr.Header().Rrtype)
		if _, seen := rrsets[key]; !seen {
			order = append(order, key)
		}
		rrsets[key] = append(rrsets[key], rr)
	}
	for _, key := range order {
		rrs := rrsets[key]
		out.RRSets = append(out.RRSets, dnssec.RRSetResult{
			Owner:      dnsname.FromRR(rrs[0].Header().Name),
			Type:       rrs[0].Header().Rrtype,
			Records:    rrs,
			Status:     status,
			TrustLevel: level,
		})
	}
	out.Overall = status
	return out
}

// filterServers applies the address-family policy: a server is dropped if
// its address family isn't enabled for this query.
func (e *Engine) filterServers() []Server {
	var out []Server
	for _, s := range e.Servers {
		if s.isIPv6() && !e.AllowIPv6 {
			continue
		}
		if !s.isIPv6() && !e.AllowIPv4 {
			continue
		}
		out = append(out, s)
	}
	return out
}

// tryServers sends q to each server in order until one returns a
// well-formed response. A transport failure or FORMERR falls through to the
// next configured server.
func (e *Engine) tryServers(ctx context.Context, servers []Server, q *dns.Msg, forceTCP bool) (*dns.Msg, Server, error) {
	var lastErr error
	for _, srv := range servers {
		proto := srv.Proto
		if forceTCP && proto == transport.UDP {
			proto = transport.TCP
		}
		client := transport.New(srv.hostport(), proto, e.Transport)
		a, err := client.Exchange(ctx, q)
		if err != nil {
			e.logf("query for %s to %s failed: %v", wire.QName(q), srv.hostport(), err)
			lastErr = err
			continue
		}
		if a.Rcode == dns.RcodeFormatError {
			lastErr = fmt.Errorf("%s: FORMERR", srv.hostport())
			continue
		}
		return a, srv, nil
	}
	if lastErr == nil {
		lastErr = ErrAllServersFailed
	}
	return nil, Server{}, fmt.Errorf("%w: %v", ErrAllServersFailed, lastErr)
}

// subResolver builds the dnssec.Resolver the validator uses for DS/DNSKEY
// sub-queries. When more than one compatible upstream is configured, each
// sub-query fans out to every server concurrently via errgroup and takes
// whichever answers first; with a single configured server (the common
// case) it just queries that one directly.
func (e *Engine) subResolver(preferred Server) dnssec.Resolver {
	servers := e.filterServers()
	if len(servers) == 0 {
		servers = []Server{preferred}
	}
	return func(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
		return resolveFanout(ctx, servers, e.Transport, q)
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.Log != nil {
		e.Log.Debugf(format, args...)
	}
}

// resolveFanout issues the same sub-query to every server concurrently and
// returns the first successful answer, canceling the rest. The common
// single-resolver case just runs one leg directly.
func resolveFanout(ctx context.Context, servers []Server, opt transport.Options, q *dns.Msg) (*dns.Msg, error) {
	if len(servers) == 1 {
		return transport.New(servers[0].hostport(), servers[0].Proto, opt).Exchange(ctx, q)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type answer struct {
		msg *dns.Msg
		err error
	}
	results := make(chan answer, len(servers))
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			a, err := transport.New(srv.hostport(), srv.Proto, opt).Exchange(gctx, q)
			select {
			case results <- answer{a, err}:
			case <-gctx.Done():
			}
			return nil
		})
	}
	go func() { g.Wait(); close(results) }()

	var lastErr error
	for res := range results {
		if res.err == nil {
			cancel()
			return res.msg, nil
		}
		lastErr = res.err
	}
	if lastErr == nil {
		lastErr = ErrAllServersFailed
	}
	return nil, lastErr
}
