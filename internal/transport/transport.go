// Package transport sends a single DNS query to a single upstream server
// over UDP, TCP, or DNS-over-TLS and returns its answer. It is grounded on
// dnsclient.go/dotclient.go/client-tls.go, stripped of their
// persistent-connection multiplexing (the tlsConn/inFlightQueue pipeline is
// built for a long-lived proxy process serving many concurrent clients; a
// one-query-per-invocation CLI needs only a single cooperative per-query
// state machine, so one connection is opened, used once, and closed) but
// keeping the retry-on-truncation policy (truncate-retry.go) and TLS client
// option shape (client-tls.go's ClientTLSOptions).
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/miekg/dns"

	"github.com/folbricht/delv/internal/wire"
)

// Errors classifying why a query/response round trip failed.
var (
	ErrTimeout            = errors.New("transport: query timed out")
	ErrConnectionRefused  = errors.New("transport: connection refused")
	ErrTruncated          = errors.New("transport: response truncated and no TCP fallback available")
	ErrServerUnreachable  = errors.New("transport: server unreachable")
	ErrMalformedResponse  = errors.New("transport: malformed response")
	ErrAnswerIDMismatch   = errors.New("transport: response ID does not match query")
	ErrAnswerNameMismatch = errors.New("transport: response question section does not match query")
)

// Protocol identifies the wire transport to use for a query.
type Protocol int

const (
	UDP Protocol = iota
	TCP
	DoT
)

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case DoT:
		return "tls"
	default:
		return "udp"
	}
}

// TLSOptions configures the TLS connection for DoT, mirroring routedns's
// client-tls.go ClientTLSOptions.
type TLSOptions struct {
	// ServerName overrides the TLS SNI / certificate verification name;
	// defaults to the host portion of the server address.
	ServerName string
	// CAFile, if set, replaces the system trust store.
	CAFile string
	// ClientCrtFile/ClientKeyFile configure optional mutual TLS.
	ClientCrtFile, ClientKeyFile string
	// InsecureSkipVerify disables certificate validation, for testing
	// against a server with a self-signed certificate.
	InsecureSkipVerify bool
}

// Config builds a *tls.Config from opt, grounded on routedns's
// ClientTLSOptions.Config.
func (opt TLSOptions) Config() (*tls.Config, error) {
	cfg := &tls.Config{ServerName: opt.ServerName, InsecureSkipVerify: opt.InsecureSkipVerify}

	if opt.ClientCrtFile != "" && opt.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opt.ClientCrtFile, opt.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("transport: loading client certificate from %s: %w", opt.ClientCrtFile, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if opt.CAFile != "" {
		pool := x509.NewCertPool()
		b, err := os.ReadFile(opt.CAFile)
		if err != nil {
			return nil, err
		}
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("transport: no CA certificates found in %s", opt.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// Options configures a Client.
type Options struct {
	// Timeout bounds a single query/response round trip.
	Timeout time.Duration
	// LocalAddr binds the outgoing connection to a specific source address
	// ("-b"), or nil to let the OS choose.
	LocalAddr net.Addr
	// TLS configures the DoT connection; ignored for UDP/TCP.
	TLS TLSOptions
	// UDPSize is the EDNS0 payload size advertised on UDP queries.
	UDPSize uint16
}

// DefaultTimeout mirrors delv's default query timeout.
const DefaultTimeout = 5 * time.Second

// Client sends one query to one upstream server, retrying over TCP if the
// UDP response comes back truncated.
type Client struct {
	server string // host:port
	proto  Protocol
	opt    Options
}

// New builds a Client for server (host:port) using the given base protocol.
func New(server string, proto Protocol, opt Options) *Client {
	if opt.Timeout == 0 {
		opt.Timeout = DefaultTimeout
	}
	if opt.UDPSize == 0 {
		opt.UDPSize = dns.DefaultMsgSize
	}
	return &Client{server: server, proto: proto, opt: opt}
}

// Exchange sends q to the upstream server and returns its answer. A UDP
// query that times out is sent again, up to udpAttempts times in all. On a
// truncated UDP response it automatically retries once over TCP and returns
// the TCP answer as received.
func (c *Client) Exchange(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
	const udpAttempts = 3
	a, err := c.exchangeOnce(ctx, c.proto, q)
	for i := 1; i < udpAttempts && c.proto == UDP && errors.Is(err, ErrTimeout) && ctx.Err() == nil; i++ {
		a, err = c.exchangeOnce(ctx, c.proto, q)
	}
	if err != nil {
		return nil, err
	}
	if a.Truncated && c.proto == UDP {
		retryA, retryErr := c.exchangeOnce(ctx, TCP, q)
		if retryErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrTruncated, retryErr)
		}
		return retryA, nil
	}
	return a, nil
}

func (c *Client) exchangeOnce(ctx context.Context, proto Protocol, q *dns.Msg) (*dns.Msg, error) {
	conn, err := c.dial(ctx, proto)
	if err != nil {
		return nil, classifyDialErr(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.opt.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	dc := &dns.Conn{Conn: conn, UDPSize: c.opt.UDPSize}
	if err := dc.WriteMsg(q); err != nil {
		return nil, classifyIOErr(err)
	}
	a, err := dc.ReadMsg()
	if err != nil {
		return nil, classifyReadErr(err)
	}
	if err := checkAnswer(q, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (c *Client) dial(ctx context.Context, proto Protocol) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.opt.Timeout, LocalAddr: c.opt.LocalAddr}
	switch proto {
	case UDP:
		return dialer.DialContext(ctx, "udp", c.server)
	case TCP:
		return dialer.DialContext(ctx, "tcp", c.server)
	case DoT:
		tlsCfg, err := c.opt.TLS.Config()
		if err != nil {
			return nil, err
		}
		if tlsCfg.ServerName == "" {
			if host, _, splitErr := net.SplitHostPort(c.server); splitErr == nil {
				tlsCfg.ServerName = host
			}
		}
		rawConn, err := dialer.DialContext(ctx, "tcp", c.server)
		if err != nil {
			return nil, err
		}
		tlsConn := tls.Client(rawConn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			return nil, err
		}
		return tlsConn, nil
	default:
		return nil, fmt.Errorf("transport: unknown protocol %v", proto)
	}
}

// checkAnswer verifies a's ID and question section match q's, per RFC 7858
// §3.3's "double-check this really is the correct response" requirement
// (grounded on routedns's dotclient.go request.waitFor).
func checkAnswer(q, a *dns.Msg) error {
	if a.Id != q.Id {
		return ErrAnswerIDMismatch
	}
	if len(q.Question) > 0 && len(a.Question) > 0 {
		qq, aq := q.Question[0], a.Question[0]
		if qq.Name != aq.Name || qq.Qtype != aq.Qtype || qq.Qclass != aq.Qclass {
			return ErrAnswerNameMismatch
		}
	}
	return nil
}

func classifyDialErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}
	return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
}

func classifyIOErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
}

// classifyReadErr handles ReadMsg failures specifically: beyond the
// timeout/malformed split classifyIOErr already does, it runs the
// underlying unpack error through wire.Classify so callers can errors.Is
// against the specific failure (name too long, compression loop, truncated
// rdata) instead of only the generic ErrMalformedResponse.
func classifyReadErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrMalformedResponse, wire.Classify(err))
}
