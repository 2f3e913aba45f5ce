package resolve

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/folbricht/delv/internal/anchor"
	"github.com/folbricht/delv/internal/dnsname"
	"github.com/folbricht/delv/internal/dnssec"
	"github.com/folbricht/delv/internal/transport"
)

func startFixtureServer(t *testing.T, respond func(q *dns.Msg) *dns.Msg) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })
	go func() {
		buf := make([]byte, dns.MaxMsgSize)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			q := new(dns.Msg)
			if err := q.Unpack(buf[:n]); err != nil {
				continue
			}
			a := respond(q)
			out, err := a.Pack()
			if err != nil {
				continue
			}
			pc.WriteTo(out, addr)
		}
	}()
	host, port, _ := net.SplitHostPort(pc.LocalAddr().String())
	_ = host
	return port
}

func TestFilterServersAddressFamily(t *testing.T) {
	e := &Engine{
		Servers: []Server{
			{Addr: "192.0.2.1", Proto: transport.UDP},
			{Addr: "2001:db8::1", Proto: transport.UDP},
		},
		AllowIPv4: true,
		AllowIPv6: false,
	}
	got := e.filterServers()
	require.Len(t, got, 1)
	require.Equal(t, "192.0.2.1", got[0].Addr)
}

func TestFilterServersNoneCompatible(t *testing.T) {
	e := &Engine{
		Servers:   []Server{{Addr: "2001:db8::1", Proto: transport.UDP}},
		AllowIPv4: true,
		AllowIPv6: false,
	}
	require.Empty(t, e.filterServers())
}

func TestResolveNoValidateReportsTrustAnswer(t *testing.T) {
	port := startFixtureServer(t, func(q *dns.Msg) *dns.Msg {
		a := new(dns.Msg)
		a.SetReply(q)
		rr, _ := dns.NewRR(q.Question[0].Name + " 300 IN A 192.0.2.10")
		a.Answer = []dns.RR{rr}
		return a
	})

	e := &Engine{
		Servers:   []Server{{Addr: "127.0.0.1", Port: port, Proto: transport.UDP}},
		Anchors:   anchor.NewStore(),
		Transport: transport.Options{Timeout: 2 * time.Second},
		AllowIPv4: true,
	}

	qname := dnsname.MustNew("example.com")
	result, err := e.Resolve(context.Background(), qname, dns.TypeA, dns.ClassINET, Options{NoValidate: true})
	require.NoError(t, err)
	require.Len(t, result.Outcome.RRSets, 1)
	require.Equal(t, dns.TypeA, result.Outcome.RRSets[0].Type)
	require.Equal(t, dnssec.TrustAnswer, result.Outcome.RRSets[0].TrustLevel)
}

func TestResolveAllServersFailed(t *testing.T) {
	e := &Engine{
		Servers:   []Server{{Addr: "127.0.0.1", Port: "1", Proto: transport.UDP}},
		Anchors:   anchor.NewStore(),
		Transport: transport.Options{Timeout: 200 * time.Millisecond},
		AllowIPv4: true,
	}
	qname := dnsname.MustNew("example.com")
	_, err := e.Resolve(context.Background(), qname, dns.TypeA, dns.ClassINET, Options{NoValidate: true})
	require.Error(t, err)
}
