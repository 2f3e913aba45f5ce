package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/folbricht/delv/internal/dnsname"
	"github.com/folbricht/delv/internal/dnssec"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func TestSplitWidth(t *testing.T) {
	require.Equal(t, 0, splitWidth(0))
	require.Equal(t, 7, splitWidth(1))  // round up to 4, +3
	require.Equal(t, 7, splitWidth(4))  // already multiple of 4, +3
	require.Equal(t, 11, splitWidth(5)) // round up to 8, +3
}

func TestZoneFileSecureAnswer(t *testing.T) {
	rr := mustRR(t, "example.com. 300 IN A 192.0.2.1")
	out := dnssec.Outcome{
		Overall: dnssec.Secure,
		RRSets: []dnssec.RRSetResult{
			{Owner: dnsname.MustNew("example.com"), Type: dns.TypeA, Records: []dns.RR{rr}, Status: dnssec.Secure, TrustLevel: dnssec.TrustSecure},
		},
	}
	var buf bytes.Buffer
	err := ZoneFile(&buf, "example.com.", dns.TypeA, out, DefaultFlags())
	require.NoError(t, err)
	text := buf.String()
	require.Contains(t, text, "192.0.2.1")
	require.Contains(t, text, "; fully validated")
}

func TestZoneFileSuppressesBogus(t *testing.T) {
	out := dnssec.Outcome{
		Overall: dnssec.Bogus,
		RRSets: []dnssec.RRSetResult{
			{Owner: dnsname.MustNew("example.com"), Type: dns.TypeA, Status: dnssec.Bogus, Err: dnssec.ErrSignatureInvalid},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, ZoneFile(&buf, "example.com.", dns.TypeA, out, DefaultFlags()))
	require.NotContains(t, buf.String(), "192.0.2.1")
	require.Contains(t, buf.String(), "; response failed to validate")
}

func TestZoneFileHidesDNSSECTypesWhenDisabled(t *testing.T) {
	a := mustRR(t, "example.com. 300 IN A 192.0.2.1")
	key := mustRR(t, "example.com. 300 IN DNSKEY 257 3 8 AwEAAag=")
	out := dnssec.Outcome{
		Overall: dnssec.Secure,
		RRSets: []dnssec.RRSetResult{
			{Owner: dnsname.MustNew("example.com"), Type: dns.TypeA, Records: []dns.RR{a}, Status: dnssec.Secure},
			{Owner: dnsname.MustNew("example.com"), Type: dns.TypeDNSKEY, Records: []dns.RR{key}, Status: dnssec.Secure},
		},
	}
	flags := DefaultFlags()
	flags.ShowDNSSEC = false
	var buf bytes.Buffer
	require.NoError(t, ZoneFile(&buf, "example.com.", dns.TypeA, out, flags))
	require.Contains(t, buf.String(), "192.0.2.1")
	require.NotContains(t, buf.String(), "DNSKEY")
}

func TestZoneFileCryptoOmission(t *testing.T) {
	key := mustRR(t, "example.com. 300 IN DNSKEY 257 3 8 AwEAAag=")
	out := dnssec.Outcome{
		Overall: dnssec.Secure,
		RRSets: []dnssec.RRSetResult{
			{Owner: dnsname.MustNew("example.com"), Type: dns.TypeDNSKEY, Records: []dns.RR{key}, Status: dnssec.Secure},
		},
	}
	flags := DefaultFlags()
	flags.ShowCrypto = false
	var buf bytes.Buffer
	require.NoError(t, ZoneFile(&buf, "example.com.", dns.TypeDNSKEY, out, flags))
	require.Contains(t, buf.String(), "[omitted]")
	require.NotContains(t, buf.String(), "AwEAAag=")
}

func TestUnknownFormat(t *testing.T) {
	rr := mustRR(t, "example.com. 300 IN A 192.0.2.1")
	line := unknownFormat(rr)
	require.Contains(t, line, `\#`)
	require.True(t, strings.Contains(line, "TYPE1"))
}

func TestYAMLDocument(t *testing.T) {
	rr := mustRR(t, "example.com. 300 IN A 192.0.2.1")
	out := dnssec.Outcome{
		Rcode:   dns.RcodeSuccess,
		Overall: dnssec.Secure,
		RRSets: []dnssec.RRSetResult{
			{Owner: dnsname.MustNew("example.com"), Type: dns.TypeA, Records: []dns.RR{rr}, Status: dnssec.Secure, TrustLevel: dnssec.TrustSecure},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, YAML(&buf, "example.com.", out))
	text := buf.String()
	require.Contains(t, text, "type: DELV_RESULT")
	require.Contains(t, text, "query_name: example.com.")
	require.Contains(t, text, "status: success")
	require.Contains(t, text, "trust: secure")
}

func TestShortOnlyRDATA(t *testing.T) {
	rr := mustRR(t, "example.com. 300 IN A 192.0.2.1")
	key := mustRR(t, "example.com. 300 IN DNSKEY 257 3 8 AwEAAag=")
	out := dnssec.Outcome{
		RRSets: []dnssec.RRSetResult{
			{Owner: dnsname.MustNew("example.com"), Type: dns.TypeA, Records: []dns.RR{rr}, Status: dnssec.Secure},
			{Owner: dnsname.MustNew("example.com"), Type: dns.TypeDNSKEY, Records: []dns.RR{key}, Status: dnssec.Secure},
		},
	}
	var buf bytes.Buffer
	Short(&buf, out)
	text := strings.TrimSpace(buf.String())
	require.Equal(t, "192.0.2.1", text)
}
