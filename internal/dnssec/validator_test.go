package dnssec

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/folbricht/delv/internal/anchor"
	"github.com/folbricht/delv/internal/dnsname"
)

func TestParentZone(t *testing.T) {
	tests := []struct {
		input, expected string
	}{
		{"example.com.", "com."},
		{"com.", "."},
		{".", "."},
		{"sub.example.com.", "example.com."},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			require.Equal(t, tc.expected, parentZone(tc.input))
		})
	}
}

func TestGroupRRsByTypeAndName(t *testing.T) {
	rr1, _ := dns.NewRR("example.com. 300 IN A 1.2.3.4")
	rr2, _ := dns.NewRR("example.com. 300 IN A 5.6.7.8")
	rr3, _ := dns.NewRR("example.com. 300 IN AAAA ::1")
	sig1, _ := dns.NewRR("example.com. 300 IN RRSIG A 13 2 300 20300101000000 20200101000000 12345 example.com. AAAA==")

	rrsets, sigs := groupRRsByTypeAndName([]dns.RR{rr1, rr2, rr3, sig1})

	aKey := rrsetKey{name: "example.com.", rrtype: dns.TypeA}
	aaaaKey := rrsetKey{name: "example.com.", rrtype: dns.TypeAAAA}

	require.Len(t, rrsets[aKey], 2)
	require.Len(t, rrsets[aaaaKey], 1)
	require.NotNil(t, sigs[aKey])
	require.Nil(t, sigs[aaaaKey])
}

func TestVerifyDNSKEYWithDS(t *testing.T) {
	rootKSKRR, err := dns.NewRR(". 172800 IN DNSKEY 257 3 8 AwEAAaz/tAm8yTn4Mfeh5eyI96WSVexTBAvkMgJzkKTOiW1vkIbzxeF3 +/4RgWOq7HrxRixHlFlExOLAJr5emLvN7SWXgnLh4+B5xQlNVz8Og8kv ArMtNROxVQuCaSnIDdD5LKyWbRd2n9WGe2R8PzgCmr3EgVLrjyBxWezF 0jLHwVN8efS3rCj/EWgvIWgb9tarpVUDK/b58Da+sqqls3eNbuv7pr+e oZG+SrDK6nWeL3c6H5Apxz7LjVc1uTIdsIXxuOLYA4/ilBmSVIzuDWfd RUfhHdY6+cn8HFRm+2hM8AnXGXws9555KrUB5qihylGa8subX2Nn6UwN R1AkUTV74bU=")
	require.NoError(t, err)
	rootKSK := rootKSKRR.(*dns.DNSKEY)

	ds := rootKSK.ToDS(dns.SHA256)
	require.NotNil(t, ds)

	err = verifyDNSKEYWithDS([]*dns.DNSKEY{rootKSK}, []*dns.DS{ds})
	require.NoError(t, err)

	badDS := *ds
	badDS.Digest = "0000000000000000000000000000000000000000000000000000000000000000"
	err = verifyDNSKEYWithDS([]*dns.DNSKEY{rootKSK}, []*dns.DS{&badDS})
	require.ErrorIs(t, err, ErrDSMismatch)
}

func TestValidateNoRRSIGInsecureDelegation(t *testing.T) {
	// An unsigned A record with a provably-absent parent DS is an insecure
	// delegation, not bogus.
	v := NewValidator(
		WithResolver(func(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
			a := new(dns.Msg)
			a.SetReply(q)
			return a, nil // empty DS response -> insecure delegation
		}),
	)

	qname := dnsname.MustNew("example.com")
	answer := new(dns.Msg)
	answer.SetQuestion("example.com.", dns.TypeA)
	rr, _ := dns.NewRR("example.com. 300 IN A 1.2.3.4")
	answer.Answer = []dns.RR{rr}

	out, err := v.NewSession().Validate(context.Background(), qname, dns.TypeA, answer)
	require.NoError(t, err)
	require.Equal(t, Insecure, out.Overall)
}

func TestValidateEmptyAnswer(t *testing.T) {
	v := NewValidator()
	qname := dnsname.MustNew("example.com")
	answer := new(dns.Msg)
	answer.SetQuestion("example.com.", dns.TypeA)
	out, err := v.NewSession().Validate(context.Background(), qname, dns.TypeA, answer)
	require.NoError(t, err)
	require.Equal(t, Indeterminate, out.Overall)
}

func TestKeystoreCaching(t *testing.T) {
	now := time.Now()
	ks := newKeystore(func() time.Time { return now })

	zskRR, _ := dns.NewRR("example.com. 3600 IN DNSKEY 256 3 13 dGVzdA==")
	kskRR, _ := dns.NewRR("example.com. 3600 IN DNSKEY 257 3 13 dGVzdA==")

	ks.addDNSKEY("example.com.", []*dns.DNSKEY{zskRR.(*dns.DNSKEY)}, []*dns.DNSKEY{kskRR.(*dns.DNSKEY)})

	zsk, ksk, ok := ks.getDNSKEY("example.com.")
	require.True(t, ok)
	require.Len(t, zsk, 1)
	require.Len(t, ksk, 1)

	zsk2, ksk2, ok2 := ks.getDNSKEY("example.com.")
	require.True(t, ok2)
	require.Equal(t, zsk, zsk2)
	require.Equal(t, ksk, ksk2)
}

func TestKeystoreTTLExpiry(t *testing.T) {
	now := time.Now()
	currentTime := now
	ks := newKeystore(func() time.Time { return currentTime })

	zskRR, _ := dns.NewRR("example.com. 60 IN DNSKEY 256 3 13 dGVzdA==")
	ks.addDNSKEY("example.com.", []*dns.DNSKEY{zskRR.(*dns.DNSKEY)}, nil)

	zsk, _, ok := ks.getDNSKEY("example.com.")
	require.True(t, ok)
	require.Len(t, zsk, 1)

	currentTime = now.Add(61 * time.Second)

	_, _, ok = ks.getDNSKEY("example.com.")
	require.False(t, ok)
}

func TestKeystoreDSExpiry(t *testing.T) {
	now := time.Now()
	currentTime := now
	ks := newKeystore(func() time.Time { return currentTime })

	ds := &dns.DS{
		Hdr: dns.RR_Header{
			Name:   "example.com.",
			Rrtype: dns.TypeDS,
			Class:  dns.ClassINET,
			Ttl:    60,
		},
		KeyTag:     12345,
		Algorithm:  dns.RSASHA256,
		DigestType: dns.SHA256,
		Digest:     "ABCD",
	}
	ks.addDS("example.com.", []*dns.DS{ds})

	result, ok := ks.getDS("example.com.")
	require.True(t, ok)
	require.Len(t, result, 1)

	currentTime = now.Add(61 * time.Second)

	result, ok = ks.getDS("example.com.")
	require.False(t, ok)
	require.Nil(t, result)
}

func TestBuildChainOfTrustCaching(t *testing.T) {
	// buildChainOfTrust must query DNSKEY for "." only once per Session,
	// even though checkInsecureDelegation and validateRRset can both reach
	// the root.
	var lookupCount atomic.Int64

	v := NewValidator(
		WithResolver(func(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
			lookupCount.Add(1)
			a := new(dns.Msg)
			a.SetReply(q)
			return a, nil
		}),
	)

	s := v.NewSession()
	_, _, err := s.buildChainOfTrust(context.Background(), ".")
	require.Error(t, err)

	_, _, err = s.buildChainOfTrust(context.Background(), ".")
	require.Error(t, err)

	require.Equal(t, int64(1), lookupCount.Load())
}

func TestFindKeysByTag(t *testing.T) {
	key1RR, _ := dns.NewRR(". 172800 IN DNSKEY 257 3 8 AwEAAaz/tAm8yTn4Mfeh5eyI96WSVexTBAvkMgJzkKTOiW1vkIbzxeF3 +/4RgWOq7HrxRixHlFlExOLAJr5emLvN7SWXgnLh4+B5xQlNVz8Og8kv ArMtNROxVQuCaSnIDdD5LKyWbRd2n9WGe2R8PzgCmr3EgVLrjyBxWezF 0jLHwVN8efS3rCj/EWgvIWgb9tarpVUDK/b58Da+sqqls3eNbuv7pr+e oZG+SrDK6nWeL3c6H5Apxz7LjVc1uTIdsIXxuOLYA4/ilBmSVIzuDWfd RUfhHdY6+cn8HFRm+2hM8AnXGXws9555KrUB5qihylGa8subX2Nn6UwN R1AkUTV74bU=")
	key1 := key1RR.(*dns.DNSKEY)

	tag := key1.KeyTag()
	alg := key1.Algorithm

	found := findKeysByTag([]*dns.DNSKEY{key1}, tag, alg)
	require.Len(t, found, 1)

	found = findKeysByTag([]*dns.DNSKEY{key1}, tag+1, alg)
	require.Len(t, found, 0)

	found = findKeysByTag([]*dns.DNSKEY{key1}, tag, alg+1)
	require.Len(t, found, 0)
}

func TestValidateInsecureDelegation(t *testing.T) {
	v := NewValidator(
		WithResolver(func(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
			a := new(dns.Msg)
			a.SetReply(q)
			return a, nil
		}),
	)

	qname := dnsname.MustNew("insecure.example")
	answer := new(dns.Msg)
	answer.SetQuestion("insecure.example.", dns.TypeA)
	rr, _ := dns.NewRR("insecure.example. 300 IN A 1.2.3.4")
	answer.Answer = []dns.RR{rr}

	out, err := v.NewSession().Validate(context.Background(), qname, dns.TypeA, answer)
	require.NoError(t, err)
	require.Equal(t, Insecure, out.Overall)
}

func TestBuildChainOfTrustKeyAnchorSkipsResolver(t *testing.T) {
	// A zone seeded directly by a static-key anchor must not trigger any
	// DNSKEY/DS sub-query.
	kskRR, _ := dns.NewRR("example.test. 3600 IN DNSKEY 257 3 8 AwEAAaz/tAm8yTn4Mfeh5eyI96WSVexTBAvkMgJzkKTOiW1vkIbzxeF3")
	zskRR, _ := dns.NewRR("example.test. 3600 IN DNSKEY 256 3 8 AwEAAaz/tAm8yTn4Mfeh5eyI96WSVexTBAvkMgJzkKTOiW1vkIbzxeF3")

	store := anchor.NewStore()
	store.Load(`trust-anchors {
		example.test. static-key 257 3 8 "AwEAAaz/tAm8yTn4Mfeh5eyI96WSVexTBAvkMgJzkKTOiW1vkIbzxeF3";
		example.test. static-key 256 3 8 "AwEAAaz/tAm8yTn4Mfeh5eyI96WSVexTBAvkMgJzkKTOiW1vkIbzxeF3";
	};`)

	v := NewValidator(WithAnchors(store), WithResolver(func(ctx context.Context, q *dns.Msg) (*dns.Msg, error) {
		t.Fatalf("resolver should not be called when a key anchor seeds the zone")
		return nil, nil
	}))

	zsk, ksk, err := v.NewSession().buildChainOfTrust(context.Background(), "example.test.")
	require.NoError(t, err)
	require.Len(t, ksk, 1)
	require.Len(t, zsk, 1)
	require.Equal(t, kskRR.(*dns.DNSKEY).PublicKey, ksk[0].PublicKey)
	require.Equal(t, zskRR.(*dns.DNSKEY).PublicKey, zsk[0].PublicKey)
}
