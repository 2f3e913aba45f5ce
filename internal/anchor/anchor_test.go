package anchor

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/folbricht/delv/internal/dnsname"
)

func TestAddDefaultRoot(t *testing.T) {
	s := NewStore()
	s.AddDefaultRoot()
	anchors := s.Find(dnsname.Root)
	require.Len(t, anchors, 1)
	require.Equal(t, StaticDS, anchors[0].Kind)
	require.EqualValues(t, DefaultRootKeyTag, anchors[0].DS.KeyTag)
	require.NoError(t, s.RequireAny())
}

func TestRequireAnyFailsOnEmptyStore(t *testing.T) {
	s := NewStore()
	require.ErrorIs(t, s.RequireAny(), ErrNoTrustedKeys)
}

func TestLoadModernStaticDS(t *testing.T) {
	s := NewStore()
	text := `
trust-anchors {
    example.com. static-ds 12345 8 2 ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789;
};
`
	require.NoError(t, s.Load(text))
	anchors := s.Find(dnsname.MustNew("example.com"))
	require.Len(t, anchors, 1)
	require.Equal(t, StaticDS, anchors[0].Kind)
	require.EqualValues(t, 12345, anchors[0].DS.KeyTag)
}

func TestLoadLegacyTrustedKeysTreatsEntriesAsStaticKey(t *testing.T) {
	s := NewStore()
	text := `
trusted-keys {
    "example.com." 257 3 8 AwEAAag=;
};
`
	require.NoError(t, s.Load(text))
	anchors := s.Find(dnsname.MustNew("example.com"))
	require.Len(t, anchors, 1)
	require.True(t, anchors[0].IsKeyAnchor())
	require.Equal(t, StaticKey, anchors[0].Kind)
}

func TestLoadSkipsBadDigestLengthButKeepsGoing(t *testing.T) {
	s := NewStore()
	text := `
trust-anchors {
    bad.example. static-ds 1 8 2 AB;
    good.example. static-ds 2 8 2 ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789;
};
`
	require.NoError(t, s.Load(text))
	require.Empty(t, s.Find(dnsname.MustNew("bad.example")))
	require.NotEmpty(t, s.Find(dnsname.MustNew("good.example")))
	require.NotEmpty(t, s.Skipped)
}

func TestLoadSkipsUnsupportedKeyAlgorithm(t *testing.T) {
	s := NewStore()
	text := `
trust-anchors {
    example.com. static-key 257 3 200 AwEAAag=;
};
`
	require.NoError(t, s.Load(text))
	require.Empty(t, s.Find(dnsname.MustNew("example.com")))
	require.NotEmpty(t, s.Skipped)
}

func TestFindIsExactOwnerOnly(t *testing.T) {
	s := NewStore()
	s.AddDefaultRoot()
	require.Empty(t, s.Find(dnsname.MustNew("com")))
}

func TestSupportedKeyAlgorithm(t *testing.T) {
	require.True(t, supportedKeyAlgorithm(dns.RSASHA256))
	require.True(t, supportedKeyAlgorithm(dns.ED25519))
	require.False(t, supportedKeyAlgorithm(200))
}
