package main

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestClassifyArgsDefaults(t *testing.T) {
	q, warnings, err := classifyArgs(nil)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, ".", q.Name)
	require.Equal(t, dns.TypeNS, q.Type)
}

func TestClassifyArgsNameDefaultsToA(t *testing.T) {
	q, _, err := classifyArgs([]string{"example.com"})
	require.NoError(t, err)
	require.Equal(t, "example.com", q.Name)
	require.Equal(t, dns.TypeA, q.Type)
}

func TestClassifyArgsExplicitType(t *testing.T) {
	q, _, err := classifyArgs([]string{"example.com", "MX"})
	require.NoError(t, err)
	require.Equal(t, dns.TypeMX, q.Type)
}

func TestClassifyArgsServerToken(t *testing.T) {
	q, _, err := classifyArgs([]string{"@192.0.2.1", "example.com"})
	require.NoError(t, err)
	require.Equal(t, "192.0.2.1", q.Server)
	require.Equal(t, "example.com", q.Name)
}

func TestClassifyArgsUnsupportedClassWarns(t *testing.T) {
	q, warnings, err := classifyArgs([]string{"example.com", "CH"})
	require.NoError(t, err)
	require.NotEmpty(t, warnings)
	require.EqualValues(t, dns.ClassINET, q.Class)
}

func TestClassifyArgsRejectsZoneTransfer(t *testing.T) {
	_, _, err := classifyArgs([]string{"example.com", "AXFR"})
	require.Error(t, err)
}

func TestReverseNameIPv4(t *testing.T) {
	name, err := reverseName("192.0.2.1")
	require.NoError(t, err)
	require.Equal(t, "1.2.0.192.in-addr.arpa.", name)
}

func TestReverseNameIPv6(t *testing.T) {
	name, err := reverseName("2001:db8::1")
	require.NoError(t, err)
	require.Contains(t, name, "ip6.arpa.")
	require.True(t, len(name) > len("ip6.arpa."))
}

func TestReverseNameLooseClassless(t *testing.T) {
	name, err := reverseName("1.2.3")
	require.NoError(t, err)
	require.Equal(t, "3.2.1.in-addr.arpa.", name)
}

func TestReverseNameRejectsGarbage(t *testing.T) {
	_, err := reverseName("not.an.address.at.all")
	require.Error(t, err)
}
