package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// query is the fully resolved (name, type, class, server) tuple after
// classifying the positional command-line tokens.
type query struct {
	Server string // "" if none given on the command line
	Name   string
	Type   uint16
	Class  uint16
}

// defaultQuery mirrors delv's defaults: qname ".", qtype NS if no qname was
// given, else A; class IN.
func defaultQuery() query {
	return query{Name: ".", Type: dns.TypeNS, Class: dns.ClassINET}
}

// classifyArgs walks the bare positional tokens (after -flags and +options
// have been stripped) and assigns each to a server, type, class, or name,
// the way original_source/bin/delv/delv.c's argument loop does. AXFR/IXFR
// are rejected fatally; unsupported classes warn and are ignored.
func classifyArgs(args []string) (query, []string, error) {
	q := defaultQuery()
	haveName := false
	var warnings []string

	for _, a := range args {
		if strings.HasPrefix(a, "@") {
			q.Server = strings.TrimPrefix(a, "@")
			continue
		}
		upper := strings.ToUpper(a)
		if upper == "AXFR" || upper == "IXFR" {
			return q, warnings, fmt.Errorf("zone transfer query type %s is not supported", upper)
		}
		if t, ok := dns.StringToType[upper]; ok {
			q.Type = t
			continue
		}
		if c, ok := dns.StringToClass[upper]; ok {
			if c != dns.ClassINET {
				warnings = append(warnings, fmt.Sprintf("class %s is not supported, ignoring", upper))
				continue
			}
			q.Class = c
			continue
		}
		q.Name = a
		haveName = true
	}

	if !haveName {
		// No qname was given: default qtype stays NS per defaultQuery,
		// matching delv's "qtype NS if no qname given, else A" rule.
	} else if q.Type == dns.TypeNS && !wasTypeExplicit(args) {
		q.Type = dns.TypeA
	}
	return q, warnings, nil
}

// wasTypeExplicit reports whether any token explicitly names the NS type,
// distinguishing "delv example.com" (qtype defaults to A) from
// "delv example.com NS" (qtype is NS because the user asked for it).
func wasTypeExplicit(args []string) bool {
	for _, a := range args {
		if strings.EqualFold(a, "NS") {
			return true
		}
	}
	return false
}

// reverseName builds the PTR query name for "-x <address>", handling both
// address families. addr must parse as a valid IP; reverseNameLoose handles
// the RFC 2317 non-strict fallback for dotted tokens that aren't full IPv4
// addresses.
func reverseName(addr string) (string, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return reverseNameLoose(addr)
	}
	if ip4 := ip.To4(); ip4 != nil {
		return reverseIPv4Octets(ip4), nil
	}
	return reverseIPv6Nibbles(ip), nil
}

// reverseIPv4Octets reverses the four dotted octets and appends
// ".in-addr.arpa.", per RFC 1035 §3.5.
func reverseIPv4Octets(ip4 net.IP) string {
	return fmt.Sprintf("%d.%d.%d.%d.in-addr.arpa.", ip4[3], ip4[2], ip4[1], ip4[0])
}

// reverseIPv6Nibbles expands a 128-bit address into 32 reversed hex
// nibbles terminated by ".ip6.arpa.", per RFC 3596 §2.5.
func reverseIPv6Nibbles(ip net.IP) string {
	ip16 := ip.To16()
	var b strings.Builder
	for i := len(ip16) - 1; i >= 0; i-- {
		lo := ip16[i] & 0x0f
		hi := ip16[i] >> 4
		fmt.Fprintf(&b, "%x.%x.", lo, hi)
	}
	b.WriteString("ip6.arpa.")
	return b.String()
}

// reverseNameLoose supports RFC 2317 classless reverse-delegation targets:
// a token that looks like dotted octets but isn't a strictly valid IPv4
// address (e.g. partial addresses like "1.2.3" or octets out of normal
// use) is still reversed component-wise and suffixed with
// ".in-addr.arpa.", matching delv.c's get_reverse non-strict mode.
func reverseNameLoose(addr string) (string, error) {
	parts := strings.Split(addr, ".")
	if len(parts) == 0 || len(parts) > 4 {
		return "", fmt.Errorf("-x: %q is not a valid reverse-lookup target", addr)
	}
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("-x: %q is not a valid reverse-lookup target", addr)
		}
	}
	reversed := make([]string, len(parts))
	for i, p := range parts {
		reversed[len(parts)-1-i] = p
	}
	return strings.Join(reversed, ".") + ".in-addr.arpa.", nil
}
