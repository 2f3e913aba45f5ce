// Package anchor implements the trust-anchor store: parsing the
// "trust-anchors { ... };" configuration grammar (and its legacy
// trusted-keys/managed-keys aliases) into a tagged-variant Anchor type, and
// exact-owner lookup. Grounded on routedns's dnssec.go TrustAnchor/SetAnchor
// (the built-in IANA root KSK-2017 default is kept verbatim) and
// dnssec-backend.go's loadRootKeysFromXML, but parses the BIND-native block
// grammar instead of IANA's XML.
package anchor

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/folbricht/delv/internal/dnsname"
)

// Kind identifies the four trust-anchor tags.
type Kind int

const (
	StaticKey Kind = iota
	InitialKey
	StaticDS
	InitialDS
)

func (k Kind) String() string {
	switch k {
	case StaticKey:
		return "static-key"
	case InitialKey:
		return "initial-key"
	case StaticDS:
		return "static-ds"
	case InitialDS:
		return "initial-ds"
	default:
		return "unknown"
	}
}

// Anchor is a tagged-variant trust anchor: exactly one of Key or DS is
// populated, selected by Kind.
type Anchor struct {
	Owner dnsname.Name
	Kind  Kind
	Key   *dns.DNSKEY
	DS    *dns.DS
}

// IsKeyAnchor reports whether this anchor seeds a zone's key-set directly.
func (a Anchor) IsKeyAnchor() bool { return a.Kind == StaticKey || a.Kind == InitialKey }

// ErrBadAnchorDigestLength is returned when a static-ds/initial-ds entry's
// digest length doesn't match its declared digest type.
var ErrBadAnchorDigestLength = errors.New("anchor: digest length does not match digest type")

// ErrNoTrustedKeys is returned by Store.RequireAny when validation was
// requested but no usable anchor was loaded.
var ErrNoTrustedKeys = errors.New("anchor: no trusted keys loaded")

// digestLen is the expected byte length of each DS digest type.
var digestLen = map[uint8]int{
	dns.SHA1:   20,
	dns.SHA256: 32,
	dns.SHA384: 48,
}

// Store holds the immutable set of trust anchors loaded at startup.
// Lookup is by exact owner name; it is safe for concurrent reads once
// Load has returned — no anchor is ever added after startup.
type Store struct {
	byOwner map[string][]Anchor
	// Skipped records warnings for unsupported-algorithm or malformed
	// anchors that were skipped rather than treated as fatal.
	Skipped []string
}

// NewStore returns an empty store. Load or AddDefaultRoot populate it.
func NewStore() *Store {
	return &Store{byOwner: make(map[string][]Anchor)}
}

// DefaultRootKeyTag is the key tag of the built-in IANA root KSK-2017
// default, mirroring routedns's defaultTrustAnchors.
const DefaultRootKeyTag = 20326

// AddDefaultRoot seeds the store with the built-in IANA root KSK-2017
// trust anchor, used when the driver is given no -a file and +dnssec
// validation against "." is requested.
func (s *Store) AddDefaultRoot() {
	ds := &dns.DS{
		Hdr:        dns.RR_Header{Name: ".", Rrtype: dns.TypeDS, Class: dns.ClassINET},
		KeyTag:     DefaultRootKeyTag,
		Algorithm:  dns.RSASHA256,
		DigestType: dns.SHA256,
		Digest:     "E06D44B80B8F1D39A95C0B0D7C65D08458E880409BBC683457104237C7F8EC8D",
	}
	s.byOwner["."] = append(s.byOwner["."], Anchor{
		Owner: dnsname.Root,
		Kind:  StaticDS,
		DS:    ds,
	})
}

// Find returns all anchors owned by exactly name, with no hierarchical
// search — the validator decides which anchor, if any, applies.
func (s *Store) Find(name dnsname.Name) []Anchor {
	return s.byOwner[strings.ToLower(name.String())]
}

// RequireAny returns ErrNoTrustedKeys if the store holds no anchors at all.
func (s *Store) RequireAny() error {
	if len(s.byOwner) == 0 {
		return ErrNoTrustedKeys
	}
	return nil
}

func (s *Store) add(a Anchor) {
	key := strings.ToLower(a.Owner.String())
	s.byOwner[key] = append(s.byOwner[key], a)
}

// Load parses a trust-anchor configuration block and adds every valid
// entry found to the store. It accepts the modern "trust-anchors { ... };"
// keyword as well as the legacy "trusted-keys"/"managed-keys" block names,
// both of which are treated as a sequence of static-key entries.
//
// Grammar (simplified BIND9 named.conf trust-anchors clause):
//
//	trust-anchors {
//	    <name> [<tag> ...] <rdata fields...>;
//	    ...
//	};
func (s *Store) Load(text string) error {
	toks := tokenize(text)
	i := 0
	for i < len(toks) {
		kw := strings.ToLower(toks[i])
		switch kw {
		case "trust-anchors", "trusted-keys", "managed-keys":
			block, next, err := readBlock(toks, i+1)
			if err != nil {
				return err
			}
			legacy := kw != "trust-anchors"
			if err := s.loadBlock(block, legacy); err != nil {
				return err
			}
			i = next
		default:
			i++
		}
	}
	return nil
}

// readBlock expects toks[start] == "{" and returns the tokens up to (not
// including) the matching "}", plus the index just past the trailing ";".
func readBlock(toks []string, start int) ([]string, int, error) {
	if start >= len(toks) || toks[start] != "{" {
		return nil, 0, fmt.Errorf("anchor: expected '{' at token %d", start)
	}
	depth := 1
	i := start + 1
	begin := i
	for i < len(toks) && depth > 0 {
		switch toks[i] {
		case "{":
			depth++
		case "}":
			depth--
		}
		i++
	}
	if depth != 0 {
		return nil, 0, errors.New("anchor: unterminated block")
	}
	end := i - 1
	if i < len(toks) && toks[i] == ";" {
		i++
	}
	return toks[begin:end], i, nil
}

// loadBlock parses the statements inside a trust-anchors/trusted-keys
// block, each terminated by ";".
func (s *Store) loadBlock(toks []string, legacy bool) error {
	var stmt []string
	for _, t := range toks {
		if t == ";" {
			if len(stmt) > 0 {
				if err := s.loadStatement(stmt, legacy); err != nil {
					s.Skipped = append(s.Skipped, err.Error())
				}
			}
			stmt = nil
			continue
		}
		stmt = append(stmt, t)
	}
	return nil
}

// loadStatement parses one "<name> <tag?> <rdata...>" entry.
func (s *Store) loadStatement(toks []string, legacy bool) error {
	if len(toks) < 2 {
		return fmt.Errorf("anchor: malformed entry %q", strings.Join(toks, " "))
	}
	name, err := dnsname.New(strings.Trim(toks[0], `"`))
	if err != nil {
		return fmt.Errorf("anchor: bad owner name %q: %w", toks[0], err)
	}
	rest := toks[1:]

	kind := StaticKey
	if !legacy {
		switch strings.ToLower(rest[0]) {
		case "static-key":
			kind, rest = StaticKey, rest[1:]
		case "initial-key":
			kind, rest = InitialKey, rest[1:]
		case "static-ds":
			kind, rest = StaticDS, rest[1:]
		case "initial-ds":
			kind, rest = InitialDS, rest[1:]
		default:
			return fmt.Errorf("anchor: unknown anchor tag %q for %s", rest[0], name)
		}
	}

	switch kind {
	case StaticKey, InitialKey:
		a, err := parseKeyFields(name, kind, rest)
		if err != nil {
			return err
		}
		if !supportedKeyAlgorithm(a.Key.Algorithm) {
			return fmt.Errorf("anchor: unsupported algorithm %d for %s (skipped)", a.Key.Algorithm, name)
		}
		s.add(a)
	case StaticDS, InitialDS:
		a, err := parseDSFields(name, kind, rest)
		if err != nil {
			return err
		}
		s.add(a)
	}
	return nil
}

// parseKeyFields parses "<flags> <protocol> <algorithm> <base64-key>".
func parseKeyFields(name dnsname.Name, kind Kind, fields []string) (Anchor, error) {
	if len(fields) < 4 {
		return Anchor{}, fmt.Errorf("anchor: DNSKEY entry for %s needs flags/protocol/algorithm/key", name)
	}
	flags, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return Anchor{}, fmt.Errorf("anchor: bad flags for %s: %w", name, err)
	}
	proto, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		return Anchor{}, fmt.Errorf("anchor: bad protocol for %s: %w", name, err)
	}
	alg, err := strconv.ParseUint(fields[2], 10, 8)
	if err != nil {
		return Anchor{}, fmt.Errorf("anchor: bad algorithm for %s: %w", name, err)
	}
	b64 := strings.Join(fields[3:], "")
	if _, err := base64.StdEncoding.DecodeString(b64); err != nil {
		return Anchor{}, fmt.Errorf("anchor: bad base64 key for %s: %w", name, err)
	}
	key := &dns.DNSKEY{
		Hdr:       dns.RR_Header{Name: name.String(), Rrtype: dns.TypeDNSKEY, Class: dns.ClassINET},
		Flags:     uint16(flags),
		Protocol:  uint8(proto),
		Algorithm: uint8(alg),
		PublicKey: b64,
	}
	return Anchor{Owner: name, Kind: kind, Key: key}, nil
}

// parseDSFields parses "<key_tag> <algorithm> <digest_type> <hex-digest>".
func parseDSFields(name dnsname.Name, kind Kind, fields []string) (Anchor, error) {
	if len(fields) < 4 {
		return Anchor{}, fmt.Errorf("anchor: DS entry for %s needs key_tag/algorithm/digest_type/digest", name)
	}
	tag, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return Anchor{}, fmt.Errorf("anchor: bad key_tag for %s: %w", name, err)
	}
	alg, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		return Anchor{}, fmt.Errorf("anchor: bad algorithm for %s: %w", name, err)
	}
	digestType, err := strconv.ParseUint(fields[2], 10, 8)
	if err != nil {
		return Anchor{}, fmt.Errorf("anchor: bad digest_type for %s: %w", name, err)
	}
	hexDigest := strings.Join(fields[3:], "")
	raw, err := hex.DecodeString(hexDigest)
	if err != nil {
		return Anchor{}, fmt.Errorf("anchor: bad hex digest for %s: %w", name, err)
	}
	if want, ok := digestLen[uint8(digestType)]; ok && len(raw) != want {
		return Anchor{}, fmt.Errorf("%w: %s digest_type=%d got %d bytes want %d",
			ErrBadAnchorDigestLength, name, digestType, len(raw), want)
	}
	ds := &dns.DS{
		Hdr:        dns.RR_Header{Name: name.String(), Rrtype: dns.TypeDS, Class: dns.ClassINET},
		KeyTag:     uint16(tag),
		Algorithm:  uint8(alg),
		DigestType: uint8(digestType),
		Digest:     strings.ToUpper(hexDigest),
	}
	return Anchor{Owner: name, Kind: kind, DS: ds}, nil
}

// supportedKeyAlgorithm reports whether alg is one of the recognized
// DNSSEC signature algorithms for a trust-anchor key or DS digest.
func supportedKeyAlgorithm(alg uint8) bool {
	switch alg {
	case dns.RSASHA1, dns.RSASHA256, dns.RSASHA512,
		dns.ECDSAP256SHA256, dns.ECDSAP384SHA384,
		dns.ED25519, dns.ED448:
		return true
	default:
		return false
	}
}

// tokenize splits trust-anchor config text into tokens: braces, semicolons,
// quoted strings (kept as single tokens, quotes removed), and whitespace/comment
// separated words. Comments start with "//", "#", or a "/* ... */" block.
func tokenize(text string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '"':
			flush()
			j := i + 1
			for j < len(runes) && runes[j] != '"' {
				j++
			}
			toks = append(toks, string(runes[i+1:j]))
			i = j
		case c == '/' && i+1 < len(runes) && runes[i+1] == '/':
			flush()
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case c == '#':
			flush()
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
			flush()
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
		case c == '{' || c == '}' || c == ';':
			flush()
			toks = append(toks, string(c))
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return toks
}
