// Package dnsname implements the Name type: an absolute, wire-bounded DNS
// name with RFC 4034 canonical comparison.
package dnsname

import (
	"errors"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// ErrNameTooLong is returned when a name's wire form would exceed 255 octets.
var ErrNameTooLong = errors.New("dnsname: name exceeds 255 octets in wire form")

// ErrLabelTooLong is returned when a single label exceeds 63 octets.
var ErrLabelTooLong = errors.New("dnsname: label exceeds 63 octets")

// Name is an absolute (root-terminated) DNS name in wire-safe ASCII form.
type Name struct {
	fqdn string // always dns.Fqdn()'d, always ASCII (A-labels)
}

// New parses s as a DNS name. Unicode input is converted to A-labels
// (punycode) via golang.org/x/net/idna before validation, so the CLI can be
// given a name typed in its native script.
func New(s string) (Name, error) {
	ascii, err := idna.Lookup.ToASCII(strings.TrimSuffix(s, "."))
	if err != nil {
		// idna rejects some legitimate wire-only labels (e.g. "_dmarc");
		// fall back to the literal string rather than failing the query.
		ascii = s
	}
	fqdn := dns.Fqdn(ascii)
	if len(fqdn) > 255 {
		return Name{}, ErrNameTooLong
	}
	for _, lbl := range dns.SplitDomainName(fqdn) {
		if len(lbl) > 63 {
			return Name{}, ErrLabelTooLong
		}
	}
	return Name{fqdn: fqdn}, nil
}

// MustNew is like New but panics on error. Intended for constants.
func MustNew(s string) Name {
	n, err := New(s)
	if err != nil {
		panic(err)
	}
	return n
}

// FromRR builds a Name from an owner name already in wire/presentation form,
// skipping IDNA conversion since it came off the wire.
func FromRR(owner string) Name {
	return Name{fqdn: dns.CanonicalName(owner)}
}

// Root is the DNS root name ".".
var Root = Name{fqdn: "."}

// String returns the FQDN presentation form, e.g. "example.com.".
func (n Name) String() string { return n.fqdn }

// IsRoot reports whether n is the root name.
func (n Name) IsRoot() bool { return n.fqdn == "." }

// Labels returns the name split into its constituent labels, root-to-leaf
// order reversed (i.e. leftmost label first), matching dns.SplitDomainName.
func (n Name) Labels() []string {
	if n.IsRoot() {
		return nil
	}
	return dns.SplitDomainName(n.fqdn)
}

// Parent returns the immediate parent of n, or Root if n is already Root.
func (n Name) Parent() Name {
	if n.IsRoot() {
		return Root
	}
	_, rest, ok := strings.Cut(n.fqdn, ".")
	if !ok || rest == "" {
		return Root
	}
	return Name{fqdn: rest}
}

// Equal reports case-insensitive wire equality.
func (n Name) Equal(other Name) bool {
	return strings.EqualFold(n.fqdn, other.fqdn)
}

// Compare implements RFC 4034 section 6.1 canonical name ordering: compare
// labels right-to-left (least significant, i.e. closest to the root, first),
// case-insensitively; a name that is a proper prefix of another (when
// read right-to-left) sorts first.
func (n Name) Compare(other Name) int {
	a := n.Labels()
	b := other.Labels()
	la, lb := len(a), len(b)
	minLen := la
	if lb < minLen {
		minLen = lb
	}
	for i := 1; i <= minLen; i++ {
		ca := strings.ToLower(a[la-i])
		cb := strings.ToLower(b[lb-i])
		if c := strings.Compare(ca, cb); c != 0 {
			return c
		}
	}
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	default:
		return 0
	}
}

// Covers reports whether name lies strictly between owner (exclusive) and next
// (exclusive) in canonical order, honoring the wrap-around at the end of
// the zone the way an NSEC "last node" owner does (next == zone apex).
func Covers(owner, next, name Name) bool {
	ownerVsName := owner.Compare(name)
	nextVsName := next.Compare(name)
	ownerVsNext := owner.Compare(next)
	if ownerVsNext < 0 {
		// Normal case: owner < next
		return ownerVsName < 0 && nextVsName > 0
	}
	// Wrap-around case: this is the last NSEC in the zone, next wraps to
	// the apex, so the covered range is (owner, +inf) U [apex, next).
	return ownerVsName < 0 || nextVsName > 0
}
