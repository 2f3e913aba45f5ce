// Package wire supplies small wire-format helpers that github.com/miekg/dns
// doesn't already expose as a one-liner: canonical RRset ordering for
// signature verification, EDNS0 OPT convenience accessors, and a
// classification layer over miekg/dns's own parse errors so callers can
// errors.Is against a stable failure taxonomy without depending on
// miekg/dns's error string representation.
package wire

import (
	"bytes"
	"errors"
	"sort"

	"github.com/miekg/dns"
)

// Errors classifying a malformed inbound message. miekg/dns doesn't expose
// typed parse errors, so Classify maps its (untyped) Unpack failures onto
// these sentinels on a best-effort basis; any parse failure on an inbound
// message still drops the message, the exact classification is diagnostic
// only.
var (
	ErrMalformedMessage = errors.New("wire: malformed message")
	ErrNameTooLong      = errors.New("wire: name too long")
	ErrCompressionLoop  = errors.New("wire: compression pointer loop")
	ErrTruncatedRdata   = errors.New("wire: truncated rdata")
)

// Classify maps a miekg/dns Unpack error to the nearest failure sentinel
// above. Any error not recognized below is ErrMalformedMessage.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, dns.ErrLongDomain):
		return ErrNameTooLong
	case errors.Is(err, dns.ErrRdata):
		return ErrTruncatedRdata
	default:
		msg := err.Error()
		switch {
		case contains(msg, "too long"):
			return ErrNameTooLong
		case contains(msg, "overflow") || contains(msg, "loop"):
			return ErrCompressionLoop
		case contains(msg, "buffer size too small") || contains(msg, "bad rdlength"):
			return ErrTruncatedRdata
		default:
			return ErrMalformedMessage
		}
	}
}

func contains(haystack, needle string) bool {
	return bytes.Contains([]byte(haystack), []byte(needle))
}

// Canonicalize returns rrset's records in RFC 4034 §6.3 canonical order:
// sorted by the raw wire bytes of each record's RDATA. It is idempotent and
// order-independent in its input.
func Canonicalize(rrset []dns.RR) []dns.RR {
	out := make([]dns.RR, len(rrset))
	copy(out, rrset)
	sort.SliceStable(out, func(i, j int) bool {
		return bytes.Compare(rdataBytes(out[i]), rdataBytes(out[j])) < 0
	})
	return out
}

// rdataBytes returns the uncompressed wire-format RDATA of rr (the owner
// name, TTL and header fields are canonical-form-insignificant for the
// purpose of comparison, per RFC 4034 §6.3 — only the RDATA bytes are
// compared).
func rdataBytes(rr dns.RR) []byte {
	buf := make([]byte, dns.MaxMsgSize)
	off, err := dns.PackRR(rr, buf, 0, nil, false) // false == no name compression
	if err != nil {
		return nil
	}
	full := buf[:off]

	nameBuf := make([]byte, 256)
	nameOff, err := dns.PackDomainName(rr.Header().Name, nameBuf, 0, nil, false)
	if err != nil {
		return full
	}
	rdataStart := nameOff + 10 // TYPE(2) CLASS(2) TTL(4) RDLENGTH(2)
	if rdataStart > len(full) {
		return full
	}
	return full[rdataStart:]
}

// SetDNSSECOK ensures q carries an OPT record with the DO bit set and the
// given requestor UDP payload size, generalized from routedns's
// dnssec-backend.go setDNSSECdo.
func SetDNSSECOK(q *dns.Msg, udpSize uint16) {
	if opt := q.IsEdns0(); opt == nil {
		q.SetEdns0(udpSize, true)
	} else {
		opt.SetUDPSize(udpSize)
		opt.SetDo()
	}
}

// StripDNSSEC clears the DO bit (for the "-i"/no_dnssec option) without
// removing the OPT record entirely, so EDNS0 payload size negotiation still
// works.
func StripDNSSEC(q *dns.Msg) {
	if opt := q.IsEdns0(); opt != nil {
		opt.SetDo(false)
	}
}

// QName returns the query name of the first question, or "" if there is
// none. Mirrors routedns's message.go qName helper.
func QName(q *dns.Msg) string {
	if len(q.Question) == 0 {
		return ""
	}
	return q.Question[0].Name
}
