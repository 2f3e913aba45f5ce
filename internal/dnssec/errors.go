package dnssec

import "errors"

// Sentinel errors, grounded on routedns's dnssec/validator.go and
// dnssec-backend.go error sets, merged into one taxonomy.
var (
	ErrNoSignature        = errors.New("dnssec: no RRSIG covers RRset")
	ErrNoKey              = errors.New("dnssec: no matching DNSKEY")
	ErrSignatureInvalid   = errors.New("dnssec: signature verification failed")
	ErrDSMismatch         = errors.New("dnssec: DNSKEY does not match any DS")
	ErrNoTrustAnchor      = errors.New("dnssec: no trust anchor covers this query")
	ErrInsecureDelegation = errors.New("dnssec: proven insecure delegation")
	ErrDNSKEYUnavailable  = errors.New("dnssec: DNSKEY RRset unavailable")
	ErrDSUnavailable      = errors.New("dnssec: DS RRset unavailable")
	ErrDelegationLoop     = errors.New("dnssec: delegation loop detected while building chain of trust")
	ErrBadNSECProof       = errors.New("dnssec: NSEC/NSEC3 denial-of-existence proof invalid")
	ErrMixedNSEC          = errors.New("dnssec: bogus response mixes NSEC and NSEC3 records")
)
