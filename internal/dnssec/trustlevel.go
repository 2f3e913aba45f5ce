package dnssec

// TrustLevel is the totally ordered ladder of confidence a resolver can
// attach to an RRset. Invariant: the level attached to an RRset in the
// output never exceeds what the validation evidence supports — a level is
// never raised purely by verifying more of a broken chain.
type TrustLevel int

const (
	TrustNone TrustLevel = iota
	TrustPendingAdditional
	TrustPendingAnswer
	TrustAdditional
	TrustGlue
	TrustAnswer
	TrustAuthAuthority
	TrustAuthAnswer
	TrustSecure
	TrustUltimate
)

// String renders the underscored lower-case names used by both zone-file
// comments and YAML mode.
func (t TrustLevel) String() string {
	switch t {
	case TrustNone:
		return "none"
	case TrustPendingAdditional:
		return "pending_additional"
	case TrustPendingAnswer:
		return "pending_answer"
	case TrustAdditional:
		return "additional"
	case TrustGlue:
		return "glue"
	case TrustAnswer:
		return "answer"
	case TrustAuthAuthority:
		return "auth_authority"
	case TrustAuthAnswer:
		return "auth_answer"
	case TrustSecure:
		return "secure"
	case TrustUltimate:
		return "ultimate"
	default:
		return "none"
	}
}

// Status is the final per-RRset DNSSEC classification.
type Status int

const (
	Indeterminate Status = iota
	Insecure
	Bogus
	Secure
)

func (s Status) String() string {
	switch s {
	case Secure:
		return "secure"
	case Insecure:
		return "insecure"
	case Bogus:
		return "bogus"
	default:
		return "indeterminate"
	}
}

// TrustLevel returns the trust level implied by a bare status: Insecure is
// printed with trust "answer", Secure with trust "secure". Bogus RRsets are
// suppressed from output entirely by the resolver, so they have no
// associated display trust level.
func (s Status) TrustLevel() TrustLevel {
	switch s {
	case Secure:
		return TrustSecure
	case Insecure:
		return TrustAnswer
	default:
		return TrustNone
	}
}
