package dnssec

import (
	"math"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// keystore is the per-query cache of validated DNSKEY/DS RRsets, grounded
// on routedns's dnssec/keystore.go. It is discarded at the end of one
// resolve call rather than living for the process lifetime, so a Session
// constructs a fresh keystore per top-level Validate call instead of
// sharing one across queries.
type keystore struct {
	mu      sync.RWMutex
	now     func() time.Time
	dnskeys map[string]*dnskeyEntry
	dsRR    map[string]*dsEntry
}

type dnskeyEntry struct {
	expiry time.Time
	zsk    []*dns.DNSKEY
	ksk    []*dns.DNSKEY
}

type dsEntry struct {
	expiry time.Time
	ds     []*dns.DS
}

func newKeystore(now func() time.Time) *keystore {
	return &keystore{
		now:     now,
		dnskeys: make(map[string]*dnskeyEntry),
		dsRR:    make(map[string]*dsEntry),
	}
}

func (s *keystore) addDNSKEY(zone string, zsk, ksk []*dns.DNSKEY) {
	zone = dns.CanonicalName(zone)
	ttl := minKeyTTL(zsk, ksk)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dnskeys[zone] = &dnskeyEntry{
		expiry: s.now().Add(time.Duration(ttl) * time.Second),
		zsk:    zsk,
		ksk:    ksk,
	}
}

func (s *keystore) getDNSKEY(zone string) (zsk, ksk []*dns.DNSKEY, ok bool) {
	zone = dns.CanonicalName(zone)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, found := s.dnskeys[zone]
	if !found || s.now().After(e.expiry) {
		return nil, nil, false
	}
	return e.zsk, e.ksk, true
}

func (s *keystore) addDS(zone string, ds []*dns.DS) {
	zone = dns.CanonicalName(zone)
	var ttl uint32 = math.MaxUint32
	for _, d := range ds {
		if d.Hdr.Ttl < ttl {
			ttl = d.Hdr.Ttl
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dsRR[zone] = &dsEntry{
		expiry: s.now().Add(time.Duration(ttl) * time.Second),
		ds:     ds,
	}
}

func (s *keystore) getDS(zone string) ([]*dns.DS, bool) {
	zone = dns.CanonicalName(zone)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, found := s.dsRR[zone]
	if !found || s.now().After(e.expiry) {
		return nil, false
	}
	return e.ds, true
}

func minKeyTTL(sets ...[]*dns.DNSKEY) uint32 {
	var ttl uint32 = math.MaxUint32
	for _, set := range sets {
		for _, k := range set {
			if k.Hdr.Ttl < ttl {
				ttl = k.Hdr.Ttl
			}
		}
	}
	return ttl
}
