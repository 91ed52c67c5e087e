package handshake

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"
)

type FilterAction uint8

const (
	ActionBlock FilterAction = iota
	ActionAllow
)

func (a FilterAction) String() string {
	if a == ActionAllow {
		return "allow"
	}
	return "block"
}

/*
*
Candidate is what a filter checkpoint knows about a connection at the time
it asks for a decision. Nil fields are unknown at that checkpoint: the
initiator knows the address and infohash before dialing, the listener only
the address, and the handshake stage eventually knows all three.
*/
type Candidate struct {
	Addr     netip.AddrPort
	InfoHash *InfoHash
	PeerID   *PeerID
}

type matchResult uint8

const (
	matchNo matchResult = iota
	matchYes
	// matchUnknown means the rule keys on a field the candidate doesn't
	// carry yet. A block rule does not deny on it and an allow rule lets
	// the candidate through; a later checkpoint re-evaluates with more
	// fields known.
	matchUnknown
)

/*
*
Filter is a single admission rule. Filters are compared for removal by
Key(), a stable string derived from the rule's structural form, so two
separately constructed but identical rules are the same rule.
*/
type Filter interface {
	Action() FilterAction
	Key() string
	match(c Candidate) matchResult
}

// AddrFilter keys on one exact remote address.
type AddrFilter struct {
	Act  FilterAction
	Addr netip.AddrPort
}

func (f AddrFilter) Action() FilterAction { return f.Act }

func (f AddrFilter) Key() string {
	return fmt.Sprintf("addr/%s/%s", f.Act, f.Addr)
}

func (f AddrFilter) match(c Candidate) matchResult {
	if c.Addr == f.Addr {
		return matchYes
	}
	return matchNo
}

/*
*
AddrPredicateFilter keys on any address matching a caller-supplied
predicate. Functions have no useful equality, so the caller names the rule;
the name is its identity.
*/
type AddrPredicateFilter struct {
	Act  FilterAction
	Name string
	Pred func(addr netip.AddrPort) bool
}

func (f AddrPredicateFilter) Action() FilterAction { return f.Act }

func (f AddrPredicateFilter) Key() string {
	return fmt.Sprintf("addrpred/%s/%s", f.Act, f.Name)
}

func (f AddrPredicateFilter) match(c Candidate) matchResult {
	if f.Pred(c.Addr) {
		return matchYes
	}
	return matchNo
}

// InfoHashFilter keys on a set of torrents.
type InfoHashFilter struct {
	Act    FilterAction
	Hashes []InfoHash
}

func (f InfoHashFilter) Action() FilterAction { return f.Act }

func (f InfoHashFilter) Key() string {
	hashes := make([]string, len(f.Hashes))
	for i, h := range f.Hashes {
		hashes[i] = h.String()
	}
	sort.Strings(hashes)

	return fmt.Sprintf("infohash/%s/%s", f.Act, strings.Join(hashes, ","))
}

func (f InfoHashFilter) match(c Candidate) matchResult {
	if c.InfoHash == nil {
		return matchUnknown
	}

	for _, h := range f.Hashes {
		if *c.InfoHash == h {
			return matchYes
		}
	}
	return matchNo
}

// PeerIDFilter keys on a set of remote peer ids.
type PeerIDFilter struct {
	Act FilterAction
	IDs []PeerID
}

func (f PeerIDFilter) Action() FilterAction { return f.Act }

func (f PeerIDFilter) Key() string {
	ids := make([]string, len(f.IDs))
	for i, id := range f.IDs {
		ids[i] = id.String()
	}
	sort.Strings(ids)

	return fmt.Sprintf("peerid/%s/%s", f.Act, strings.Join(ids, ","))
}

func (f PeerIDFilter) match(c Candidate) matchResult {
	if c.PeerID == nil {
		return matchUnknown
	}

	for _, id := range f.IDs {
		if *c.PeerID == id {
			return matchYes
		}
	}
	return matchNo
}

/*
*
Filters is the shared admission registry. One value is shared by the sink
handle and all three pipeline stages; mutations are serialized by the mutex
and visible to the next evaluation as a whole.

A candidate is admitted iff it matches no block rule AND (no allow rules
exist OR some allow rule matches it or is indifferent to it).
*/
type Filters struct {
	mu    sync.Mutex
	rules []Filter
}

func NewFilters() *Filters {
	return &Filters{}
}

func (f *Filters) Add(rule Filter) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := rule.Key()
	for _, r := range f.rules {
		if r.Key() == key {
			return
		}
	}

	f.rules = append(f.rules, rule)
}

func (f *Filters) Remove(rule Filter) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := rule.Key()
	for i, r := range f.rules {
		if r.Key() == key {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return
		}
	}
}

func (f *Filters) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = nil
}

func (f *Filters) Admit(c Candidate) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	haveAllow := false
	allowed := false

	for _, r := range f.rules {
		m := r.match(c)

		if r.Action() == ActionBlock {
			if m == matchYes {
				return false
			}
			continue
		}

		haveAllow = true
		if m == matchYes || m == matchUnknown {
			allowed = true
		}
	}

	return !haveAllow || allowed
}
