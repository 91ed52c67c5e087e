package handshake

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	addrA = netip.MustParseAddrPort("10.0.0.1:6881")
	addrB = netip.MustParseAddrPort("10.0.0.2:6881")
)

func TestFiltersEmptyAdmitsEverything(t *testing.T) {
	f := NewFilters()

	require.True(t, f.Admit(Candidate{Addr: addrA}))

	hash := InfoHash{0xAA}
	pid := PeerID{0x01}
	require.True(t, f.Admit(Candidate{Addr: addrA, InfoHash: &hash, PeerID: &pid}))
}

func TestFiltersBlockAddr(t *testing.T) {
	f := NewFilters()
	f.Add(AddrFilter{Act: ActionBlock, Addr: addrA})

	require.False(t, f.Admit(Candidate{Addr: addrA}))
	require.True(t, f.Admit(Candidate{Addr: addrB}))
}

func TestFiltersAllowList(t *testing.T) {
	f := NewFilters()
	f.Add(AddrFilter{Act: ActionAllow, Addr: addrA})

	// With allow rules present, everything outside them is denied.
	require.True(t, f.Admit(Candidate{Addr: addrA}))
	require.False(t, f.Admit(Candidate{Addr: addrB}))
}

func TestFiltersBlockWinsOverAllow(t *testing.T) {
	hash := InfoHash{0xAA}

	f := NewFilters()
	f.Add(InfoHashFilter{Act: ActionAllow, Hashes: []InfoHash{hash}})
	f.Add(AddrFilter{Act: ActionBlock, Addr: addrA})

	require.False(t, f.Admit(Candidate{Addr: addrA, InfoHash: &hash}))
	require.True(t, f.Admit(Candidate{Addr: addrB, InfoHash: &hash}))
}

func TestFiltersUnknownFieldIsIndifferent(t *testing.T) {
	hash := InfoHash{0xAA}
	other := InfoHash{0xBB}

	f := NewFilters()
	f.Add(InfoHashFilter{Act: ActionAllow, Hashes: []InfoHash{hash}})

	// The listener stage only knows the address; an infohash allow-list
	// must not reject the connection before the infohash arrives.
	require.True(t, f.Admit(Candidate{Addr: addrA}))
	require.True(t, f.Admit(Candidate{Addr: addrA, InfoHash: &hash}))
	require.False(t, f.Admit(Candidate{Addr: addrA, InfoHash: &other}))

	// Same for a block rule: unknown fields never trip it.
	f.Clear()
	f.Add(PeerIDFilter{Act: ActionBlock, IDs: []PeerID{{0x02}}})
	require.True(t, f.Admit(Candidate{Addr: addrA, InfoHash: &hash}))

	pid := PeerID{0x02}
	require.False(t, f.Admit(Candidate{Addr: addrA, InfoHash: &hash, PeerID: &pid}))
}

func TestFiltersAddrPredicate(t *testing.T) {
	f := NewFilters()
	f.Add(AddrPredicateFilter{
		Act:  ActionBlock,
		Name: "port-6881",
		Pred: func(addr netip.AddrPort) bool { return addr.Port() == 6881 },
	})

	require.False(t, f.Admit(Candidate{Addr: addrA}))
	require.True(t, f.Admit(Candidate{Addr: netip.MustParseAddrPort("10.0.0.1:51413")}))
}

func TestFiltersRemoveByEquality(t *testing.T) {
	f := NewFilters()
	f.Add(AddrFilter{Act: ActionBlock, Addr: addrA})
	require.False(t, f.Admit(Candidate{Addr: addrA}))

	// A separately constructed but structurally identical rule removes it.
	f.Remove(AddrFilter{Act: ActionBlock, Addr: addrA})
	require.True(t, f.Admit(Candidate{Addr: addrA}))
}

func TestFiltersRemoveIgnoresOrder(t *testing.T) {
	hashes := []InfoHash{{0xAA}, {0xBB}}
	reversed := []InfoHash{{0xBB}, {0xAA}}

	f := NewFilters()
	f.Add(InfoHashFilter{Act: ActionBlock, Hashes: hashes})
	f.Remove(InfoHashFilter{Act: ActionBlock, Hashes: reversed})

	hash := InfoHash{0xAA}
	require.True(t, f.Admit(Candidate{Addr: addrA, InfoHash: &hash}))
}

func TestFiltersClear(t *testing.T) {
	f := NewFilters()
	f.Add(AddrFilter{Act: ActionBlock, Addr: addrA})
	f.Add(AddrFilter{Act: ActionAllow, Addr: addrB})

	f.Clear()
	require.True(t, f.Admit(Candidate{Addr: addrA}))
}

func TestFiltersAddIsIdempotent(t *testing.T) {
	f := NewFilters()
	f.Add(AddrFilter{Act: ActionBlock, Addr: addrA})
	f.Add(AddrFilter{Act: ActionBlock, Addr: addrA})

	f.Remove(AddrFilter{Act: ActionBlock, Addr: addrA})
	require.True(t, f.Admit(Candidate{Addr: addrA}))
}
