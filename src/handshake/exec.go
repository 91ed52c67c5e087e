package handshake

import (
	"errors"
	"net/netip"
)

var errFiltered = errors.New("connection denied by filters")

/*
*
job is one socket waiting for its handshake. Initiated jobs carry the
infohash from their seed; accepted jobs learn theirs from the remote.
*/
type job struct {
	sock      Socket
	addr      netip.AddrPort
	infoHash  InfoHash
	initiated bool
}

/*
*
executeInitiated runs the outgoing side of the exchange.

The full local handshake goes out before anything is read back: the remote
needs our infohash before it can answer, and we have already committed to
the torrent. The remote's peer id is the last piece inspected, so a peer-id
filter fires only after both sides have sent everything.
*/
func executeInitiated(sock Socket, addr netip.AddrPort, hash InfoHash, pid PeerID, ext Extensions, filters *Filters) (*CompleteMessage, error) {
	if err := writeHeader(sock, ext); err != nil {
		return nil, err
	}
	if err := writeInfoHash(sock, hash); err != nil {
		return nil, err
	}
	if err := writePeerID(sock, pid); err != nil {
		return nil, err
	}

	remoteExt, err := readHeader(sock)
	if err != nil {
		return nil, err
	}

	remoteHash, err := readInfoHash(sock)
	if err != nil {
		return nil, err
	}
	if remoteHash != hash {
		return nil, ErrInfoHashMismatch
	}

	remotePid, err := readPeerID(sock)
	if err != nil {
		return nil, err
	}

	if !filters.Admit(Candidate{Addr: addr, InfoHash: &hash, PeerID: &remotePid}) {
		return nil, errFiltered
	}

	return &CompleteMessage{
		InitiatedByUs: true,
		InfoHash:      hash,
		PeerID:        remotePid,
		Extensions:    ext.Intersect(remoteExt),
		Sock:          sock,
	}, nil
}

/*
*
executeAccepted runs the incoming side. The remote speaks first, so filters
get two extra cracks at the connection: right after the infohash arrives and
again after the peer id, before we spend bytes answering.
*/
func executeAccepted(sock Socket, addr netip.AddrPort, pid PeerID, ext Extensions, filters *Filters) (*CompleteMessage, error) {
	remoteExt, err := readHeader(sock)
	if err != nil {
		return nil, err
	}

	remoteHash, err := readInfoHash(sock)
	if err != nil {
		return nil, err
	}
	if !filters.Admit(Candidate{Addr: addr, InfoHash: &remoteHash}) {
		return nil, errFiltered
	}

	remotePid, err := readPeerID(sock)
	if err != nil {
		return nil, err
	}
	if !filters.Admit(Candidate{Addr: addr, InfoHash: &remoteHash, PeerID: &remotePid}) {
		return nil, errFiltered
	}

	if err := writeHeader(sock, ext); err != nil {
		return nil, err
	}
	if err := writeInfoHash(sock, remoteHash); err != nil {
		return nil, err
	}
	if err := writePeerID(sock, pid); err != nil {
		return nil, err
	}

	return &CompleteMessage{
		InitiatedByUs: false,
		InfoHash:      remoteHash,
		PeerID:        remotePid,
		Extensions:    ext.Intersect(remoteExt),
		Sock:          sock,
	}, nil
}
