package handshake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Total handshake size on the wire, in each direction.
const FrameLen = 68

const headerLen = 28

const protocol = "BitTorrent protocol"

var (
	ErrBadProtocol      = errors.New("remote is not speaking the BitTorrent protocol")
	ErrInfoHashMismatch = errors.New("remote answered the handshake for a different torrent")
)

/*
*
Frame is one side's complete handshake.

https://wiki.theory.org/BitTorrentSpecification#Handshake
*/
type Frame struct {
	Extensions Extensions
	InfoHash   InfoHash
	PeerID     PeerID
}

func (f *Frame) Serialize() []byte {
	var buf bytes.Buffer

	buf.WriteByte(byte(len(protocol)))
	buf.WriteString(protocol)
	buf.Write(f.Extensions[:])
	buf.Write(f.InfoHash[:])
	buf.Write(f.PeerID[:])

	return buf.Bytes()
}

/*
*
The header is the fixed 28-byte prefix: pstrlen, pstr and the reserved
extension bits. It is written and read as one unit; infohash and peer id
follow as separate reads because filters may cut the connection between
them.
*/
func writeHeader(w io.Writer, ext Extensions) error {
	buf := make([]byte, 0, headerLen)
	buf = append(buf, byte(len(protocol)))
	buf = append(buf, protocol...)
	buf = append(buf, ext[:]...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write handshake header: %w", err)
	}

	return nil
}

func readHeader(r io.Reader) (Extensions, error) {
	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Extensions{}, fmt.Errorf("failed to read handshake header: %w", err)
	}

	if buf[0] != byte(len(protocol)) || string(buf[1:1+len(protocol)]) != protocol {
		return Extensions{}, ErrBadProtocol
	}

	var ext Extensions
	copy(ext[:], buf[1+len(protocol):])

	return ext, nil
}

func writeInfoHash(w io.Writer, hash InfoHash) error {
	if _, err := w.Write(hash[:]); err != nil {
		return fmt.Errorf("failed to write info hash: %w", err)
	}

	return nil
}

func readInfoHash(r io.Reader) (InfoHash, error) {
	var hash InfoHash
	if _, err := io.ReadFull(r, hash[:]); err != nil {
		return InfoHash{}, fmt.Errorf("failed to read info hash: %w", err)
	}

	return hash, nil
}

func writePeerID(w io.Writer, pid PeerID) error {
	if _, err := w.Write(pid[:]); err != nil {
		return fmt.Errorf("failed to write peer ID: %w", err)
	}

	return nil
}

func readPeerID(r io.Reader) (PeerID, error) {
	var pid PeerID
	if _, err := io.ReadFull(r, pid[:]); err != nil {
		return PeerID{}, fmt.Errorf("failed to read peer ID: %w", err)
	}

	return pid, nil
}

/*
*
FrameFromStream reads one complete 68-byte handshake. Offered for callers
that drive a socket themselves; the pipeline reads in stages instead.
*/
func FrameFromStream(r io.Reader) (*Frame, error) {
	ext, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	hash, err := readInfoHash(r)
	if err != nil {
		return nil, err
	}

	pid, err := readPeerID(r)
	if err != nil {
		return nil, err
	}

	return &Frame{Extensions: ext, InfoHash: hash, PeerID: pid}, nil
}
