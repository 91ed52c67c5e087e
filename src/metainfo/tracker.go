package metainfo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"strconv"

	"github.com/jackpal/bencode-go"

	"github.com/TatuMon/handshaker/src/handshake"
)

type trackerResponse struct {
	FailureReason  string `bencode:"failure reason"`
	WarningMessage string `bencode:"warning message"`
	Interval       uint   `bencode:"interval"`
	MinInterval    uint   `bencode:"min interval"`
	TrackerID      string `bencode:"tracker id"`
	Complete       uint   `bencode:"complete"`   // aka seeders
	Incomplete     uint   `bencode:"incomplete"` // aka leechers
	Peers          string `bencode:"peers"`      // string of bytes
}

func trackerResponseFromBody(body io.ReadCloser) (*trackerResponse, error) {
	t := trackerResponse{}

	if err := bencode.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("failed to parse tracker response: %w", err)
	}

	return &t, nil
}

func getTrackerURL(m *Metainfo, pid handshake.PeerID, port uint16) (string, error) {
	baseURL, err := url.Parse(m.Announce)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	qParams := url.Values{
		"info_hash":  []string{string(m.InfoHash[:])},
		"peer_id":    []string{string(pid[:])},
		"port":       []string{strconv.Itoa(int(port))},
		"uploaded":   []string{"0"},
		"downloaded": []string{"0"},
		"left":       []string{strconv.Itoa(int(m.FileSize))},
		"compact":    []string{"1"},
	}

	baseURL.RawQuery = qParams.Encode()
	return baseURL.String(), nil
}

/*
*
The peers are defined by 6-byte strings, where the first 4 define the IP and
the last 2 the port. Both using network byte order (big-endian)
*/
func peersFromTrackerResponse(t *trackerResponse) ([]netip.AddrPort, error) {
	peersBin := []byte(t.Peers)

	if len(peersBin) == 0 {
		return nil, errors.New("tracker response doesn't contain peers")
	}

	const chunkSize = 6 // 6 bytes per peer
	totalPeers := len(peersBin) / chunkSize
	if len(peersBin)%chunkSize != 0 {
		return nil, errors.New("received malformed peers")
	}

	peers := make([]netip.AddrPort, totalPeers)
	for i := 0; i < totalPeers; i++ {
		offset := i * chunkSize
		addr := netip.AddrFrom4([4]byte(peersBin[offset : offset+4]))
		port := binary.BigEndian.Uint16(peersBin[offset+4 : offset+6])
		peers[i] = netip.AddrPortFrom(addr, port)
	}

	return peers, nil
}

/*
*
Announce asks the metainfo's HTTP tracker for peers, advertising the given
peer id and port. The handshake pipeline never calls this itself; it is a
convenience for callers that have no other address source.
*/
func Announce(m *Metainfo, pid handshake.PeerID, port uint16) ([]netip.AddrPort, error) {
	trackerUrl, err := getTrackerURL(m, pid, port)
	if err != nil {
		return nil, fmt.Errorf("failed to get tracker url: %w", err)
	}

	res, err := http.Get(trackerUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tracker: %w", err)
	}

	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("connection to tracker failed with status %d", res.StatusCode)
	}

	trackerRes, err := trackerResponseFromBody(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tracker response: %w", err)
	}
	res.Body.Close()

	if len(trackerRes.FailureReason) > 0 {
		return nil, fmt.Errorf("tracker responded with failure: %s", trackerRes.FailureReason)
	}

	if len(trackerRes.WarningMessage) > 0 {
		fmt.Fprintf(os.Stderr, "[TRACKER WARNING] %s", trackerRes.WarningMessage)
	}

	peers, err := peersFromTrackerResponse(trackerRes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse peers list: %w", err)
	}

	return peers, nil
}
