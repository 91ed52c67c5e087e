/**
Demo client for the handshake pipeline: point it at a .torrent file and it
will handshake with an explicit peer or with everyone the tracker returns.

https://wiki.theory.org/BitTorrentSpecification#Handshake
*/

package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"net/netip"
	"os"

	"github.com/TatuMon/handshaker/logger"
	"github.com/TatuMon/handshaker/src/handshake"
	"github.com/TatuMon/handshaker/src/metainfo"
)

/*
*
BEP-0020 style peer id: client prefix plus random suffix.
*/
func genPeerID() handshake.PeerID {
	prefix := []byte("-HS0001-")

	var pid handshake.PeerID
	copy(pid[:], prefix)
	_, _ = rand.Read(pid[len(prefix):])

	return pid
}

type completedPreview struct {
	InitiatedByUs bool
	InfoHash      string
	PeerID        string
	Extensions    [8]byte
}

func printCompleted(msg handshake.CompleteMessage) {
	preview := completedPreview{
		InitiatedByUs: msg.InitiatedByUs,
		InfoHash:      msg.InfoHash.String(),
		PeerID:        msg.PeerID.String(),
		Extensions:    msg.Extensions,
	}

	j, _ := json.MarshalIndent(&preview, "", "\t")
	fmt.Println(string(j))
}

func main() {
	torrentLocation := flag.String("torrent", "", "specify the location of the .torrent file")
	peerAddr := flag.String("peer", "", "handshake with this peer (host:port) instead of asking the tracker")
	bindAddr := flag.String("bind", "0.0.0.0:0", "address to accept incoming peers on")
	logLevel := flag.String("log-level", "info", "logrus log level")
	flag.Parse()

	if err := logger.SetupLoggerOpts(*logLevel, true, true); err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup logger: %s\n", err.Error())
		os.Exit(1)
	}

	if torrentLocation == nil || *torrentLocation == "" {
		fmt.Fprintf(os.Stderr, "must provide torrent file\n")
		os.Exit(1)
	}

	m, err := metainfo.FromFile(*torrentLocation)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse torrent file: %s\n", err.Error())
		os.Exit(1)
	}

	bind, err := netip.ParseAddrPort(*bindAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse bind address: %s\n", err.Error())
		os.Exit(1)
	}

	handshaker, err := handshake.NewHandshakerBuilder().
		WithBindAddr(bind).
		WithPeerID(genPeerID()).
		Build(handshake.TCPTransport{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build handshaker: %s\n", err.Error())
		os.Exit(1)
	}
	defer handshaker.Close()

	var peers []netip.AddrPort
	if *peerAddr != "" {
		addr, err := netip.ParseAddrPort(*peerAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to parse peer address: %s\n", err.Error())
			os.Exit(1)
		}
		peers = []netip.AddrPort{addr}
	} else {
		peers, err = metainfo.Announce(m, handshaker.PeerID(), handshaker.Port())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to announce to tracker: %s\n", err.Error())
			os.Exit(1)
		}
	}

	sink := handshaker.Sink()
	for _, addr := range peers {
		if err := sink.Send(context.Background(), handshake.NewInitiateMessage(m.InfoHash, addr)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to queue handshake: %s\n", err.Error())
			os.Exit(1)
		}
	}

	for msg := range handshaker.Completed() {
		printCompleted(msg)
		msg.Sock.Close()
	}
}
