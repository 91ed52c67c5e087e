package handshake

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"
)

/*
*
Socket is the bidirectional byte stream a handshake runs over. net.Conn
satisfies it, and so do the in-memory pipes the tests use.
*/
type Socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetDeadline(t time.Time) error
}

type Listener interface {
	// Accept blocks until the next incoming connection.
	Accept() (Socket, netip.AddrPort, error)
	Addr() netip.AddrPort
	Close() error
}

/*
*
Transport opens the sockets the pipeline runs over. The core is generic over
it: plain TCP below, uTP or an in-memory fake elsewhere.
*/
type Transport interface {
	Listen(bind netip.AddrPort) (Listener, error)
	Connect(ctx context.Context, addr netip.AddrPort) (Socket, error)
}

// TCPTransport is the production transport.
type TCPTransport struct {
	// DialTimeout bounds a single connection attempt. Zero means no bound
	// beyond the dialing context.
	DialTimeout time.Duration
}

func (t TCPTransport) Listen(bind netip.AddrPort) (Listener, error) {
	l, err := net.ListenTCP("tcp", net.TCPAddrFromAddrPort(bind))
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", bind, err)
	}

	return &tcpListener{l: l}, nil
}

func (t TCPTransport) Connect(ctx context.Context, addr netip.AddrPort) (Socket, error) {
	dialer := net.Dialer{Timeout: t.DialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to make TCP connection: %w", err)
	}

	return conn, nil
}

type tcpListener struct {
	l *net.TCPListener
}

func (t *tcpListener) Accept() (Socket, netip.AddrPort, error) {
	conn, err := t.l.AcceptTCP()
	if err != nil {
		return nil, netip.AddrPort{}, fmt.Errorf("failed to accept connection: %w", err)
	}

	return conn, conn.RemoteAddr().(*net.TCPAddr).AddrPort(), nil
}

func (t *tcpListener) Addr() netip.AddrPort {
	return t.l.Addr().(*net.TCPAddr).AddrPort()
}

func (t *tcpListener) Close() error {
	return t.l.Close()
}
