package handshake

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/TatuMon/handshaker/logger"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

/*
*
Queue bounds for the three pipeline channels. The initiate queue absorbs
bursts from peer discovery; everything after it runs at connection speed, so
the small queues keep latency down and act as admission control.
*/
const (
	maxInitiateBuffer  = 1000
	maxHandshakeBuffer = 20
	maxCompleteBuffer  = 20
)

const DefaultTimeout = 5 * time.Second

var ErrShutdown = errors.New("handshaker was shut down")

/*
*
HandshakerBuilder configures and wires the pipeline.
*/
type HandshakerBuilder struct {
	bind    netip.AddrPort
	port    uint16
	pid     PeerID
	ext     Extensions
	timeout time.Duration
}

func NewHandshakerBuilder() *HandshakerBuilder {
	return &HandshakerBuilder{
		bind:    netip.AddrPortFrom(netip.IPv4Unspecified(), 0),
		pid:     RandomPeerID(),
		timeout: DefaultTimeout,
	}
}

// WithBindAddr sets the address the listener binds to.
// Defaults to the unspecified IPv4 address on an ephemeral port.
func (b *HandshakerBuilder) WithBindAddr(bind netip.AddrPort) *HandshakerBuilder {
	b.bind = bind
	return b
}

// WithOpenPort sets the port advertised to other peers.
//
// Defaults to the port actually bound (which only works when the host is
// not natted).
func (b *HandshakerBuilder) WithOpenPort(port uint16) *HandshakerBuilder {
	b.port = port
	return b
}

// WithPeerID sets the peer id advertised in every handshake.
//
// Defaults to 20 random bytes; real clients should follow an encoding
// scheme, see https://www.bittorrent.org/beps/bep_0020.html.
func (b *HandshakerBuilder) WithPeerID(pid PeerID) *HandshakerBuilder {
	b.pid = pid
	return b
}

// WithExtensions sets the reserved bits advertised in every handshake.
// Completed handshakes carry the intersection of both sides' bits.
func (b *HandshakerBuilder) WithExtensions(ext Extensions) *HandshakerBuilder {
	b.ext = ext
	return b
}

// WithTimeout sets the per-socket handshake deadline.
func (b *HandshakerBuilder) WithTimeout(timeout time.Duration) *HandshakerBuilder {
	b.timeout = timeout
	return b
}

func (b *HandshakerBuilder) Build(transport Transport) (*Handshaker, error) {
	listener, err := transport.Listen(b.bind)
	if err != nil {
		return nil, fmt.Errorf("failed to start listening: %w", err)
	}

	// Resolve our "real" public port
	port := b.port
	if port == 0 {
		port = listener.Addr().Port()
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Handshaker{
		port:      port,
		pid:       b.pid,
		ext:       b.ext,
		timeout:   b.timeout,
		transport: transport,
		listener:  listener,
		filters:   NewFilters(),
		initiates: make(chan InitiateMessage, maxInitiateBuffer),
		pending:   make(chan job, maxHandshakeBuffer),
		completed: make(chan CompleteMessage, maxCompleteBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return h.runInitiator(groupCtx) })
	group.Go(func() error { return h.runListener(groupCtx) })
	group.Go(func() error { return h.runHandshakes(groupCtx) })

	go func() {
		// Any stage exiting, listener death included, takes the whole
		// pipeline with it: cancel the facade context so sink sends
		// start erroring, then sweep whatever was still queued.
		_ = group.Wait()
		h.Close()
		h.drainPending()
		h.socks.Wait()
		close(h.completed)
	}()

	logrus.Debugf("handshaker listening on %s, advertising port %d", listener.Addr(), port)

	return h, nil
}

/*
*
Handshaker is the facade over the pipeline: a sink of initiation requests, a
stream of completed handshakes, and the shared filter registry.
*/
type Handshaker struct {
	port      uint16
	pid       PeerID
	ext       Extensions
	timeout   time.Duration
	transport Transport
	listener  Listener
	filters   *Filters

	initiates chan InitiateMessage
	pending   chan job
	completed chan CompleteMessage

	ctx     context.Context
	cancel  context.CancelFunc
	socks   sync.WaitGroup
	closing sync.Once
}

// Port is the port advertised to other peers.
func (h *Handshaker) Port() uint16 {
	return h.port
}

// PeerID is the peer id advertised to other peers.
func (h *Handshaker) PeerID() PeerID {
	return h.pid
}

/*
*
Initiate queues an outgoing handshake request. Any number of goroutines may
call it; requests from a single goroutine are processed in order. It blocks
while the initiate queue is full and returns ErrShutdown once the pipeline
is closed.
*/
func (h *Handshaker) Initiate(ctx context.Context, msg InitiateMessage) error {
	if h.ctx.Err() != nil {
		return ErrShutdown
	}

	select {
	case <-h.ctx.Done():
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	case h.initiates <- msg:
		return nil
	}
}

/*
*
Completed yields successfully handshaken connections. The channel is closed
once the pipeline has shut down and every in-flight handshake has finished.
An absent yield is the only signal a given peer failed; per-peer errors are
deliberately not surfaced.
*/
func (h *Handshaker) Completed() <-chan CompleteMessage {
	return h.completed
}

// Sink returns a clonable handle over the initiation queue.
func (h *Handshaker) Sink() Sink {
	return Sink{h: h}
}

// Stream returns the consuming half of the pipeline.
func (h *Handshaker) Stream() Stream {
	return Stream{h: h}
}

func (h *Handshaker) AddFilter(f Filter) {
	h.filters.Add(f)
}

func (h *Handshaker) RemoveFilter(f Filter) {
	h.filters.Remove(f)
}

func (h *Handshaker) ClearFilters() {
	h.filters.Clear()
}

/*
*
Close shuts the pipeline down: the listener stops accepting, queued
initiations are dropped, in-flight handshakes are cut off by their deadline
and the completed channel is closed once they are done. Safe to call more
than once.
*/
func (h *Handshaker) Close() {
	h.closing.Do(func() {
		h.cancel()
		h.listener.Close()
	})
}

func (h *Handshaker) runInitiator(ctx context.Context) error {
	for {
		var msg InitiateMessage

		select {
		case <-ctx.Done():
			return nil
		case msg = <-h.initiates:
		}

		if msg.Shutdown {
			h.Close()
			return nil
		}

		seed := msg.Seed
		if !h.filters.Admit(Candidate{Addr: seed.Addr, InfoHash: &seed.InfoHash}) {
			logrus.Debugf("initiation to %s denied by filters", seed.Addr)
			continue
		}

		sock, err := h.transport.Connect(ctx, seed.Addr)
		if err != nil {
			// A single unreachable peer is routine, not an error.
			logrus.Debugf("failed to connect to peer %s: %s", seed.Addr, err.Error())
			continue
		}

		select {
		case <-ctx.Done():
			sock.Close()
			return nil
		case h.pending <- job{sock: sock, addr: seed.Addr, infoHash: seed.InfoHash, initiated: true}:
		}
	}
}

func (h *Handshaker) runListener(ctx context.Context) error {
	for {
		sock, addr, err := h.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("listener failed: %w", err)
			}
		}

		if !h.filters.Admit(Candidate{Addr: addr}) {
			logrus.Debugf("connection from %s denied by filters", addr)
			sock.Close()
			continue
		}

		select {
		case <-ctx.Done():
			sock.Close()
			return nil
		case h.pending <- job{sock: sock, addr: addr}:
		}
	}
}

func (h *Handshaker) runHandshakes(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.drainPending()
			return nil
		case j := <-h.pending:
			h.socks.Add(1)
			go h.executeJob(ctx, j)
		}
	}
}

/*
*
drainPending closes the sockets of jobs still queued for a handshake that
will never run. The handshake stage drains on its way out, and the teardown
path drains once more after every stage has exited, since a stage caught
mid-send can queue one last job.
*/
func (h *Handshaker) drainPending() {
	for {
		select {
		case j := <-h.pending:
			j.sock.Close()
		default:
			return
		}
	}
}

/*
*
executeJob runs one socket's handshake under a single deadline set at
entry. Every failure mode (bad protocol, infohash mismatch, filter denial,
I/O error, timeout) ends the same way: the socket is closed and nothing is
yielded.
*/
func (h *Handshaker) executeJob(ctx context.Context, j job) {
	defer h.socks.Done()

	j.sock.SetDeadline(time.Now().Add(h.timeout))

	var msg *CompleteMessage
	var err error
	if j.initiated {
		msg, err = executeInitiated(j.sock, j.addr, j.infoHash, h.pid, h.ext, h.filters)
	} else {
		msg, err = executeAccepted(j.sock, j.addr, h.pid, h.ext, h.filters)
	}

	if err != nil {
		logrus.Debugf("handshake with %s failed: %s", j.addr, err.Error())
		j.sock.Close()
		return
	}

	j.sock.SetDeadline(time.Time{})

	select {
	case <-ctx.Done():
		j.sock.Close()
	case h.completed <- *msg:
		if msg.InitiatedByUs {
			logger.LogInitiatedHandshake("completed handshake with %s for torrent %s", j.addr, msg.InfoHash)
		} else {
			logger.LogAcceptedHandshake("accepted handshake from %s for torrent %s", j.addr, msg.InfoHash)
		}
	}
}

/*
*
Sink is the input half of the pipeline. Copies share the same queue, so it
can be handed to any number of discovery sources.
*/
type Sink struct {
	h *Handshaker
}

func (s Sink) Send(ctx context.Context, msg InitiateMessage) error {
	return s.h.Initiate(ctx, msg)
}

func (s Sink) Port() uint16 {
	return s.h.Port()
}

func (s Sink) PeerID() PeerID {
	return s.h.PeerID()
}

func (s Sink) AddFilter(f Filter) {
	s.h.AddFilter(f)
}

func (s Sink) RemoveFilter(f Filter) {
	s.h.RemoveFilter(f)
}

func (s Sink) ClearFilters() {
	s.h.ClearFilters()
}

/*
*
Stream is the output half. Closing it shuts the whole pipeline down.
*/
type Stream struct {
	h *Handshaker
}

func (s Stream) Completed() <-chan CompleteMessage {
	return s.h.Completed()
}

func (s Stream) Recv(ctx context.Context) (CompleteMessage, error) {
	select {
	case <-ctx.Done():
		return CompleteMessage{}, ctx.Err()
	case msg, ok := <-s.h.completed:
		if !ok {
			return CompleteMessage{}, ErrShutdown
		}
		return msg, nil
	}
}

func (s Stream) Close() {
	s.h.Close()
}
