// Package quic carries mesh frames between hosts over QUIC, so nodes that
// have no radio in common can still form one mesh. Every datagram travels on
// its own stream and is answered with a one byte result, the link level
// equivalent of a radio acknowledgement.
package quic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	q "github.com/quic-go/quic-go"
	"gopkg.in/op/go-logging.v1"

	"github.com/TheusHen/meshcrypt/internal/log"
	"github.com/TheusHen/meshcrypt/internal/worker"
	"github.com/TheusHen/meshcrypt/meshcrypt/protocol"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

const (
	defaultInboxSize  = 32
	defaultAckTimeout = 2 * time.Second
)

var (
	ErrClosed     = errors.New("quic: link is closed")
	ErrNotStarted = errors.New("quic: link is not initialized")
)

// Config describes one host's place in the mesh.
type Config struct {
	// Listen is the UDP address of this host, e.g. "127.0.0.1:7400".
	Listen string

	// Address is this host's mesh address. Unassigned asks Gateway for one.
	Address transport.Address

	// Routes maps mesh addresses to the UDP address of their host. Routes
	// are also learned from incoming traffic.
	Routes map[transport.Address]string

	// Gateway is the UDP address of the host that hands out addresses.
	Gateway string

	// AssignFrom makes this host hand out addresses, starting at the given
	// one. Zero disables the service.
	AssignFrom transport.Address

	InboxSize  int
	AckTimeout time.Duration
	Logger     *logging.Logger
}

type inbound struct {
	src, dst transport.Address
	data     []byte
}

// Link is a transport.Transport over QUIC. One UDP socket serves both the
// listener and outgoing dials, so the remote address of an incoming
// connection is the peer's listen address.
type Link struct {
	worker.Worker

	cfg Config
	log *logging.Logger

	udp    *net.UDPConn
	qt     *q.Transport
	ln     *q.Listener
	tls    *linkTLS
	cancel context.CancelFunc

	mu       sync.RWMutex
	started  bool
	closed   bool
	addr     transport.Address
	routes   map[transport.Address]string
	conns    map[string]*q.Conn
	nextAddr transport.Address

	inbox chan inbound
	ready chan struct{}
}

func New(cfg Config) *Link {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	l := &Link{
		cfg:      cfg,
		log:      cfg.Logger,
		addr:     cfg.Address,
		routes:   map[transport.Address]string{},
		conns:    map[string]*q.Conn{},
		nextAddr: cfg.AssignFrom,
		inbox:    make(chan inbound, cfg.InboxSize),
		ready:    make(chan struct{}, 1),
	}
	if l.log == nil {
		l.log = log.Discard("link")
	}
	for a, hp := range cfg.Routes {
		l.routes[a] = hp
	}
	return l
}

func quicConfig() *q.Config {
	return &q.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

// Init binds the UDP socket and starts accepting peers. Calling it again is
// a no-op.
func (l *Link) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.started {
		return nil
	}

	tlsConf, err := newLinkTLS(time.Now())
	if err != nil {
		return err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", l.cfg.Listen)
	if err != nil {
		return err
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	qt := &q.Transport{Conn: udp}
	ln, err := qt.Listen(tlsConf.listen, quicConfig())
	if err != nil {
		qt.Close()
		udp.Close()
		return err
	}

	l.udp, l.qt, l.ln, l.tls = udp, qt, ln, tlsConf
	l.started = true

	serveCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.Go(func() { l.acceptLoop(serveCtx) })
	l.log.Noticef("listening on %v as %v", udp.LocalAddr(), l.addr)
	return nil
}

// ListenAddr returns the bound UDP address, or "" before Init.
func (l *Link) ListenAddr() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.udp == nil {
		return ""
	}
	return l.udp.LocalAddr().String()
}

func (l *Link) Address() transport.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.addr
}

// AddRoute records the host serving mesh address a.
func (l *Link) AddRoute(a transport.Address, hostport string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.routes[a] = hostport
}

// Route returns the host serving mesh address a.
func (l *Link) Route(a transport.Address) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	hp, ok := l.routes[a]
	return hp, ok
}

// AssignAddress asks the gateway for a mesh address.
func (l *Link) AssignAddress(ctx context.Context) (transport.Address, error) {
	if a := l.Address(); a != transport.Unassigned {
		return a, nil
	}
	if l.cfg.Gateway == "" {
		return transport.Unassigned, transport.ErrNoAddress
	}
	reply, err := l.exchange(ctx, l.cfg.Gateway, protocol.Frame{Type: protocol.FrameTypeAddressReq})
	if err != nil {
		return transport.Unassigned, err
	}
	if reply.Type != protocol.FrameTypeAddressAssign {
		return transport.Unassigned, fmt.Errorf("quic: unexpected %v reply to address request", reply.Type)
	}
	a := transport.Address(reply.Dst)
	if a == transport.Unassigned {
		return transport.Unassigned, transport.ErrNoAddress
	}

	l.mu.Lock()
	l.addr = a
	if _, ok := l.routes[transport.Address(reply.Src)]; !ok {
		l.routes[transport.Address(reply.Src)] = l.cfg.Gateway
	}
	l.mu.Unlock()
	l.log.Noticef("gateway %v assigned address %v", reply.Src, a)
	return a, nil
}

// SendToWaitAck delivers buf to the host serving dest and waits for its
// acknowledgement. A broadcast goes to every known host and succeeds when
// any of them accepts it.
func (l *Link) SendToWaitAck(ctx context.Context, buf []byte, dest transport.Address) transport.ResultCode {
	if len(buf) > transport.MaxMessageLen {
		return transport.ResultInvalidLength
	}
	f := protocol.Frame{
		Type:    protocol.FrameTypeData,
		Src:     uint8(l.Address()),
		Dst:     uint8(dest),
		Payload: buf,
	}

	if dest == transport.BroadcastAddress {
		res := transport.ResultNoRoute
		for _, hp := range l.hosts() {
			if r := l.sendData(ctx, hp, f); r == transport.ResultSuccess {
				res = r
			} else if res == transport.ResultNoRoute {
				res = r
			}
		}
		return res
	}

	hp, ok := l.Route(dest)
	if !ok {
		return transport.ResultNoRoute
	}
	return l.sendData(ctx, hp, f)
}

func (l *Link) sendData(ctx context.Context, hostport string, f protocol.Frame) transport.ResultCode {
	ack, err := l.exchange(ctx, hostport, f)
	if err != nil {
		l.log.Debugf("send to %v via %s: %v", f.Dst, hostport, err)
		return transport.ResultUnableToDeliver
	}
	if ack.Type != protocol.FrameTypeAck || len(ack.Payload) != 1 {
		return transport.ResultUnableToDeliver
	}
	return transport.ResultCode(ack.Payload[0])
}

func (l *Link) hosts() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := map[string]bool{}
	out := make([]string, 0, len(l.routes))
	for _, hp := range l.routes {
		if !seen[hp] {
			seen[hp] = true
			out = append(out, hp)
		}
	}
	return out
}

// exchange writes f on a fresh stream to hostport and reads one frame back.
// A failed cached connection is dropped and redialled once.
func (l *Link) exchange(ctx context.Context, hostport string, f protocol.Frame) (protocol.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.AckTimeout)
	defer cancel()

	var lastErr error
	for try := 0; try < 2; try++ {
		conn, err := l.dial(ctx, hostport)
		if err != nil {
			return protocol.Frame{}, err
		}
		reply, err := roundTrip(ctx, conn, f)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		l.forget(hostport, conn)
		if ctx.Err() != nil {
			break
		}
	}
	return protocol.Frame{}, lastErr
}

func roundTrip(ctx context.Context, conn *q.Conn, f protocol.Frame) (protocol.Frame, error) {
	st, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return protocol.Frame{}, err
	}
	defer st.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(dl)
	}
	if err := protocol.WriteFrame(st, f); err != nil {
		return protocol.Frame{}, err
	}
	reply, err := protocol.ReadFrame(st)
	st.CancelRead(0)
	return reply, err
}

func (l *Link) dial(ctx context.Context, hostport string) (*q.Conn, error) {
	l.mu.RLock()
	if !l.started || l.closed {
		l.mu.RUnlock()
		return nil, ErrNotStarted
	}
	conn, ok := l.conns[hostport]
	qt, tlsConf := l.qt, l.tls
	l.mu.RUnlock()
	if ok && conn.Context().Err() == nil {
		return conn, nil
	}

	raddr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return nil, err
	}
	conn, err = qt.Dial(ctx, raddr, tlsConf.dial, quicConfig())
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.conns[hostport]; ok && cur.Context().Err() == nil {
		_ = conn.CloseWithError(0, "duplicate")
		return cur, nil
	}
	l.conns[hostport] = conn
	return conn, nil
}

func (l *Link) forget(hostport string, conn *q.Conn) {
	l.mu.Lock()
	if l.conns[hostport] == conn {
		delete(l.conns, hostport)
	}
	l.mu.Unlock()
	_ = conn.CloseWithError(0, "")
}

func (l *Link) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.log.Warningf("accept: %v", err)
			}
			return
		}
		l.Go(func() { l.serveConn(ctx, conn) })
	}
}

func (l *Link) serveConn(ctx context.Context, conn *q.Conn) {
	remote := conn.RemoteAddr().String()
	for {
		st, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		l.Go(func() {
			defer st.Close()
			_ = st.SetDeadline(time.Now().Add(l.cfg.AckTimeout))
			f, err := protocol.ReadFrame(st)
			if err != nil {
				l.log.Debugf("read from %s: %v", remote, err)
				return
			}
			st.CancelRead(0)
			if err := protocol.WriteFrame(st, l.handle(f, remote)); err != nil {
				l.log.Debugf("reply to %s: %v", remote, err)
			}
		})
	}
}

// handle processes one incoming frame and returns the reply.
func (l *Link) handle(f protocol.Frame, remote string) protocol.Frame {
	switch f.Type {
	case protocol.FrameTypeData:
		return l.ack(f, l.deliver(f, remote))
	case protocol.FrameTypeAddressReq:
		a := l.allocate(remote)
		return protocol.Frame{Type: protocol.FrameTypeAddressAssign, Src: uint8(l.Address()), Dst: uint8(a)}
	default:
		return l.ack(f, transport.ResultUnableToDeliver)
	}
}

func (l *Link) ack(f protocol.Frame, res transport.ResultCode) protocol.Frame {
	return protocol.Frame{
		Type:    protocol.FrameTypeAck,
		Src:     uint8(l.Address()),
		Dst:     f.Src,
		Payload: []byte{byte(res)},
	}
}

func (l *Link) deliver(f protocol.Frame, remote string) transport.ResultCode {
	src, dst := transport.Address(f.Src), transport.Address(f.Dst)
	if len(f.Payload) > transport.MaxMessageLen {
		return transport.ResultInvalidLength
	}

	l.mu.Lock()
	self := l.addr
	if src != transport.Unassigned && src != transport.BroadcastAddress {
		if _, ok := l.routes[src]; !ok {
			l.routes[src] = remote
			l.log.Debugf("learned route to %v via %s", src, remote)
		}
	}
	l.mu.Unlock()

	if dst != self && dst != transport.BroadcastAddress {
		return transport.ResultNoRoute
	}
	select {
	case l.inbox <- inbound{src: src, dst: dst, data: f.Payload}:
	default:
		return transport.ResultUnableToDeliver
	}
	select {
	case l.ready <- struct{}{}:
	default:
	}
	return transport.ResultSuccess
}

func (l *Link) allocate(remote string) transport.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.nextAddr == transport.Unassigned {
		return transport.Unassigned
	}
	for a := int(l.nextAddr); a < int(transport.BroadcastAddress); a++ {
		addr := transport.Address(a)
		if _, taken := l.routes[addr]; taken || addr == l.addr {
			continue
		}
		l.routes[addr] = remote
		l.nextAddr = addr + 1
		l.log.Infof("assigned address %v to %s", addr, remote)
		return addr
	}
	return transport.Unassigned
}

func (l *Link) RecvFromAck(buf []byte) (int, transport.Address, transport.Address, bool) {
	select {
	case in := <-l.inbox:
		n := copy(buf, in.data)
		return n, in.src, in.dst, true
	default:
		return 0, 0, 0, false
	}
}

func (l *Link) Ready() <-chan struct{} { return l.ready }

// Close stops the accept loop and releases the socket.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	started := l.started
	conns := l.conns
	l.conns = map[string]*q.Conn{}
	l.mu.Unlock()

	if !started {
		return nil
	}
	l.cancel()
	for _, c := range conns {
		_ = c.CloseWithError(0, "closing")
	}
	err := l.ln.Close()
	l.Halt()
	if e := l.qt.Close(); err == nil {
		err = e
	}
	_ = l.udp.Close()
	return err
}

var (
	_ transport.Transport = (*Link)(nil)
	_ transport.Notifier  = (*Link)(nil)
)
