// Package memory is an in-process mesh: every endpoint shares one Network and
// frames move between inboxes. It is useful for tests, simulations and for
// embedding several nodes in a single program.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

var ErrAddressInUse = errors.New("memory: address already attached")

const (
	defaultInboxSize = 16
	defaultFirstAddr = transport.Address(2)
)

type frame struct {
	src, dst transport.Address
	data     []byte
}

type link struct {
	a, b transport.Address
}

func linkKey(a, b transport.Address) link {
	if a > b {
		a, b = b, a
	}
	return link{a: a, b: b}
}

// Option configures a Network.
type Option func(*Network)

// WithInboxSize bounds the number of frames queued per endpoint. A full inbox
// makes senders see ResultUnableToDeliver.
func WithInboxSize(n int) Option {
	return func(nw *Network) {
		if n > 0 {
			nw.inboxSize = n
		}
	}
}

// WithAddressPool sets the first address handed out by AssignAddress.
func WithAddressPool(first transport.Address) Option {
	return func(nw *Network) {
		if first != transport.Unassigned && first != transport.BroadcastAddress {
			nw.firstAddr = first
		}
	}
}

// Network is the shared medium of all endpoints.
type Network struct {
	mu        sync.RWMutex
	nodes     map[transport.Address]*Endpoint
	down      map[link]bool
	inboxSize int
	firstAddr transport.Address
}

func NewNetwork(opts ...Option) *Network {
	nw := &Network{
		nodes:     map[transport.Address]*Endpoint{},
		down:      map[link]bool{},
		inboxSize: defaultInboxSize,
		firstAddr: defaultFirstAddr,
	}
	for _, o := range opts {
		o(nw)
	}
	return nw
}

// Endpoint creates a detached endpoint. A non-zero addr is attached
// immediately on Init; Unassigned endpoints must call AssignAddress.
func (nw *Network) Endpoint(addr transport.Address) *Endpoint {
	return &Endpoint{
		nw:    nw,
		addr:  addr,
		inbox: make(chan frame, nw.inboxSize),
		ready: make(chan struct{}, 1),
	}
}

// SetLinkDown makes frames between a and b fail with ResultUnableToDeliver.
func (nw *Network) SetLinkDown(a, b transport.Address, down bool) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	if down {
		nw.down[linkKey(a, b)] = true
		return
	}
	delete(nw.down, linkKey(a, b))
}

// Addresses lists attached endpoints.
func (nw *Network) Addresses() []transport.Address {
	nw.mu.RLock()
	defer nw.mu.RUnlock()
	out := make([]transport.Address, 0, len(nw.nodes))
	for a := range nw.nodes {
		out = append(out, a)
	}
	return out
}

func (nw *Network) attach(e *Endpoint, addr transport.Address) error {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	if cur, ok := nw.nodes[addr]; ok && cur != e {
		return ErrAddressInUse
	}
	nw.nodes[addr] = e
	return nil
}

func (nw *Network) allocate(e *Endpoint) (transport.Address, error) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	for a := int(nw.firstAddr); a < int(transport.BroadcastAddress); a++ {
		addr := transport.Address(a)
		if _, ok := nw.nodes[addr]; !ok {
			nw.nodes[addr] = e
			return addr, nil
		}
	}
	return transport.Unassigned, transport.ErrNoAddress
}

func (nw *Network) detach(e *Endpoint) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	for a, cur := range nw.nodes {
		if cur == e {
			delete(nw.nodes, a)
		}
	}
}

func (nw *Network) route(src, dst transport.Address, data []byte) transport.ResultCode {
	nw.mu.RLock()
	defer nw.mu.RUnlock()

	if dst == transport.BroadcastAddress {
		for a, e := range nw.nodes {
			if a == src || nw.down[linkKey(src, a)] {
				continue
			}
			e.enqueue(frame{src: src, dst: dst, data: data})
		}
		return transport.ResultSuccess
	}

	e, ok := nw.nodes[dst]
	if !ok {
		return transport.ResultNoRoute
	}
	if nw.down[linkKey(src, dst)] {
		return transport.ResultUnableToDeliver
	}
	if !e.enqueue(frame{src: src, dst: dst, data: data}) {
		return transport.ResultUnableToDeliver
	}
	return transport.ResultSuccess
}

// Endpoint is one node's view of the Network. It implements
// transport.Transport and transport.Notifier.
type Endpoint struct {
	nw    *Network
	mu    sync.RWMutex
	addr  transport.Address
	inbox chan frame
	ready chan struct{}
}

func (e *Endpoint) Init(ctx context.Context) error {
	addr := e.Address()
	if addr == transport.Unassigned {
		return nil
	}
	return e.nw.attach(e, addr)
}

func (e *Endpoint) Address() transport.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.addr
}

func (e *Endpoint) AssignAddress(ctx context.Context) (transport.Address, error) {
	if err := ctx.Err(); err != nil {
		return transport.Unassigned, err
	}
	addr, err := e.nw.allocate(e)
	if err != nil {
		return transport.Unassigned, err
	}
	e.mu.Lock()
	e.addr = addr
	e.mu.Unlock()
	return addr, nil
}

func (e *Endpoint) SendToWaitAck(ctx context.Context, buf []byte, dest transport.Address) transport.ResultCode {
	if len(buf) > transport.MaxMessageLen {
		return transport.ResultInvalidLength
	}
	if ctx.Err() != nil {
		return transport.ResultUnableToDeliver
	}
	data := append([]byte(nil), buf...)
	return e.nw.route(e.Address(), dest, data)
}

func (e *Endpoint) RecvFromAck(buf []byte) (int, transport.Address, transport.Address, bool) {
	select {
	case f := <-e.inbox:
		n := copy(buf, f.data)
		return n, f.src, f.dst, true
	default:
		return 0, 0, 0, false
	}
}

func (e *Endpoint) Ready() <-chan struct{} { return e.ready }

// Close detaches the endpoint; later frames addressed to it see ResultNoRoute.
func (e *Endpoint) Close() error {
	e.nw.detach(e)
	return nil
}

func (e *Endpoint) enqueue(f frame) bool {
	select {
	case e.inbox <- f:
	default:
		return false
	}
	select {
	case e.ready <- struct{}{}:
	default:
	}
	return true
}

var (
	_ transport.Transport = (*Endpoint)(nil)
	_ transport.Notifier  = (*Endpoint)(nil)
)
