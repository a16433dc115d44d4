package meshcrypt

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/TheusHen/meshcrypt/internal/log"
	"github.com/TheusHen/meshcrypt/meshcrypt/crypto"
	"github.com/TheusHen/meshcrypt/meshcrypt/keystore"
	"github.com/TheusHen/meshcrypt/meshcrypt/secure"
	"github.com/TheusHen/meshcrypt/meshcrypt/session"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

// DefaultServerAddress is where nodes look for the key server unless told
// otherwise.
const DefaultServerAddress = transport.Address(1)

type Options struct {
	// Server is the mesh address of the key server.
	Server transport.Address
	Policy session.Policy

	// Source supplies the personal IV and key. Nil uses the system CSPRNG.
	Source crypto.Source

	Logger       *logging.Logger
	PollInterval time.Duration
}

// Node is a mesh participant that encrypts everything it sends.
// It combines a transport, a key store and the bootstrap handshake.
type Node struct {
	tr     transport.Transport
	keys   *keystore.Store
	conn   *secure.Conn
	server transport.Address
	policy session.Policy
	log    *logging.Logger
}

func NewNode(tr transport.Transport, opts Options) *Node {
	l := opts.Logger
	if l == nil {
		l = log.Discard("node")
	}
	server := opts.Server
	if server == transport.Unassigned {
		server = DefaultServerAddress
	}
	policy := opts.Policy
	if policy == (session.Policy{}) {
		policy = session.DefaultPolicy()
	}
	keys := keystore.New(opts.Source)
	return &Node{
		tr:     tr,
		keys:   keys,
		conn:   secure.NewConn(tr, keys, secure.Options{Logger: l, PollInterval: opts.PollInterval}),
		server: server,
		policy: policy,
		log:    l,
	}
}

// Init brings the transport up, obtains an address when the node has none,
// generates the personal IV and key and hands both to the server. With the
// default policy it blocks until the server answers or ctx is done.
func (n *Node) Init(ctx context.Context) error {
	if err := n.tr.Init(ctx); err != nil {
		return fmt.Errorf("transport init: %w", err)
	}
	if n.tr.Address() == transport.Unassigned {
		addr, err := n.tr.AssignAddress(ctx)
		if err != nil {
			return fmt.Errorf("address assignment: %w", err)
		}
		n.log.Noticef("assigned address %v", addr)
	}

	if err := n.keys.GenerateIV(); err != nil {
		return err
	}
	if err := n.keys.GenerateKey(); err != nil {
		return err
	}
	if n.log.IsEnabledFor(logging.DEBUG) {
		km := n.keys.Personal()
		n.log.Debugf("personal iv %v key %v", km.IV, km.Key)
	}

	syncer := session.NewSyncer(n.conn, n.keys, n.server, n.policy, n.log)
	if err := syncer.SyncIV(ctx); err != nil {
		return fmt.Errorf("sync iv: %w", err)
	}
	if err := syncer.SyncKey(ctx); err != nil {
		return fmt.Errorf("sync key: %w", err)
	}
	n.keys.MarkSynced()
	n.log.Noticef("keys synced with server %v", n.server)
	return nil
}

func (n *Node) Address() transport.Address { return n.tr.Address() }

func (n *Node) IsSynced() bool { return n.keys.IsSynced() }

// Keys exposes the node's key store.
func (n *Node) Keys() *keystore.Store { return n.keys }

// SendTo encrypts msg and sends it to dest. See secure.Conn.SendTo.
func (n *Node) SendTo(ctx context.Context, msg []byte, dest transport.Address) (transport.ResultCode, error) {
	return n.conn.SendTo(ctx, msg, dest)
}

func (n *Node) RecvFromAck(buf []byte) (secure.Datagram, bool, error) {
	return n.conn.RecvFromAck(buf)
}

func (n *Node) RecvFromAckTimeout(ctx context.Context, buf []byte, timeout time.Duration) (secure.Datagram, bool, error) {
	return n.conn.RecvFromAckTimeout(ctx, buf, timeout)
}
