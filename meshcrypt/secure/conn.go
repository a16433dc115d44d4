// Package secure wraps a mesh transport so that every datagram is encrypted
// with the node's active key material.
package secure

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/TheusHen/meshcrypt/internal/instrument"
	"github.com/TheusHen/meshcrypt/internal/log"
	"github.com/TheusHen/meshcrypt/meshcrypt/crypto"
	"github.com/TheusHen/meshcrypt/meshcrypt/keystore"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

// defaultPollInterval paces receive polling on transports without a Notifier.
const defaultPollInterval = 2 * time.Millisecond

var ErrBufferOverflow = crypto.ErrBufferOverflow

// Datagram describes a received message.
type Datagram struct {
	// Len is the length reported by the transport. It covers the block padding
	// added by the sender; the true plaintext length is carried by the
	// application.
	Len    int
	Source transport.Address
	Dest   transport.Address
}

// Options configures a Conn.
type Options struct {
	Logger       *logging.Logger
	PollInterval time.Duration
}

// Conn sends and receives encrypted datagrams. Each call stages its frame in
// a buffer of its own, so calls may run concurrently.
type Conn struct {
	tr           transport.Transport
	keys         *keystore.Store
	log          *logging.Logger
	pollInterval time.Duration
}

func NewConn(tr transport.Transport, keys *keystore.Store, opts Options) *Conn {
	c := &Conn{
		tr:           tr,
		keys:         keys,
		log:          opts.Logger,
		pollInterval: opts.PollInterval,
	}
	if c.log == nil {
		c.log = log.Discard("secure")
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	return c
}

// Transport returns the underlying mesh transport.
func (c *Conn) Transport() transport.Transport { return c.tr }

// SendTo encrypts plaintext with the active key material and sends it to dest,
// returning the transport's result unchanged. Oversized plaintext is rejected
// with ResultInvalidLength and ErrBufferOverflow before reaching the transport.
func (c *Conn) SendTo(ctx context.Context, plaintext []byte, dest transport.Address) (transport.ResultCode, error) {
	active := c.keys.Active()
	return sendSealed(ctx, c.tr, c.log, active.Kind.String(), active.Material, plaintext, dest)
}

// Send encrypts plaintext with km instead of a store's active pair. It serves
// peers that pick key material per destination, such as the handshake
// responder. A nil l disables logging.
func Send(ctx context.Context, tr transport.Transport, l *logging.Logger, km crypto.KeyMaterial, plaintext []byte, dest transport.Address) (transport.ResultCode, error) {
	if l == nil {
		l = log.Discard("secure")
	}
	return sendSealed(ctx, tr, l, "explicit", km, plaintext, dest)
}

func sendSealed(ctx context.Context, tr transport.Transport, l *logging.Logger, kind string, km crypto.KeyMaterial, plaintext []byte, dest transport.Address) (transport.ResultCode, error) {
	buf := acquireFrame()
	defer releaseFrame(buf)

	n, err := Seal(buf[:FrameCapacity], plaintext, km)
	if err != nil {
		instrument.BufferOverflow()
		return transport.ResultInvalidLength, err
	}
	if l.IsEnabledFor(logging.DEBUG) {
		l.Debugf("to %v with %v keys: %d bytes plain, %d bytes framed: %s", dest, kind, len(plaintext), n, hex.EncodeToString(buf[:n]))
	}

	res := tr.SendToWaitAck(ctx, buf[:n], dest)
	instrument.FrameSent(res.String())
	if res != transport.ResultSuccess {
		l.Debugf("send to %v: %v", dest, res)
	}
	return res, nil
}

// Seal copies plaintext into frame and encrypts it in place, returning the
// block-aligned length. Bytes of frame past the plaintext must be zero.
func Seal(frame, plaintext []byte, km crypto.KeyMaterial) (int, error) {
	if crypto.FramedLen(len(plaintext)) > len(frame) {
		return 0, fmt.Errorf("%w: %d byte message", ErrBufferOverflow, len(plaintext))
	}
	copy(frame, plaintext)
	return crypto.EncryptInPlace(frame, len(plaintext), km)
}

// Open decrypts the n byte frame received in frame in place. frame must have
// room for the trailing block the framing reserves.
func Open(frame []byte, n int, km crypto.KeyMaterial) (int, error) {
	return crypto.DecryptInPlace(frame, n, km)
}

// RecvFromAck returns a pending datagram decrypted into buf. It does not
// block; ok is false when nothing is pending.
func (c *Conn) RecvFromAck(buf []byte) (Datagram, bool, error) {
	frame := acquireFrame()
	defer releaseFrame(frame)

	n, src, dst, ok := c.tr.RecvFromAck(frame[:FrameCapacity])
	if !ok {
		return Datagram{}, false, nil
	}

	active := c.keys.Active()
	if _, err := Open(frame[:], n, active.Material); err != nil {
		instrument.BufferOverflow()
		return Datagram{}, false, err
	}
	if n > len(buf) {
		instrument.BufferOverflow()
		return Datagram{}, false, fmt.Errorf("%w: %d byte datagram into a %d byte buffer", ErrBufferOverflow, n, len(buf))
	}
	copy(buf, frame[:n])
	instrument.FrameReceived(active.Kind.String())
	if c.log.IsEnabledFor(logging.DEBUG) {
		c.log.Debugf("from %v with %v keys: %d bytes: %s", src, active.Kind, n, hex.EncodeToString(buf[:n]))
	}
	return Datagram{Len: n, Source: src, Dest: dst}, true, nil
}

// RecvFromAckTimeout waits up to timeout for a datagram. It returns false,
// with a nil error, once the timeout elapses without one; a cancelled ctx
// returns its error.
func (c *Conn) RecvFromAckTimeout(ctx context.Context, buf []byte, timeout time.Duration) (Datagram, bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var ready <-chan struct{}
	if n, ok := c.tr.(transport.Notifier); ok {
		ready = n.Ready()
	}
	tick := time.NewTicker(c.pollInterval)
	defer tick.Stop()

	for {
		d, ok, err := c.RecvFromAck(buf)
		if err != nil {
			return Datagram{}, false, err
		}
		if ok {
			return d, true, nil
		}

		select {
		case <-ctx.Done():
			return Datagram{}, false, ctx.Err()
		case <-deadline.C:
			return Datagram{}, false, nil
		case <-ready:
		case <-tick.C:
		}
	}
}
