package session

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/TheusHen/meshcrypt/internal/instrument"
	"github.com/TheusHen/meshcrypt/internal/log"
	"github.com/TheusHen/meshcrypt/internal/worker"
	"github.com/TheusHen/meshcrypt/meshcrypt/crypto"
	"github.com/TheusHen/meshcrypt/meshcrypt/keystore"
	"github.com/TheusHen/meshcrypt/meshcrypt/protocol"
	"github.com/TheusHen/meshcrypt/meshcrypt/registry"
	"github.com/TheusHen/meshcrypt/meshcrypt/secure"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

const defaultServePollInterval = 5 * time.Millisecond

// Handler receives decrypted application frames from bootstrapped nodes. msg
// is only valid for the duration of the call and includes block padding.
type Handler func(src transport.Address, msg []byte)

type ResponderOptions struct {
	Logger       *logging.Logger
	Handler      Handler
	PollInterval time.Duration
}

// Responder is the server end of the bootstrap handshake. It records each
// node's IV and key in a registry and echoes the message type back under the
// default pair. Frames that are not handshakes are opened with the sending
// node's registered pair.
type Responder struct {
	worker.Worker

	tr           transport.Transport
	reg          registry.Registry
	handler      Handler
	log          *logging.Logger
	defaults     crypto.KeyMaterial
	pollInterval time.Duration
}

func NewResponder(tr transport.Transport, reg registry.Registry, opts ResponderOptions) *Responder {
	r := &Responder{
		tr:           tr,
		reg:          reg,
		handler:      opts.Handler,
		log:          opts.Logger,
		defaults:     crypto.DefaultKeyMaterial(),
		pollInterval: opts.PollInterval,
	}
	if r.log == nil {
		r.log = log.Discard("responder")
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultServePollInterval
	}
	return r
}

// Start runs Serve in the background until ctx is done or Close is called.
func (r *Responder) Start(ctx context.Context) {
	r.Go(func() {
		if err := r.Serve(ctx); err != nil && ctx.Err() == nil {
			r.log.Errorf("serve: %v", err)
		}
	})
}

// Close stops a Responder started with Start.
func (r *Responder) Close() {
	r.Halt()
}

// Serve handles frames until ctx is done or the Responder is halted.
func (r *Responder) Serve(ctx context.Context) error {
	var ready <-chan struct{}
	if n, ok := r.tr.(transport.Notifier); ok {
		ready = n.Ready()
	}
	tick := time.NewTicker(r.pollInterval)
	defer tick.Stop()

	r.log.Noticef("serving on address %v", r.tr.Address())
	for {
		for {
			handled, err := r.Poll(ctx)
			if err != nil {
				r.log.Warningf("%v", err)
			}
			if !handled {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.HaltCh():
			return nil
		case <-ready:
		case <-tick.C:
		}
	}
}

// Poll handles at most one pending frame and reports whether there was one.
func (r *Responder) Poll(ctx context.Context) (bool, error) {
	var frame, raw [secure.FrameCapacity + crypto.BlockSize]byte

	n, src, _, ok := r.tr.RecvFromAck(frame[:secure.FrameCapacity])
	if !ok {
		return false, nil
	}
	raw = frame

	if _, err := secure.Open(frame[:], n, r.defaults); err != nil {
		instrument.BufferOverflow()
		return true, fmt.Errorf("frame from %v: %w", src, err)
	}
	if h, err := protocol.DecodeHandshake(frame[:n]); err == nil {
		instrument.FrameReceived(keystore.KindDefault.String())
		return true, r.handshake(ctx, src, h)
	}

	rec, err := r.reg.Lookup(src)
	if err != nil || !rec.Complete() {
		r.log.Debugf("dropping %d byte frame from unsynced node %v", n, src)
		return true, nil
	}
	if _, err := secure.Open(raw[:], n, rec.KeyMaterial()); err != nil {
		return true, fmt.Errorf("frame from %v: %w", src, err)
	}
	instrument.FrameReceived(keystore.KindPersonal.String())
	if r.handler != nil {
		r.handler(src, raw[:n])
	}
	return true, nil
}

func (r *Responder) handshake(ctx context.Context, src transport.Address, h protocol.Handshake) error {
	if transport.Address(h.Sender) != src {
		r.log.Debugf("%v from %v claims sender %d", h.Type, src, h.Sender)
	}

	var rec registry.Record
	switch h.Type {
	case protocol.MessageTypeSyncIV:
		// A fresh IV means the node rebooted and is bootstrapping again.
		rec = registry.Record{Address: src, IV: h.Payload, HasIV: true}
	case protocol.MessageTypeSyncKey:
		var err error
		rec, err = r.reg.Lookup(src)
		if err != nil {
			rec = registry.Record{Address: src}
		}
		rec.Key = h.Payload
		rec.HasKey = true
	}
	rec.UpdatedAt = time.Now()
	if err := r.reg.Put(rec); err != nil {
		return fmt.Errorf("register %v: %w", src, err)
	}
	instrument.Registration(h.Type.String())
	r.log.Infof("%v from node %v", h.Type, src)

	reply, err := protocol.EncodeHandshake(protocol.Handshake{
		Type:    h.Type,
		Sender:  uint8(r.tr.Address()),
		Payload: h.Payload,
	})
	if err != nil {
		return err
	}
	res, err := secure.Send(ctx, r.tr, r.log, r.defaults, reply, src)
	if err != nil {
		return err
	}
	if res != transport.ResultSuccess {
		return fmt.Errorf("reply %v to %v: %v", h.Type, src, res)
	}
	return nil
}

// SendTo encrypts msg with the pair dest registered and sends it.
func (r *Responder) SendTo(ctx context.Context, msg []byte, dest transport.Address) (transport.ResultCode, error) {
	rec, err := r.reg.Lookup(dest)
	if err != nil {
		return transport.ResultNoRoute, err
	}
	if !rec.Complete() {
		return transport.ResultNoRoute, fmt.Errorf("%w: node %v has not finished syncing", registry.ErrNotFound, dest)
	}
	return secure.Send(ctx, r.tr, r.log, rec.KeyMaterial(), msg, dest)
}
