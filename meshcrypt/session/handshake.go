package session

import (
	"context"
	"encoding/hex"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/TheusHen/meshcrypt/internal/instrument"
	"github.com/TheusHen/meshcrypt/internal/log"
	"github.com/TheusHen/meshcrypt/meshcrypt/keystore"
	"github.com/TheusHen/meshcrypt/meshcrypt/protocol"
	"github.com/TheusHen/meshcrypt/meshcrypt/secure"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

// Syncer delivers a node's personal key material to the server. Messages go
// out under whatever pair the store has active, which is the default pair
// until the node marks itself synced.
type Syncer struct {
	conn   *secure.Conn
	keys   *keystore.Store
	server transport.Address
	policy Policy
	log    *logging.Logger
}

func NewSyncer(conn *secure.Conn, keys *keystore.Store, server transport.Address, policy Policy, l *logging.Logger) *Syncer {
	if l == nil {
		l = log.Discard("session")
	}
	return &Syncer{
		conn:   conn,
		keys:   keys,
		server: server,
		policy: policy.withDefaults(),
		log:    l,
	}
}

// SyncIV sends the personal IV and waits for the server to echo a SYNC_IV.
func (s *Syncer) SyncIV(ctx context.Context) error {
	return s.sync(ctx, protocol.MessageTypeSyncIV, s.keys.Personal().IV)
}

// SyncKey sends the personal key and waits for the server to echo a SYNC_KEY.
func (s *Syncer) SyncKey(ctx context.Context) error {
	return s.sync(ctx, protocol.MessageTypeSyncKey, s.keys.Personal().Key)
}

func (s *Syncer) sync(ctx context.Context, t protocol.MessageType, payload [protocol.HandshakePayloadSize]byte) error {
	msg, err := protocol.EncodeHandshake(protocol.Handshake{
		Type:    t,
		Sender:  uint8(s.conn.Transport().Address()),
		Payload: payload,
	})
	if err != nil {
		return err
	}
	s.log.Infof("sync %v with server %v", t, s.server)
	if s.log.IsEnabledFor(logging.DEBUG) {
		s.log.Debugf("%v message: %s", t, hex.EncodeToString(msg))
	}

	buf := make([]byte, secure.FrameCapacity)
	for attempt := 0; ; attempt++ {
		if s.policy.exhausted(attempt) {
			s.log.Errorf("sync %v failed after %d attempts", t, attempt)
			return ErrAttemptsExhausted
		}
		if err := s.pause(ctx, attempt); err != nil {
			return err
		}

		instrument.HandshakeAttempt(t.String())
		res, err := s.conn.SendTo(ctx, msg, s.server)
		if err != nil {
			return err
		}
		if res != transport.ResultSuccess {
			s.log.Debugf("sync %v attempt %d: send: %v", t, attempt+1, res)
			continue
		}

		ok, err := s.await(ctx, t, buf)
		if err != nil {
			return err
		}
		if ok {
			instrument.HandshakeCompleted(t.String())
			s.log.Infof("sync %v done", t)
			return nil
		}
		s.log.Debugf("sync %v attempt %d: no reply", t, attempt+1)
	}
}

// await polls for a reply whose type matches t. Undecodable frames and other
// types use up a poll without ending the attempt.
func (s *Syncer) await(ctx context.Context, t protocol.MessageType, buf []byte) (bool, error) {
	for i := 0; i < s.policy.Polls; i++ {
		d, ok, err := s.conn.RecvFromAckTimeout(ctx, buf, s.policy.PollTimeout)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			s.log.Debugf("sync %v: receive: %v", t, err)
			continue
		}
		if !ok {
			continue
		}
		reply, err := protocol.DecodeHandshake(buf[:d.Len])
		if err != nil {
			s.log.Debugf("sync %v: reply from %v: %v", t, d.Source, err)
			continue
		}
		if reply.Type == t {
			return true, nil
		}
		s.log.Debugf("sync %v: ignoring %v reply from %v", t, reply.Type, d.Source)
	}
	return false, nil
}

func (s *Syncer) pause(ctx context.Context, attempt int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delay := s.policy.Delay(attempt)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
