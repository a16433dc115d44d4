package capture

import (
	"context"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/TheusHen/meshcrypt/internal/log"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

// Tap wraps a transport and records every frame passing through it.
// Recording failures are logged and never affect delivery.
type Tap struct {
	transport.Transport

	w   *Writer
	log *logging.Logger
	now func() time.Time
}

func NewTap(tr transport.Transport, w *Writer, l *logging.Logger) *Tap {
	if l == nil {
		l = log.Discard("capture")
	}
	return &Tap{Transport: tr, w: w, log: l, now: time.Now}
}

func (t *Tap) SendToWaitAck(ctx context.Context, buf []byte, dest transport.Address) transport.ResultCode {
	res := t.Transport.SendToWaitAck(ctx, buf, dest)
	t.record(Record{
		Direction: Outbound,
		Src:       t.Address(),
		Dst:       dest,
		Result:    res,
		Frame:     append([]byte(nil), buf...),
	})
	return res
}

func (t *Tap) RecvFromAck(buf []byte) (int, transport.Address, transport.Address, bool) {
	n, src, dst, ok := t.Transport.RecvFromAck(buf)
	if ok {
		t.record(Record{
			Direction: Inbound,
			Src:       src,
			Dst:       dst,
			Frame:     append([]byte(nil), buf[:n]...),
		})
	}
	return n, src, dst, ok
}

// Ready forwards the wrapped transport's readiness channel. Without one it
// returns nil, which never fires, and callers fall back to polling.
func (t *Tap) Ready() <-chan struct{} {
	if n, ok := t.Transport.(transport.Notifier); ok {
		return n.Ready()
	}
	return nil
}

func (t *Tap) record(rec Record) {
	rec.Time = t.now()
	if err := t.w.Write(rec); err != nil {
		t.log.Warningf("capture: %v", err)
	}
}

var (
	_ transport.Transport = (*Tap)(nil)
	_ transport.Notifier  = (*Tap)(nil)
)
