// Package transport describes the mesh routing layer that carries encrypted
// frames between nodes. Route discovery, per-hop acknowledgement and radio
// duty-cycling live behind the Transport interface.
package transport

import (
	"context"
	"errors"
	"strconv"
)

// MaxMessageLen is the largest frame a single radio transmission carries.
const MaxMessageLen = 256

var ErrNoAddress = errors.New("transport: no address available")

// Address is a one byte mesh node address.
type Address uint8

const (
	// Unassigned marks a node that still has to obtain an address.
	Unassigned Address = 0
	// BroadcastAddress reaches every node in range.
	BroadcastAddress Address = 0xff
)

func (a Address) String() string { return strconv.Itoa(int(a)) }

// ResultCode is the outcome of a send-with-acknowledgement.
type ResultCode uint8

const (
	// ResultSuccess means the next hop acknowledged the frame, not necessarily
	// the final destination.
	ResultSuccess ResultCode = iota
	ResultNoRoute
	ResultUnableToDeliver
	ResultInvalidLength
)

func (r ResultCode) String() string {
	switch r {
	case ResultSuccess:
		return "SUCCESS"
	case ResultNoRoute:
		return "NO_ROUTE"
	case ResultUnableToDeliver:
		return "UNABLE_TO_DELIVER"
	case ResultInvalidLength:
		return "INVALID_LENGTH"
	default:
		return "UNKNOWN"
	}
}

// Transport is the acknowledged datagram service of the mesh.
type Transport interface {
	// Init brings the link up.
	Init(ctx context.Context) error
	// Address returns this node's address, Unassigned until one is set.
	Address() Address
	// AssignAddress asks the mesh for an address when none was configured.
	AssignAddress(ctx context.Context) (Address, error)
	// SendToWaitAck sends buf to dest and waits for the next hop to acknowledge it.
	SendToWaitAck(ctx context.Context, buf []byte, dest Address) ResultCode
	// RecvFromAck copies a pending frame into buf, acknowledging it to the last
	// hop. It does not block; ok is false when nothing is pending.
	RecvFromAck(buf []byte) (n int, src, dst Address, ok bool)
}

// Notifier is implemented by transports that can signal pending frames, so
// receivers need not spin.
type Notifier interface {
	// Ready returns a channel that receives a value whenever a frame is queued.
	Ready() <-chan struct{}
}
