// Package capture records the ciphertext a node puts on and takes off the
// mesh. A capture is a stream of CBOR records compressed with LZ4; it can be
// replayed later and, given the right key material, decrypted.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pierrec/lz4/v4"

	"github.com/TheusHen/meshcrypt/meshcrypt/crypto"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

var (
	ErrClosed = errors.New("capture: writer is closed")
)

// Direction tells whether a frame was sent or received.
type Direction uint8

const (
	Outbound Direction = 1
	Inbound  Direction = 2
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "out"
	case Inbound:
		return "in"
	default:
		return "?"
	}
}

// CompressionLevel controls the speed/ratio tradeoff.
type CompressionLevel int

const (
	CompressionFast    CompressionLevel = iota // Fastest, lower ratio
	CompressionDefault                         // Balanced
	CompressionBest                            // Best ratio, slower
)

func (c CompressionLevel) lz4Level() lz4.CompressionLevel {
	switch c {
	case CompressionFast:
		return lz4.Fast
	case CompressionBest:
		return lz4.Level9
	default:
		return lz4.Level4
	}
}

// Record is one captured frame. Frame holds the bytes exactly as they
// crossed the transport. Result is only meaningful for outbound frames.
type Record struct {
	Time      time.Time
	Direction Direction
	Src       transport.Address
	Dst       transport.Address
	Result    transport.ResultCode
	Frame     []byte
}

// Open decrypts a copy of the frame with km.
func (r Record) Open(km crypto.KeyMaterial) ([]byte, error) {
	buf := make([]byte, crypto.FramedLen(len(r.Frame)))
	copy(buf, r.Frame)
	n, err := crypto.DecryptInPlace(buf, len(r.Frame), km)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

type wireRecord struct {
	Time      int64  `cbor:"t"`
	Direction uint8  `cbor:"d"`
	Src       uint8  `cbor:"s"`
	Dst       uint8  `cbor:"r"`
	Result    uint8  `cbor:"c"`
	Frame     []byte `cbor:"f"`
}

// Writer appends records to a compressed capture stream.
type Writer struct {
	mu     sync.Mutex
	zw     *lz4.Writer
	enc    *cbor.Encoder
	closed bool
}

func NewWriter(w io.Writer, level CompressionLevel) (*Writer, error) {
	zw := lz4.NewWriter(w)
	if err := zw.Apply(lz4.CompressionLevelOption(level.lz4Level())); err != nil {
		return nil, err
	}
	return &Writer{zw: zw, enc: cbor.NewEncoder(zw)}, nil
}

func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.enc.Encode(wireRecord{
		Time:      rec.Time.UnixNano(),
		Direction: uint8(rec.Direction),
		Src:       uint8(rec.Src),
		Dst:       uint8(rec.Dst),
		Result:    uint8(rec.Result),
		Frame:     rec.Frame,
	})
}

// Flush pushes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.zw.Flush()
}

// Close finishes the LZ4 stream. It does not close the underlying writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.zw.Close()
}

// Reader iterates over the records of a capture stream.
type Reader struct {
	dec *cbor.Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(lz4.NewReader(r))}
}

// Next returns the next record, or io.EOF at the end of the capture.
func (r *Reader) Next() (Record, error) {
	var w wireRecord
	if err := r.dec.Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("capture: %w", err)
	}
	return Record{
		Time:      time.Unix(0, w.Time),
		Direction: Direction(w.Direction),
		Src:       transport.Address(w.Src),
		Dst:       transport.Address(w.Dst),
		Result:    transport.ResultCode(w.Result),
		Frame:     w.Frame,
	}, nil
}
