package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFramePayload limits a single link frame payload to one radio frame.
	MaxFramePayload = 256

	frameHeaderLen = 5
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame payload too large")
	ErrInvalidType   = errors.New("protocol: invalid message type")
)

// Frame is the link container for mesh traffic.
// Format:
//
//	1 byte: type
//	1 byte: source address
//	1 byte: destination address
//	2 bytes: payload length (big endian)
//	N bytes: payload
type Frame struct {
	Type    FrameType
	Src     uint8
	Dst     uint8
	Payload []byte
}

func WriteFrame(w io.Writer, f Frame) error {
	if f.Type == 0 {
		return ErrInvalidType
	}
	if len(f.Payload) > MaxFramePayload {
		return ErrFrameTooLarge
	}

	bw := bufio.NewWriter(w)
	var hdr [frameHeaderLen]byte
	hdr[0] = byte(f.Type)
	hdr[1] = f.Src
	hdr[2] = f.Dst
	binary.BigEndian.PutUint16(hdr[3:], uint16(len(f.Payload)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := bw.Write(f.Payload); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadFrame reads exactly one frame and nothing past it, so several frames
// can share a stream.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	payloadLen := binary.BigEndian.Uint16(hdr[3:])
	if payloadLen > MaxFramePayload {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, payloadLen)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	ft := FrameType(hdr[0])
	if ft == 0 {
		return Frame{}, ErrInvalidType
	}
	return Frame{Type: ft, Src: hdr[1], Dst: hdr[2], Payload: payload}, nil
}
