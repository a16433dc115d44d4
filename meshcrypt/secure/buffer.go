package secure

import (
	"sync"

	"github.com/TheusHen/meshcrypt/meshcrypt/crypto"
)

// FrameCapacity is the largest framed message, in bytes.
const FrameCapacity = 256

// frameBuffer has room past FrameCapacity for the trailing block that is
// decrypted along with a full-size frame.
type frameBuffer [FrameCapacity + crypto.BlockSize]byte

var framePool = sync.Pool{
	New: func() interface{} {
		return new(frameBuffer)
	},
}

// acquireFrame hands out a zeroed buffer owned by the caller until release.
func acquireFrame() *frameBuffer {
	b := framePool.Get().(*frameBuffer)
	clear(b[:])
	return b
}

func releaseFrame(b *frameBuffer) {
	clear(b[:])
	framePool.Put(b)
}
