package frame

import (
	"bytes"
	"sync"
)

// JPEG markers.
var (
	soiMarker = []byte{0xFF, 0xD8}
	eoiMarker = []byte{0xFF, 0xD9}
)

// Publisher receives completed frames.
type Publisher interface {
	Publish(f Frame)
}

// Assembler turns the chunks delivered by a frame source into frames.
//
// A chunk that begins with the JPEG Start-Of-Image marker starts a new frame;
// everything accumulated since the previous marker is published as one frame.
// The frame source must deliver each image starting in a fresh chunk. Frames
// are not validated: whatever lies between two markers is published as-is.
type Assembler struct {
	mu      sync.Mutex
	pub     Publisher
	acc     bytes.Buffer
	started bool
	frames  uint64
}

// NewAssembler creates an Assembler publishing into pub.
func NewAssembler(pub Publisher) *Assembler {
	return &Assembler{pub: pub}
}

// Feed consumes one delivery from the frame source.
func (a *Assembler) Feed(chunk []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if bytes.HasPrefix(chunk, soiMarker) {
		if a.started {
			a.pub.Publish(Frame(bytes.Clone(a.acc.Bytes())))
			a.frames++
		}
		a.acc.Reset()
		a.started = true
	}
	if !a.started {
		return
	}
	a.acc.Write(chunk)
}

// Write implements io.Writer. Each call is treated as one delivery.
func (a *Assembler) Write(p []byte) (int, error) {
	a.Feed(p)
	return len(p), nil
}

// Reset drops any partially accumulated frame. The next marker starts afresh
// without publishing.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.acc.Reset()
	a.started = false
}

// Frames returns the number of frames published so far.
func (a *Assembler) Frames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}
