// Package frame provides the latest-frame handoff between the camera producer
// and the streaming clients.
package frame

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by WaitNext once the buffer has been closed.
var ErrClosed = errors.New("frame buffer closed")

// Frame is one complete JPEG image. It must not be modified after Publish.
type Frame []byte

// Stats is a point-in-time view of a Buffer.
type Stats struct {
	Generation  uint64
	LatestBytes int
	LastPublish time.Time
	Waiters     int
	Closed      bool
}

// Buffer holds the most recently published frame and lets any number of
// readers block until a newer one arrives. There is no per-reader queue: a
// reader that falls behind gets the latest frame and skips the rest.
type Buffer struct {
	mu          sync.Mutex
	latest      Frame
	generation  uint64
	changed     chan struct{}
	closed      bool
	lastPublish time.Time
	waiters     int
}

// NewBuffer creates an empty Buffer at generation 0.
func NewBuffer() *Buffer {
	return &Buffer{
		changed: make(chan struct{}),
	}
}

// Publish replaces the latest frame and wakes every waiter.
// It never blocks on readers. Publishing to a closed buffer does nothing.
func (b *Buffer) Publish(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.latest = f
	b.generation++
	b.lastPublish = time.Now()

	// Closing the channel wakes all current waiters at once; later waiters
	// pick up the fresh channel.
	close(b.changed)
	b.changed = make(chan struct{})
}

// WaitNext blocks until the generation is greater than after and returns the
// latest frame with its generation.
func (b *Buffer) WaitNext(ctx context.Context, after uint64) (Frame, uint64, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, 0, ErrClosed
		}
		if b.generation > after {
			f, gen := b.latest, b.generation
			b.mu.Unlock()
			return f, gen, nil
		}
		ch := b.changed
		b.waiters++
		b.mu.Unlock()

		select {
		case <-ch:
			b.mu.Lock()
			b.waiters--
			b.mu.Unlock()
		case <-ctx.Done():
			b.mu.Lock()
			b.waiters--
			b.mu.Unlock()
			return nil, 0, ctx.Err()
		}
	}
}

// Latest returns the current frame without blocking. ok is false until the
// first frame has been published.
func (b *Buffer) Latest() (f Frame, gen uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.generation == 0 {
		return nil, 0, false
	}
	return b.latest, b.generation, true
}

// Generation returns the generation of the latest frame.
func (b *Buffer) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Close releases every waiter with ErrClosed. It is safe to call more than once.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.changed)
}

// Stats returns a snapshot of the buffer state.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Generation:  b.generation,
		LatestBytes: len(b.latest),
		LastPublish: b.lastPublish,
		Waiters:     b.waiters,
		Closed:      b.closed,
	}
}
