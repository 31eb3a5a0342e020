// Package frame holds the live camera feed of a session and turns it into
// stills on demand.
//
// Frames arrive from the client at whatever rate the camera produces them.
// Only the most recent frame matters: Publish overwrites the previous one
// and consumers (presence polling, still capture) read whatever is newest.
package frame

import (
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one encoded camera frame. Data must not be modified after Publish.
type Frame struct {
	// Data contains the encoded frame bytes (JPEG or PNG).
	Data []byte

	// Width and Height are the native resolution of the source.
	Width  int
	Height int

	// Timestamp is when the frame was captured by the client.
	Timestamp time.Time

	// Seq is assigned by the Mailbox on Publish.
	Seq uint64
}

// Source yields the current frame of a live video feed.
type Source interface {
	// Latest returns the newest frame, or nil before the feed is streaming.
	Latest() *Frame
}

// Stats describes mailbox activity.
type Stats struct {
	Published uint64
	Read      uint64
	Dropped   uint64
	LastSeq   uint64
}

// Mailbox is a single-slot latest-frame holder. Safe for concurrent use.
type Mailbox struct {
	mu       sync.RWMutex
	current  *Frame
	consumed bool

	seq       atomic.Uint64
	published atomic.Uint64
	read      atomic.Uint64
	dropped   atomic.Uint64
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Publish replaces the current frame. Overwriting a frame nobody read
// counts as a drop.
func (m *Mailbox) Publish(f *Frame) {
	if f == nil {
		return
	}
	m.mu.Lock()
	f.Seq = m.seq.Add(1)
	if m.current != nil && !m.consumed {
		m.dropped.Add(1)
	}
	m.current = f
	m.consumed = false
	m.mu.Unlock()

	m.published.Add(1)
}

// Latest returns the newest frame without removing it.
func (m *Mailbox) Latest() *Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	m.consumed = true
	m.read.Add(1)
	return m.current
}

// Stats returns a snapshot of the counters.
func (m *Mailbox) Stats() Stats {
	return Stats{
		Published: m.published.Load(),
		Read:      m.read.Load(),
		Dropped:   m.dropped.Load(),
		LastSeq:   m.seq.Load(),
	}
}
