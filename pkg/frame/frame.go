// Package frame owns the lifetime of captured images: hardware buffers are
// borrowed from a Source as short-lived leases and copied into owned heap
// Frames before any slow work begins.
package frame

import (
	"errors"
	"time"
)

var (
	// ErrCaptureUnavailable is returned when the capture hardware has no frame ready.
	ErrCaptureUnavailable = errors.New("capture unavailable")
	// ErrOutOfMemory is returned when a heap copy of a frame cannot be allocated.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrFrameTooLarge is returned when a sensor produces a frame bigger than a hardware slot.
	ErrFrameTooLarge = errors.New("frame exceeds buffer slot")
	// ErrNoFrame is returned by sensors that currently have nothing to deliver.
	ErrNoFrame = errors.New("no frame ready")
)

// Frame is one compressed image capture held in memory owned by the caller.
// The bytes are never modified after construction.
type Frame struct {
	data       []byte
	capturedAt time.Time
}

// New wraps data as a Frame. The Frame takes ownership of data; the caller
// must not modify it afterwards.
func New(data []byte, capturedAt time.Time) *Frame {
	return &Frame{data: data, capturedAt: capturedAt}
}

// Bytes returns the compressed image bytes. The slice must be treated as read-only.
func (f *Frame) Bytes() []byte { return f.data }

// Len returns the number of image bytes.
func (f *Frame) Len() int { return len(f.data) }

// CapturedAt returns the wall-clock time at which the frame was grabbed.
func (f *Frame) CapturedAt() time.Time { return f.capturedAt }
