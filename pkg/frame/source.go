package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Source hands out frames that live in scarce hardware buffers.
// Every successful Acquire must be paired with exactly one Lease.Release.
type Source interface {
	Acquire(ctx context.Context) (*Lease, error)
}

// Lease is a borrowed hardware frame buffer. Its bytes are only valid until Release.
type Lease struct {
	data       []byte
	capturedAt time.Time
	release    func()
	once       sync.Once
}

// NewLease creates a lease over data that calls release when it is returned.
func NewLease(data []byte, capturedAt time.Time, release func()) *Lease {
	return &Lease{data: data, capturedAt: capturedAt, release: release}
}

// Bytes returns the borrowed buffer. It must not be retained past Release.
func (l *Lease) Bytes() []byte { return l.data }

// Len returns the frame length in bytes.
func (l *Lease) Len() int { return len(l.data) }

// CapturedAt returns the time the sensor produced the frame.
func (l *Lease) CapturedAt() time.Time { return l.capturedAt }

// Release hands the buffer back to its source. Calls after the first are no-ops.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.data = nil
		if l.release != nil {
			l.release()
		}
	})
}

// WithLease acquires a frame from src, runs fn with it and releases the lease
// on every exit path, including a panic in fn. Acquisition failures are
// reported as ErrCaptureUnavailable.
func WithLease(ctx context.Context, src Source, fn func(*Lease) error) error {
	lease, err := src.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrCaptureUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	if lease == nil {
		return fmt.Errorf("%w: source returned no frame", ErrCaptureUnavailable)
	}
	defer lease.Release()
	return fn(lease)
}

// Copy moves the leased bytes into a buffer obtained from alloc so the lease can
// be released before the frame is used. The returned Frame never aliases the lease.
func Copy(lease *Lease, alloc Allocator) (*Frame, error) {
	n := lease.Len()
	buf, err := alloc.Alloc(n)
	if err != nil {
		return nil, fmt.Errorf("copy of %d byte frame: %w", n, err)
	}
	if len(buf) != n {
		return nil, fmt.Errorf("copy of %d byte frame: allocator returned %d bytes: %w", n, len(buf), ErrOutOfMemory)
	}
	copy(buf, lease.Bytes())
	return New(buf, lease.CapturedAt()), nil
}
