// Package formstream presents the parts of a multipart/form-data upload as a
// single sequential byte stream without ever joining them in memory.
package formstream

import (
	"io"
	"runtime"
)

// YieldEvery is the number of bytes ReadBlock copies between scheduler yields.
const YieldEvery = 1024

// Stream is a pull-based, single-pass byte source with a known length.
type Stream interface {
	// Remaining returns the number of unread bytes.
	Remaining() int
	// ReadByte returns the next byte and advances, or io.EOF when drained.
	ReadByte() (byte, error)
	// PeekByte returns the next byte without advancing, or io.EOF when drained.
	PeekByte() (byte, error)
	// ReadBlock copies up to len(p) bytes into p and returns how many were copied.
	ReadBlock(p []byte) int
}

// segment is a read-only view of one part of the body and its read offset.
type segment struct {
	data []byte
	off  int
}

func (s *segment) left() int { return len(s.data) - s.off }

// SegmentStream reads a header, a payload and a trailer strictly in that
// order. Each segment is referenced, never copied, and none is revisited once
// exhausted.
type SegmentStream struct {
	segs  [3]segment
	yield func()
}

// Option configures a SegmentStream.
type Option func(*SegmentStream)

// WithYield replaces the function called every YieldEvery bytes by ReadBlock.
// The default is runtime.Gosched.
func WithYield(fn func()) Option {
	return func(s *SegmentStream) {
		if fn != nil {
			s.yield = fn
		}
	}
}

// NewSegmentStream creates a stream over header, payload and trailer. The
// slices are borrowed and must stay unmodified until the stream is drained.
func NewSegmentStream(header, payload, trailer []byte, opts ...Option) *SegmentStream {
	s := &SegmentStream{
		segs:  [3]segment{{data: header}, {data: payload}, {data: trailer}},
		yield: runtime.Gosched,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Len returns the total number of bytes the stream produces over its lifetime.
func (s *SegmentStream) Len() int {
	return len(s.segs[0].data) + len(s.segs[1].data) + len(s.segs[2].data)
}

// Remaining returns the unread byte count across all three segments.
func (s *SegmentStream) Remaining() int {
	return s.segs[0].left() + s.segs[1].left() + s.segs[2].left()
}

// active returns the first segment that still has unread bytes.
func (s *SegmentStream) active() *segment {
	for i := range s.segs {
		if s.segs[i].left() > 0 {
			return &s.segs[i]
		}
	}
	return nil
}

// ReadByte implements io.ByteReader.
func (s *SegmentStream) ReadByte() (byte, error) {
	seg := s.active()
	if seg == nil {
		return 0, io.EOF
	}
	c := seg.data[seg.off]
	seg.off++
	return c, nil
}

// PeekByte returns the byte ReadByte would return next.
func (s *SegmentStream) PeekByte() (byte, error) {
	seg := s.active()
	if seg == nil {
		return 0, io.EOF
	}
	return seg.data[seg.off], nil
}

// ReadBlock copies bytes one at a time until p is full or the stream is
// drained, yielding to the scheduler after every YieldEvery bytes.
func (s *SegmentStream) ReadBlock(p []byte) int {
	n := 0
	for n < len(p) {
		c, err := s.ReadByte()
		if err != nil {
			break
		}
		p[n] = c
		n++
		if n%YieldEvery == 0 {
			s.yield()
		}
	}
	return n
}

// Read implements io.Reader so the stream can be handed to net/http as a
// request body.
func (s *SegmentStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := s.ReadBlock(p)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

var (
	_ Stream        = (*SegmentStream)(nil)
	_ io.Reader     = (*SegmentStream)(nil)
	_ io.ByteReader = (*SegmentStream)(nil)
)
