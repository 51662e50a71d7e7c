package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sensor fills a hardware buffer with the next compressed frame.
type Sensor interface {
	// Grab writes one frame into buf and returns its length. It returns
	// ErrFrameTooLarge when the frame does not fit and ErrNoFrame when
	// nothing is ready.
	Grab(ctx context.Context, buf []byte) (int, error)
}

// PoolConfig sizes the fixed set of hardware frame buffers.
type PoolConfig struct {
	Slots     int
	SlotBytes int
}

// Pool is a Source backed by a fixed number of preallocated frame buffers.
// Acquire never blocks waiting for a buffer: when every slot is leased out
// the capture is reported as unavailable.
type Pool struct {
	sensor Sensor
	cfg    PoolConfig
	logger zerolog.Logger
	now    func() time.Time

	mu   sync.Mutex
	free [][]byte
}

// NewPool allocates cfg.Slots buffers of cfg.SlotBytes each.
func NewPool(cfg PoolConfig, sensor Sensor, logger zerolog.Logger) (*Pool, error) {
	if sensor == nil {
		return nil, errors.New("sensor cannot be nil")
	}
	if cfg.Slots <= 0 {
		return nil, fmt.Errorf("pool needs at least one slot, got %d", cfg.Slots)
	}
	if cfg.SlotBytes <= 0 {
		return nil, fmt.Errorf("slot size must be positive, got %d", cfg.SlotBytes)
	}
	free := make([][]byte, cfg.Slots)
	for i := range free {
		free[i] = make([]byte, cfg.SlotBytes)
	}
	return &Pool{
		sensor: sensor,
		cfg:    cfg,
		logger: logger.With().Str("component", "FramePool").Logger(),
		now:    time.Now,
		free:   free,
	}, nil
}

// Acquire grabs a frame into a free slot and leases it to the caller.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	slot, ok := p.take()
	if !ok {
		return nil, fmt.Errorf("%w: all %d frame buffers are leased", ErrCaptureUnavailable, p.cfg.Slots)
	}

	n, err := p.sensor.Grab(ctx, slot)
	if err != nil {
		p.put(slot)
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	if n < 0 {
		p.put(slot)
		return nil, fmt.Errorf("%w: sensor reported a negative length %d", ErrCaptureUnavailable, n)
	}
	if n > len(slot) {
		p.put(slot)
		return nil, fmt.Errorf("%w: sensor reported %d bytes for a %d byte slot: %w", ErrCaptureUnavailable, n, len(slot), ErrFrameTooLarge)
	}

	p.logger.Debug().Int("frame_bytes", n).Int("free_slots", p.Available()).Msg("Frame buffer leased.")
	return NewLease(slot[:n], p.now(), func() {
		p.put(slot)
		p.logger.Debug().Int("free_slots", p.Available()).Msg("Frame buffer returned.")
	}), nil
}

// Available reports how many slots are currently free.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

func (p *Pool) take() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, false
	}
	last := len(p.free) - 1
	slot := p.free[last]
	p.free = p.free[:last]
	return slot[:cap(slot)], true
}

func (p *Pool) put(slot []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, slot[:cap(slot)])
}
