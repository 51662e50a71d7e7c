package frame

import "fmt"

// Allocator provides the heap buffer a frame is copied into.
type Allocator interface {
	Alloc(n int) ([]byte, error)
}

// HeapAllocator allocates from the Go heap without limit.
type HeapAllocator struct{}

// Alloc returns a zeroed buffer of n bytes.
func (HeapAllocator) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative allocation %d: %w", n, ErrOutOfMemory)
	}
	return make([]byte, n), nil
}

// BudgetAllocator refuses any single allocation larger than Limit bytes,
// modelling the free RAM left on a constrained device. A zero Limit disables
// the check.
type BudgetAllocator struct {
	Limit int
}

// Alloc returns a buffer of n bytes or ErrOutOfMemory when n exceeds the budget.
func (a BudgetAllocator) Alloc(n int) ([]byte, error) {
	if n < 0 || (a.Limit > 0 && n > a.Limit) {
		return nil, fmt.Errorf("allocation of %d bytes exceeds budget of %d: %w", n, a.Limit, ErrOutOfMemory)
	}
	return make([]byte, n), nil
}
