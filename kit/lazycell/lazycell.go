// Package lazycell provides Cell, a value that is constructed on first read,
// can be overwritten or mutated in place, and can be reset so that the next
// read constructs it again.
//
// The span between a cell's creation (or its latest Reset) and its next Reset
// is called a generation. The constructor runs at most once per generation,
// no matter how many goroutines race on the first read.
//
// Constructors and mutation functions must not call back into the cell that
// is running them. The cell holds its exclusive lock while they run, so a
// reentrant call deadlocks.
package lazycell

import (
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// slot distinguishes "not constructed" from "constructed with the zero
// value", so a Cell[*T] holding a nil pointer is still populated.
type slot[T any] struct {
	val T
	ok  bool
}

// ErrNoConstructor is wrapped in the ConstructionError returned when a zero
// Cell is read before anything was written to it.
var ErrNoConstructor = errors.New("cell has no constructor; create it with New or NewWithError")

// Cell holds a lazily constructed value of type T. Create cells with New or
// NewWithError. A zero Cell can be written and reset, but reading or
// mutating it while empty fails with ErrNoConstructor. A Cell must not be
// copied after first use.
type Cell[T any] struct {
	mu   sync.RWMutex
	s    slot[T]
	gen  uint64
	ctor func() (T, error)
}

// New returns an empty cell that will build its value with ctor. If ctor
// panics, the panic reaches the caller that triggered construction and the
// cell stays empty.
func New[T any](ctor func() T) *Cell[T] {
	if ctor == nil {
		panic("lazycell.New: constructor must not be nil")
	}
	return &Cell[T]{ctor: func() (T, error) { return ctor(), nil }}
}

// NewWithError is like New for constructors that can fail. A failed
// construction is never cached; the next Read or Mutate tries again.
func NewWithError[T any](ctor func() (T, error)) *Cell[T] {
	if ctor == nil {
		panic("lazycell.NewWithError: constructor must not be nil")
	}
	return &Cell[T]{ctor: ctor}
}

// Read returns the current value, constructing it first if the cell is
// empty. Construction failures are returned as *ConstructionError.
func (c *Cell[T]) Read() (T, error) {
	c.mu.RLock()
	if c.s.ok {
		v := c.s.val
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.populateLocked(); err != nil {
		var zero T
		return zero, err
	}
	return c.s.val, nil
}

// Get is Read for callers that treat a construction failure as fatal. It
// panics with the *ConstructionError.
func (c *Cell[T]) Get() T {
	v, err := c.Read()
	if err != nil {
		panic(err)
	}
	return v
}

// Write replaces the value without running the constructor.
func (c *Cell[T]) Write(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s = slot[T]{val: v, ok: true}
}

// Swap writes v and returns the value it replaced. had is false if the cell
// was empty, in which case old is the zero value.
func (c *Cell[T]) Swap(v T) (old T, had bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, had = c.s.val, c.s.ok
	c.s = slot[T]{val: v, ok: true}
	return old, had
}

// Mutate applies fn to the stored value in place, constructing it first if
// the cell is empty. If fn returns an error, it is returned wrapped in a
// *MutationError and whatever fn already changed stays changed: there is no
// rollback.
func (c *Cell[T]) Mutate(fn func(v *T) error) error {
	if fn == nil {
		panic("lazycell.Cell.Mutate: mutation must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.populateLocked(); err != nil {
		return err
	}
	if err := fn(&c.s.val); err != nil {
		return &MutationError{Err: err}
	}
	return nil
}

// Reset empties the cell and starts a new generation.
func (c *Cell[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s = slot[T]{}
	c.gen++
}

// Peek returns the stored value without constructing it.
func (c *Cell[T]) Peek() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.val, c.s.ok
}

func (c *Cell[T]) IsPopulated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.ok
}

// Generation reports how many times the cell has been reset.
func (c *Cell[T]) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Populate constructs the value if needed and discards it.
func (c *Cell[T]) Populate() error {
	_, err := c.Read()
	return err
}

// Must hold c.mu for writing.
func (c *Cell[T]) populateLocked() error {
	if c.s.ok {
		return nil
	}
	if c.ctor == nil {
		return &ConstructionError{Err: ErrNoConstructor}
	}
	v, err := c.ctor()
	if err != nil {
		return &ConstructionError{Err: err}
	}
	c.s = slot[T]{val: v, ok: true}
	return nil
}

type Populator interface {
	Populate() error
}

// ReadAll populates every cell concurrently and returns the first
// construction error, if any. Cells that built successfully keep their
// values even when another cell fails.
func ReadAll(cells ...Populator) error {
	if len(cells) == 1 {
		return cells[0].Populate()
	}
	var eg errgroup.Group
	for _, c := range cells {
		eg.Go(c.Populate)
	}
	return eg.Wait()
}
