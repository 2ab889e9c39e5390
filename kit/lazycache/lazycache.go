// Useful for creating methods that lazily initialize a derived value
// and run only once per generation no matter how many times the method
// is called. Simply add a private field to your struct of type Value[T],
// return the value from a public getter method using Get[T], and call
// Reset[T] when the derived value goes stale.
package lazycache

import (
	"sync"

	"github.com/river-now/lazycell/kit/lazycell"
)

type Value[T any] struct {
	mu   sync.Mutex
	cell *lazycell.Cell[T]
}

// The initFunc passed on the first call is kept for every later
// generation; initFuncs passed afterwards are ignored.
func Get[T any](v *Value[T], initFunc func() T) T {
	return v.cellFor(initFunc).Get()
}

func Reset[T any](v *Value[T]) {
	v.mu.Lock()
	c := v.cell
	v.mu.Unlock()
	if c != nil {
		c.Reset()
	}
}

func (v *Value[T]) cellFor(initFunc func() T) *lazycell.Cell[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cell == nil {
		v.cell = lazycell.New(initFunc)
	}
	return v.cell
}

// Func returns a getter that runs fn on its first call and returns the
// cached result afterwards.
func Func[T any](fn func() T) func() T {
	var v Value[T]
	return func() T { return Get(&v, fn) }
}
