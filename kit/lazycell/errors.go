package lazycell

import "fmt"

// ConstructionError is returned when a cell's constructor fails. The cell
// stays empty.
type ConstructionError struct {
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("lazycell: construction failed: %v", e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// MutationError is returned when a Mutate function fails. The cell stays
// populated with whatever the function left behind.
type MutationError struct {
	Err error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("lazycell: mutation failed: %v", e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
