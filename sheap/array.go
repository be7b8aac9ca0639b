package sheap

import (
	"reflect"
)

// Array is an ownership-transferable handle to a fixed number of T.
type Array[T any] struct {
	ref
	data []T
}

// NewArray allocates n zero elements owned by the scope's domain.
func NewArray[T any](s Scope, n int) (*Array[T], error) {
	return newArray(s, make([]T, n), false)
}

// ArrayOf copies src onto the heap.
func ArrayOf[T any](s Scope, src []T) (*Array[T], error) {
	data := make([]T, len(src))
	copy(data, src)
	return newArray(s, data, false)
}

// BorrowSlice exposes buf, which the heap does not own, as an Array. The
// view can be moved like any handle; dropping it leaves buf untouched.
func BorrowSlice[T any](s Scope, buf []T) (*Array[T], error) {
	return newArray(s, buf, true)
}

func newArray[T any](s Scope, data []T, view bool) (*Array[T], error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	t := reflect.TypeFor[T]()
	ti, err := s.heap.types.resolve(t)
	if err != nil {
		return nil, err
	}

	layout := Layout{Size: uint64(t.Size()) * uint64(len(data)), Align: uint64(t.Align())}
	if view {
		// only the owner cell lives on the heap
		layout = Layout{Size: 8, Align: 8}
	}
	a, err := s.heap.alloc(s.domain, ti, layout, reflect.ValueOf(data), true, view)
	if err != nil {
		return nil, err
	}
	return &Array[T]{ref: ref{a: a}, data: data}, nil
}

func (a *Array[T]) sharedAlloc() *allocation {
	if a == nil {
		return nil
	}
	return a.a
}

// Valid reports whether the allocation is still live.
func (a *Array[T]) Valid() bool {
	return a != nil && a.valid()
}

// Len returns the number of elements.
func (a *Array[T]) Len() int {
	return len(a.data)
}

// Slice returns the elements, or nil once the allocation is released.
func (a *Array[T]) Slice() []T {
	if !a.Valid() {
		return nil
	}
	return a.data
}

// Borrow returns the elements and counts a borrow until ReturnBorrow.
func (a *Array[T]) Borrow() ([]T, error) {
	if err := a.borrow(); err != nil {
		return nil, err
	}
	return a.data, nil
}

// Borrowed reports whether the array is a view over memory the heap does
// not own.
func (a *Array[T]) Borrowed() bool {
	return a.a.view
}
