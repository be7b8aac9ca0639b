package sheap

import (
	"reflect"
)

// Value is an ownership-transferable handle to a single T on the shared heap.
type Value[T any] struct {
	ref
	p *T
}

// NewValue copies v onto the heap, owned by the scope's domain.
func NewValue[T any](s Scope, v T) (*Value[T], error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	t := reflect.TypeFor[T]()
	ti, err := s.heap.types.resolve(t)
	if err != nil {
		return nil, err
	}

	p := new(T)
	*p = v
	a, err := s.heap.alloc(s.domain, ti, Layout{Size: uint64(t.Size()), Align: uint64(t.Align())}, reflect.ValueOf(p).Elem(), false, false)
	if err != nil {
		return nil, err
	}
	return &Value[T]{ref: ref{a: a}, p: p}, nil
}

func (v *Value[T]) sharedAlloc() *allocation {
	if v == nil {
		return nil
	}
	return v.a
}

// Valid reports whether the allocation is still live.
func (v *Value[T]) Valid() bool {
	return v != nil && v.valid()
}

// Get returns the payload, or nil once the allocation is released.
func (v *Value[T]) Get() *T {
	if !v.Valid() {
		return nil
	}
	return v.p
}

// Borrow returns the payload and counts a borrow until ReturnBorrow.
func (v *Value[T]) Borrow() (*T, error) {
	if err := v.borrow(); err != nil {
		return nil, err
	}
	return v.p, nil
}
