package sheap

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/domain-runtime/errors"
)

// TypeID identifies a payload type registered with a heap.
type TypeID uint32

// Dropper is optionally implemented by payload pointers that need cleanup.
type Dropper interface {
	Drop()
}

// handle is implemented by *Value and *Array.
type handle interface {
	sharedAlloc() *allocation
}

var (
	handleType  = reflect.TypeOf((*handle)(nil)).Elem()
	dropperType = reflect.TypeOf((*Dropper)(nil)).Elem()
)

type typeInfo struct {
	rtype  reflect.Type
	custom func(reflect.Value)
	name   string
	id     TypeID
	nested bool
}

func (ti *typeInfo) dropPayload(a *allocation) {
	if a.array {
		for i := 0; i < a.payload.Len(); i++ {
			ti.dropElem(a, a.payload.Index(i))
		}
		return
	}
	ti.dropElem(a, a.payload)
}

func (ti *typeInfo) dropElem(a *allocation, v reflect.Value) {
	if ti.custom != nil {
		ti.custom(v)
	}
	if ti.nested {
		owner := a.owner.Load()
		walkHandles(v, func(c *allocation) {
			if c.owner.Load() == owner {
				c.heap.release(c)
			}
		})
	}
	if ti.custom == nil && !ti.nested {
		Logger().Debug("dropped value without destructor", zap.String("type", ti.name))
	}
}

type registry struct {
	byType map[reflect.Type]*typeInfo
	next   TypeID
	mu     sync.RWMutex
}

func newRegistry() *registry {
	return &registry{byType: make(map[reflect.Type]*typeInfo)}
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType)
}

func (r *registry) lookup(t reflect.Type) (*typeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ti, ok := r.byType[t]
	return ti, ok
}

// resolve returns the type's entry, registering it on first use.
func (r *registry) resolve(t reflect.Type) (*typeInfo, error) {
	if ti, ok := r.lookup(t); ok {
		return ti, nil
	}
	return r.register(t, nil, false)
}

func (r *registry) register(t reflect.Type, custom func(reflect.Value), explicit bool) (*typeInfo, error) {
	nested, err := inspect(t, t.String())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ti, ok := r.byType[t]; ok {
		if explicit {
			return nil, errors.AlreadyExists(errors.PhaseAlloc, "destructor for type", t.String())
		}
		return ti, nil
	}

	if custom == nil && reflect.PointerTo(t).Implements(dropperType) {
		custom = func(v reflect.Value) {
			exported(v).Addr().Interface().(Dropper).Drop()
		}
	}

	r.next++
	ti := &typeInfo{
		id:     r.next,
		rtype:  t,
		name:   t.String(),
		custom: custom,
		nested: nested,
	}
	r.byType[t] = ti

	if custom == nil && !nested {
		Logger().Warn("type registered without destructor, using no-op",
			zap.String("type", ti.name),
			zap.Uint32("type_id", uint32(ti.id)))
	}
	return ti, nil
}

// RegisterDrop installs fn as the destructor for T on h. It must run before
// the first allocation of T.
func RegisterDrop[T any](h *Heap, fn func(*T)) error {
	t := reflect.TypeFor[T]()
	_, err := h.types.register(t, func(v reflect.Value) {
		fn(exported(v).Addr().Interface().(*T))
	}, true)
	return err
}

// TypeOf returns the registered id of T, if any.
func TypeOf[T any](h *Heap) (TypeID, bool) {
	ti, ok := h.types.lookup(reflect.TypeFor[T]())
	if !ok {
		return 0, false
	}
	return ti.id, true
}

// inspect rejects types that are not plain data and reports whether t
// contains nested handles.
func inspect(t reflect.Type, path string) (bool, error) {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false, nil
	case reflect.Pointer:
		if t.Implements(handleType) {
			return true, nil
		}
	case reflect.Array:
		return inspect(t.Elem(), path+"[]")
	case reflect.Struct:
		nested := false
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			n, err := inspect(f.Type, path+"."+f.Name)
			if err != nil {
				return false, err
			}
			nested = nested || n
		}
		return nested, nil
	}
	return false, errors.New(errors.PhaseAlloc, errors.KindInvalidArgument).
		TypeName(t.String()).
		Detail("%s is not plain data (%s)", path, t.Kind()).
		Build()
}

// walkHandles calls fn for every non-nil handle reachable from v without
// following handles.
func walkHandles(v reflect.Value, fn func(*allocation)) {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() || !v.Type().Implements(handleType) {
			return
		}
		if a := exported(v).Interface().(handle).sharedAlloc(); a != nil {
			fn(a)
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			walkHandles(v.Index(i), fn)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			walkHandles(v.Field(i), fn)
		}
	}
}

// exported returns v stripped of the read-only flag set on unexported fields.
func exported(v reflect.Value) reflect.Value {
	if v.CanInterface() {
		return v
	}
	if !v.CanAddr() {
		panic(fmt.Sprintf("sheap: unaddressable %s", v.Type()))
	}
	return reflect.NewAt(v.Type(), unsafe.Pointer(v.UnsafeAddr())).Elem()
}
