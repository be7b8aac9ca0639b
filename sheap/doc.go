// Package sheap implements the shared heap and its ownership-transferable handles.
//
// Every allocation is tagged with the domain that owns it. A Value holds one
// element, an Array holds a fixed number of them. Handles move between
// domains at call boundaries by rewriting the owner tag; the payload is
// never copied.
//
// # Scopes
//
// Domains allocate through a Scope, which binds the heap to the calling
// domain's id:
//
//	s := heap.Scope(id)
//	v, err := sheap.NewValue(s, Stat{Blocks: 64})
//	old := v.MoveTo(other) // old == id
//
// # Plain Data
//
// Payload types must be plain data: booleans, numbers, arrays and structs of
// them, plus nested *Value and *Array handles. Types containing any other
// pointer, slice, map, string, channel, func or interface are rejected with
// ErrInvalidArgument the first time they are used.
//
// # Destruction
//
// The first use of a type resolves its destructor and records it in the
// heap's type registry. A payload whose pointer implements Dropper has Drop
// called; nested handles are then released recursively when they share the
// parent's owner. Types with neither get a no-op destructor and a warning at
// registration. Destructors run exactly once per allocation, whichever path
// releases it first.
//
// # Borrowed Views
//
// BorrowSlice wraps memory the heap does not own. The view gets a private
// owner cell on the heap so it can move between domains like any other
// handle, and dropping it frees only that cell.
package sheap
