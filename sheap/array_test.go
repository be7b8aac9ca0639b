package sheap

import (
	"testing"
)

func TestArray_OwnedCopy(t *testing.T) {
	h := New(Options{})
	src := []uint16{1, 2, 3}
	a, err := ArrayOf(h.Scope(domainA), src)
	if err != nil {
		t.Fatal(err)
	}
	src[0] = 99

	if a.Len() != 3 || a.Slice()[0] != 1 {
		t.Fatalf("array aliases its source: %v", a.Slice())
	}
	if a.Borrowed() {
		t.Error("owned array reported as borrowed")
	}
	if st := h.Stats(); st.InUse != 6 {
		t.Errorf("InUse = %d, want 6", st.InUse)
	}

	a.Drop()
	if a.Slice() != nil {
		t.Error("released array still exposes data")
	}
}

func TestArray_BorrowSlice(t *testing.T) {
	h := New(Options{})
	closerDrops = 0
	buf := []closer{{1}, {2}}

	view, err := BorrowSlice(h.Scope(domainA), buf)
	if err != nil {
		t.Fatal(err)
	}
	if !view.Borrowed() {
		t.Fatal("view not marked borrowed")
	}

	view.Slice()[1].Count = 20
	if buf[1].Count != 20 {
		t.Error("view does not alias the caller's buffer")
	}

	if old := view.MoveTo(domainB); old != domainA {
		t.Errorf("MoveTo returned %v", old)
	}

	st := h.Stats()
	if st.Views != 1 || st.InUse != 8 {
		t.Errorf("Stats = %+v, want one 8 byte owner cell", st)
	}

	if err := view.Drop(); err != nil {
		t.Fatal(err)
	}
	if closerDrops != 0 {
		t.Errorf("dropping a view ran %d element destructors", closerDrops)
	}
	if buf[0].Count != 1 {
		t.Error("caller's buffer modified on drop")
	}
	if st := h.Stats(); st.Views != 0 || st.Live != 0 || st.InUse != 0 {
		t.Errorf("owner cell not released: %+v", st)
	}
}

func TestArray_ViewReclaim(t *testing.T) {
	h := New(Options{})
	buf := make([]byte, 64)
	view, _ := BorrowSlice(h.Scope(domainA), buf)

	res := h.ReleaseOwned(domainA, nil, 0)
	if res.Freed != 1 || res.Bytes != 8 {
		t.Fatalf("result = %+v, want the owner cell only", res)
	}
	if view.Valid() {
		t.Error("view still valid after reclaim")
	}
}

func TestArray_NestedHandles(t *testing.T) {
	h := New(Options{})
	s := h.Scope(domainA)
	a, _ := NewValue(s, tracked{ID: 1})
	b, _ := NewValue(s, tracked{ID: 2})

	arr, err := ArrayOf(s, []*Value[tracked]{a, nil, b})
	if err != nil {
		t.Fatal(err)
	}
	arr.MoveTo(domainB)
	if a.Owner() != domainB || b.Owner() != domainB {
		t.Error("elements not moved with the array")
	}

	arr.Drop()
	if a.Valid() || b.Valid() {
		t.Error("elements not released with the array")
	}
}
