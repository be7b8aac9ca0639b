package resource

import (
	"errors"
	"testing"

	dr "github.com/wippyai/domain-runtime"
	rterrors "github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/pages"
	"github.com/wippyai/domain-runtime/sheap"
)

const (
	oldDomain dr.DomainID = 10
	newDomain dr.DomainID = 11
)

type testObserver struct {
	events []Event
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.events = append(o.events, e)
}

type privateState struct {
	dropped int
}

func (s *privateState) Drop() {
	s.dropped++
}

type inode struct {
	Number uint64
}

type superblock struct {
	Blocks uint64
}

type handles map[string]uint64

func (h handles) Handles(keys ...string) []uint64 {
	var out []uint64
	for _, k := range keys {
		if v, ok := h[k]; ok {
			out = append(out, v)
		}
	}
	return out
}

func newTestTracker(frames uint64) (*Tracker, *pages.Allocator, *sheap.Heap) {
	pa := pages.New(0, frames)
	heap := sheap.New(sheap.Options{})
	return NewTracker(pa, heap), pa, heap
}

func TestTracker_PagesOrdered(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.RegisterPages(oldDomain, dr.PageRange{Start: 40, Count: 2})
	tr.RegisterPages(oldDomain, dr.PageRange{Start: 10, Count: 1})
	tr.RegisterPages(oldDomain, dr.PageRange{Start: 20, Count: 4})

	got := tr.Pages(oldDomain)
	want := []uint64{10, 20, 40}
	if len(got) != len(want) {
		t.Fatalf("Pages = %+v", got)
	}
	for i, r := range got {
		if r.Start != want[i] {
			t.Errorf("range %d starts at %d, want %d", i, r.Start, want[i])
		}
	}

	r, ok := tr.UnregisterPages(oldDomain, 20)
	if !ok || r.Count != 4 {
		t.Fatalf("UnregisterPages = %+v, %v", r, ok)
	}
	if _, ok := tr.UnregisterPages(oldDomain, 20); ok {
		t.Error("range unregistered twice")
	}
	if _, ok := tr.UnregisterPages(99, 10); ok {
		t.Error("unknown domain returned a range")
	}
	if len(tr.Pages(oldDomain)) != 2 {
		t.Errorf("Pages = %+v", tr.Pages(oldDomain))
	}
}

func TestTracker_AllocAndFree(t *testing.T) {
	tr, pa, _ := newTestTracker(16)

	r, err := tr.AllocPages(oldDomain, 4)
	if err != nil {
		t.Fatal(err)
	}
	if pa.Used() != 4 {
		t.Fatalf("frames used = %d", pa.Used())
	}
	if err := tr.FreePages(oldDomain, r.Start); err != nil {
		t.Fatal(err)
	}
	if pa.Used() != 0 {
		t.Fatalf("frames used after free = %d", pa.Used())
	}
	if err := tr.FreePages(oldDomain, r.Start); !errors.Is(err, rterrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := NewTracker(nil, nil).AllocPages(oldDomain, 1); err == nil {
		t.Error("AllocPages without allocator should fail")
	}
}

func TestTracker_ReclaimEmpty(t *testing.T) {
	tr, _, _ := newTestTracker(4)

	rep, err := tr.Reclaim(oldDomain, FreeAll())
	if err != nil {
		t.Fatalf("Reclaim failed: %v", err)
	}
	if !rep.Empty() {
		t.Errorf("Report = %+v, want empty", rep)
	}

	// again, after real resources were released
	tr.AllocPages(oldDomain, 1)
	tr.Reclaim(oldDomain, FreeAll())
	rep, err = tr.Reclaim(oldDomain, FreeAll())
	if err != nil || !rep.Empty() {
		t.Fatalf("second Reclaim = %+v, %v", rep, err)
	}
}

func TestTracker_ReclaimAll(t *testing.T) {
	tr, pa, heap := newTestTracker(16)
	obs := &testObserver{}
	tr.Subscribe(obs)

	s := heap.Scope(oldDomain)
	v, _ := sheap.NewValue(s, inode{Number: 1})
	arr, _ := sheap.NewArray[byte](s, 128)
	tr.AllocPages(oldDomain, 2)
	tr.AllocPages(oldDomain, 3)
	st := &privateState{}
	tr.RegisterPrivateState(oldDomain, st)

	rep, err := tr.Reclaim(oldDomain, FreeAll())
	if err != nil {
		t.Fatal(err)
	}

	if rep.FreedAllocations != 2 || rep.ForwardedAllocations != 0 {
		t.Errorf("allocations: %+v", rep)
	}
	if rep.PageRanges != 2 || rep.Pages != 5 {
		t.Errorf("pages: %+v", rep)
	}
	if !rep.StateDropped || st.dropped != 1 {
		t.Errorf("state dropped=%v count=%d", rep.StateDropped, st.dropped)
	}
	if v.Valid() || arr.Valid() {
		t.Error("shared allocations survived")
	}
	if pa.Used() != 0 {
		t.Errorf("frames used = %d", pa.Used())
	}
	if _, ok := tr.PrivateState(oldDomain); ok {
		t.Error("private state survived")
	}

	last := obs.events[len(obs.events)-1]
	if last.Type != EventReclaimed || last.Report == nil || last.Report.Pages != 5 {
		t.Errorf("last event = %+v", last)
	}
}

func TestTracker_HotSwapHandoff(t *testing.T) {
	tr, pa, heap := newTestTracker(16)
	s := heap.Scope(oldDomain)

	sb, _ := sheap.NewValue(s, superblock{Blocks: 64})
	scratch, _ := sheap.NewValue(s, inode{Number: 2})
	tr.AllocPages(oldDomain, 4)
	tr.RegisterPrivateState(oldDomain, &privateState{})

	rep, err := tr.Reclaim(oldDomain, ForwardAllocations(newDomain, sb.Handle()))
	if err != nil {
		t.Fatal(err)
	}

	if !sb.Valid() || sb.Owner() != newDomain {
		t.Errorf("forwarded value: valid=%v owner=%v", sb.Valid(), sb.Owner())
	}
	if sb.Get().Blocks != 64 {
		t.Error("forwarded payload changed")
	}
	if scratch.Valid() {
		t.Error("unforwarded value survived")
	}
	if pa.Used() != 0 || !rep.StateDropped {
		t.Errorf("pages used=%d report=%+v", pa.Used(), rep)
	}
	if rep.Successor != newDomain || rep.ForwardedAllocations != 1 {
		t.Errorf("Report = %+v", rep)
	}
}

func TestForwardPolicies(t *testing.T) {
	heap := sheap.New(sheap.Options{})
	s := heap.Scope(oldDomain)
	a, _ := sheap.NewValue(s, inode{Number: 1})
	b, _ := sheap.NewValue(s, superblock{Blocks: 2})
	infoA, _ := heap.Lookup(a.Handle())
	infoB, _ := heap.Lookup(b.Handle())
	sbType, _ := sheap.TypeOf[superblock](heap)

	tests := []struct {
		name   string
		policy ForwardPolicy
		keepA  bool
		keepB  bool
	}{
		{"free all", FreeAll(), false, false},
		{"forward all", ForwardAll(newDomain), true, true},
		{"by type", ForwardTypes(newDomain, sbType), false, true},
		{"by handle", ForwardAllocations(newDomain, a.Handle()), true, false},
		{"by stored key", ForwardStored(newDomain, handles{"sb": b.Handle()}, "sb", "missing"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Keeps(infoA); got != tt.keepA {
				t.Errorf("Keeps(a) = %v, want %v", got, tt.keepA)
			}
			if got := tt.policy.Keeps(infoB); got != tt.keepB {
				t.Errorf("Keeps(b) = %v, want %v", got, tt.keepB)
			}
		})
	}
}

func TestTracker_PrivateStateOverwrite(t *testing.T) {
	tr := NewTracker(nil, nil)
	first := &privateState{}
	second := &privateState{}

	tr.RegisterPrivateState(oldDomain, first)
	tr.RegisterPrivateState(oldDomain, second)

	if first.dropped != 1 {
		t.Errorf("overwritten state dropped %d times", first.dropped)
	}
	got, ok := tr.PrivateState(oldDomain)
	if !ok || got != second {
		t.Errorf("PrivateState = %v, %v", got, ok)
	}
}

func TestTracker_ReclaimPageErrors(t *testing.T) {
	tr, _, _ := newTestTracker(8)
	// never granted by the allocator
	tr.RegisterPages(oldDomain, dr.PageRange{Start: 2, Count: 2})
	st := &privateState{}
	tr.RegisterPrivateState(oldDomain, st)

	rep, err := tr.Reclaim(oldDomain, FreeAll())
	if err == nil {
		t.Fatal("expected page release error")
	}
	if !errors.Is(err, rterrors.ErrInvalidArgument) {
		t.Errorf("error = %v", err)
	}
	if st.dropped != 1 || rep.PageRanges != 1 {
		t.Errorf("reclaim stopped early: %+v dropped=%d", rep, st.dropped)
	}
	if len(tr.Domains()) != 0 {
		t.Errorf("Domains = %v", tr.Domains())
	}
}

func TestTracker_Unsubscribe(t *testing.T) {
	tr := NewTracker(nil, nil)
	obs := &testObserver{}
	tr.Subscribe(obs)
	tr.RegisterPages(oldDomain, dr.PageRange{Start: 1, Count: 1})
	tr.Unsubscribe(obs)
	tr.RegisterPages(oldDomain, dr.PageRange{Start: 2, Count: 1})

	if len(obs.events) != 1 || obs.events[0].Type != EventPagesRegistered {
		t.Errorf("events = %+v", obs.events)
	}
}
