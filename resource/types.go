package resource

import (
	dr "github.com/wippyai/domain-runtime"
)

// EventType identifies a tracker lifecycle notification.
type EventType uint8

const (
	EventPagesRegistered EventType = iota
	EventPagesUnregistered
	EventStateRegistered
	EventReclaimed
)

func (t EventType) String() string {
	switch t {
	case EventPagesRegistered:
		return "pages_registered"
	case EventPagesUnregistered:
		return "pages_unregistered"
	case EventStateRegistered:
		return "state_registered"
	case EventReclaimed:
		return "reclaimed"
	}
	return "unknown"
}

// Event represents a resource lifecycle event.
type Event struct {
	Value  any
	Report *Report
	Pages  dr.PageRange
	Domain dr.DomainID
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Dropper is optionally implemented by private state that needs cleanup.
type Dropper interface {
	Drop()
}

// Report summarizes one reclaim.
type Report struct {
	Domain               dr.DomainID
	Successor            dr.DomainID
	FreedAllocations     int
	ForwardedAllocations int
	HeapBytes            uint64
	PageRanges           int
	Pages                uint64
	StateDropped         bool
}

// Empty reports whether the reclaim found nothing to release.
func (r Report) Empty() bool {
	return r.FreedAllocations == 0 && r.ForwardedAllocations == 0 &&
		r.PageRanges == 0 && !r.StateDropped
}
