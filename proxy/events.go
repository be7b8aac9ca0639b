package proxy

import (
	"time"

	dr "github.com/wippyai/domain-runtime"
)

// EventType identifies a proxy notification.
type EventType uint8

const (
	EventDispatch EventType = iota
	EventCrash
	EventReplace
	EventReplaceFailed
)

// Event represents a proxy lifecycle event.
type Event struct {
	Err      error
	Proxy    string
	Method   string
	Domain   dr.DomainID
	Previous dr.DomainID
	Duration time.Duration
	Type     EventType
	Slow     bool
}

// Observer receives proxy events. Dispatch events are delivered on the
// calling goroutine and must not block.
type Observer interface {
	OnProxyEvent(Event)
}

// LoaderInfo describes the image behind the current implementation.
type LoaderInfo struct {
	LoadedAt time.Time
	Image    string
	Size     int
}

// Stats summarizes proxy activity.
type Stats struct {
	FastCalls  uint64
	SlowCalls  uint64
	Crashes    uint64
	Replaces   uint64
	Generation uint64
	InFlight   int64
}
