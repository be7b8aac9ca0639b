package metrics

import (
	"github.com/wippyai/domain-runtime/proxy"
	"github.com/wippyai/domain-runtime/resource"
)

// Observer records proxy events.
type Observer struct{}

var _ proxy.Observer = Observer{}

func (Observer) OnProxyEvent(e proxy.Event) {
	switch e.Type {
	case proxy.EventDispatch:
		RecordDispatch(e.Proxy, e.Method, e.Slow)
	case proxy.EventCrash:
		RecordCrash(e.Proxy, e.Method)
	case proxy.EventReplace:
		RecordReplace(e.Proxy, e.Duration, true)
	case proxy.EventReplaceFailed:
		RecordReplace(e.Proxy, e.Duration, false)
	}
}

// ResourceObserver records tracker events.
type ResourceObserver struct{}

var _ resource.Observer = ResourceObserver{}

func (ResourceObserver) OnResourceEvent(e resource.Event) {
	switch e.Type {
	case resource.EventPagesRegistered:
		RecordPages("registered", e.Pages.Count)
	case resource.EventPagesUnregistered:
		RecordPages("unregistered", e.Pages.Count)
	case resource.EventReclaimed:
		if e.Report != nil {
			RecordReclaim(*e.Report)
		}
	}
}
