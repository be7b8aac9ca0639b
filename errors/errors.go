package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseAlloc    Phase = "alloc"    // shared heap and page allocation
	PhaseTransfer Phase = "transfer" // ownership moves and borrows
	PhaseDispatch Phase = "dispatch" // proxy calls into a domain
	PhaseReplace  Phase = "replace"  // hot swap and reload
	PhaseReclaim  Phase = "reclaim"  // resource teardown
	PhaseLoad     Phase = "load"     // domain image loading
	PhaseStorage  Phase = "storage"  // side-channel store
	PhaseKernel   Phase = "kernel"   // core functions
	PhaseConfig   Phase = "config"   // boot configuration
)

// Kind categorizes the error
type Kind string

const (
	KindAllocation        Kind = "allocation"
	KindDomainCrashed     Kind = "domain_crashed"
	KindUnsupported       Kind = "unsupported"
	KindInvalidArgument   Kind = "invalid_argument"
	KindNotFound          Kind = "not_found"
	KindNotInitialized    Kind = "not_initialized"
	KindTypeMismatch      Kind = "type_mismatch"
	KindOutstandingBorrow Kind = "outstanding_borrow"
	KindAlreadyExists     Kind = "already_exists"
	KindClosed            Kind = "closed"
	KindInstantiation     Kind = "instantiation"
)

// Sentinels for use with errors.Is. They match any phase.
var (
	ErrAllocationFailed = &Error{Kind: KindAllocation}
	ErrDomainCrashed    = &Error{Kind: KindDomainCrashed}
	ErrUnsupported      = &Error{Kind: KindUnsupported}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
	ErrNotFound         = &Error{Kind: KindNotFound}
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Domain   string
	Method   string
	TypeName string
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Domain != "" || e.Method != "" {
		b.WriteString(" at ")
		b.WriteString(e.Domain)
		if e.Domain != "" && e.Method != "" {
			b.WriteByte('.')
		}
		b.WriteString(e.Method)
	}

	if e.TypeName != "" {
		b.WriteString(": type ")
		b.WriteString(e.TypeName)
	}

	if e.Detail != "" {
		if e.TypeName != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// Kinds must match; the phase is compared only when target sets one.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if e.Kind != t.Kind {
			return false
		}
		return t.Phase == "" || e.Phase == t.Phase
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Domain sets the domain or proxy name
func (b *Builder) Domain(name string) *Builder {
	b.err.Domain = name
	return b
}

// Method sets the interface method name
func (b *Builder) Method(name string) *Builder {
	b.err.Method = name
	return b
}

// TypeName sets the Go type name
func (b *Builder) TypeName(t string) *Builder {
	b.err.TypeName = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// DomainCrashed creates an error for a call into a dead or panicking domain.
// value is the recovered panic value, if any.
func DomainCrashed(domain, method string, value any) *Error {
	e := &Error{
		Phase:  PhaseDispatch,
		Kind:   KindDomainCrashed,
		Domain: domain,
		Method: method,
		Value:  value,
	}
	if value != nil {
		e.Detail = fmt.Sprintf("panic: %v", value)
	} else {
		e.Detail = "domain is not active"
	}
	return e
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidArgument creates an invalid argument error
func InvalidArgument(phase Phase, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidArgument,
		Detail: detail,
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, want, got string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		TypeName: got,
		Detail:   fmt.Sprintf("expected %s", want),
	}
}

// OutstandingBorrow creates an error for dropping a borrowed allocation
func OutstandingBorrow(typeName string, borrows uint32) *Error {
	return &Error{
		Phase:    PhaseTransfer,
		Kind:     KindOutstandingBorrow,
		TypeName: typeName,
		Detail:   fmt.Sprintf("%d borrow(s) outstanding", borrows),
		Value:    borrows,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// AlreadyExists creates a duplicate registration error
func AlreadyExists(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAlreadyExists,
		Detail: fmt.Sprintf("%s %q already exists", what, name),
	}
}

// Closed creates an error for use after close
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", what),
	}
}

// Instantiation creates an instantiation error
func Instantiation(domain string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Domain: domain,
		Detail: "instantiate domain image",
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
