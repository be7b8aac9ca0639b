// Package errors provides structured error types for the domain runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the domain and method involved, the Go
// type name for heap errors, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDispatch, errors.KindInvalidArgument).
//		Domain("blk0").
//		Method("read_block").
//		Detail("buffer holds %d bytes, need %d", n, want).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.DomainCrashed("blk0", "read_block", recovered)
//	err := errors.AllocationFailed(errors.PhaseAlloc, 1024, 8)
//
// The taxonomy callers match on is exposed as sentinels that ignore the phase:
//
//	if errors.Is(err, rterrors.ErrDomainCrashed) {
//	    // reload the domain
//	}
package errors
