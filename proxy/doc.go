// Package proxy implements the per-interface proxy callers hold for a domain.
//
// A Proxy serves calls from the current implementation of an interface and
// lets that implementation be replaced while callers keep calling.
//
// # Dispatch
//
// In the normal state a call increments a per-core counter, reads the
// update flag, runs and decrements. No lock is taken. While a replace is in
// progress calls take the reader side of a lock instead and run against
// whichever implementation is installed when they get it.
//
// Per-interface proxies route each method through Call with a Method
// descriptor:
//
//	var readBlock = proxy.Method{Name: "read_block", Recoverable: true}
//
//	func (b *BlockProxy) ReadBlock(ctx context.Context, n uint64, buf *sheap.Array[byte]) (*sheap.Array[byte], error) {
//	    return proxy.Call(ctx, b.p, readBlock, func(ctx context.Context, d BlockDevice) (*sheap.Array[byte], error) {
//	        return d.ReadBlock(ctx, n, buf)
//	    }, buf)
//	}
//
// # Replace
//
//	Normal ──Replace──▶ Updating ──quiescent, init, swap──▶ Normal
//
// Replace serializes on an update mutex, raises the update flag, takes the
// writer lock and waits for the in-flight counters to drain. It then
// initializes the new implementation, swaps it in, lowers the flag and
// reclaims the outgoing domain through the configured Reclaimer.
//
// # Empty Proxies
//
// A new proxy has no implementation. Init succeeds and records its
// argument; every other call fails with ErrUnsupported until Replace
// installs a domain.
package proxy
