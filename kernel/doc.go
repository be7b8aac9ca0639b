// Package kernel is the domain manager.
//
// It owns the frame allocator, the shared heap, the resource tracker and the
// storage side-channel, keeps a registry of loadable images, and creates,
// updates and reloads named domain instances behind their proxies. A
// *Kernel is also the core.Functions table handed to every domain.
//
// Domain ids are assigned monotonically from 1; id 0 is the kernel itself
// and owns the pages backing the shared heap.
package kernel
