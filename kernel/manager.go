package kernel

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	dr "github.com/wippyai/domain-runtime"
	"github.com/wippyai/domain-runtime/continuation"
	"github.com/wippyai/domain-runtime/core"
	"github.com/wippyai/domain-runtime/errors"
	"github.com/wippyai/domain-runtime/proxy"
	"github.com/wippyai/domain-runtime/resource"
)

// ForwardFunc picks the allocations handed from a replaced domain to its
// successor.
type ForwardFunc func(successor dr.DomainID) resource.ForwardPolicy

// ImageInfo describes a registered image.
type ImageInfo struct {
	Name      string
	Interface string
	Kind      string
	Size      int
}

// DomainInfo describes a domain instance.
type DomainInfo struct {
	Created   time.Time
	Loader    proxy.LoaderInfo
	Name      string
	Image     string
	Interface string
	Stats     proxy.Stats
	ID        dr.DomainID
	Active    bool
	Empty     bool
}

// Info is a snapshot of the kernel's registries.
type Info struct {
	Images  []ImageInfo
	Domains []DomainInfo
}

// RegisterInterface adds a proxy factory for images implementing name.
func (k *Kernel) RegisterInterface(name string, f core.ProxyFactory) error {
	if name == "" || f == nil {
		return errors.InvalidArgument(errors.PhaseKernel, "interface needs a name and a factory")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.ifaces[name]; ok {
		return errors.AlreadyExists(errors.PhaseKernel, "interface", name)
	}
	k.ifaces[name] = f
	return nil
}

// RegisterLoader adds a loader for images of kind.
func (k *Kernel) RegisterLoader(kind string, l core.Loader) error {
	if kind == "" || l == nil {
		return errors.InvalidArgument(errors.PhaseKernel, "loader needs a kind and a function")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.loaders[kind]; ok {
		return errors.AlreadyExists(errors.PhaseKernel, "loader", kind)
	}
	k.loaders[kind] = l
	return nil
}

// RegisterImage adds img to the image registry. Registering a name again
// replaces the earlier image; running instances are not affected until they
// are reloaded.
func (k *Kernel) RegisterImage(img core.Image) error {
	if img.Name == "" || img.Entry == nil {
		return errors.InvalidArgument(errors.PhaseLoad, "image needs a name and an entry point")
	}
	if img.Kind == "" {
		img.Kind = "native"
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.ifaces[img.Interface]; !ok {
		return errors.NotFound(errors.PhaseLoad, "interface", img.Interface)
	}
	_, replaced := k.images[img.Name]
	k.images[img.Name] = img
	Logger().Info("image registered",
		zap.String("image", img.Name),
		zap.String("interface", img.Interface),
		zap.String("kind", img.Kind),
		zap.Bool("replaced", replaced))
	return nil
}

// Create starts a domain instance named name from image and returns its
// proxy, built with factory.
func Create[H core.Handle](ctx context.Context, k *Kernel, name, image string, factory func(string, proxy.Options) H) (H, error) {
	return CreateWithArg(ctx, k, name, image, nil, factory)
}

// CreateWithArg is Create with an Init argument for the domain.
func CreateWithArg[H core.Handle](ctx context.Context, k *Kernel, name, image string, arg any, factory func(string, proxy.Options) H) (H, error) {
	var zero H
	h, err := k.create(ctx, name, image, arg, func(name string, opts proxy.Options) core.Handle {
		return factory(name, opts)
	})
	if err != nil {
		return zero, err
	}
	return h.(H), nil
}

// Get returns the proxy of the instance name as H.
func Get[H core.Handle](k *Kernel, name string) (H, error) {
	var zero H
	h, err := k.lookup(name)
	if err != nil {
		return zero, err
	}
	typed, ok := h.(H)
	if !ok {
		return zero, errors.TypeMismatch(errors.PhaseKernel, fmt.Sprintf("%T", zero), fmt.Sprintf("%T", h))
	}
	return typed, nil
}

func (k *Kernel) lookup(name string) (core.Handle, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.domains[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseKernel, "domain", name)
	}
	return s.handle, nil
}

func (k *Kernel) create(ctx context.Context, name, image string, arg any, factory core.ProxyFactory) (core.Handle, error) {
	k.mu.Lock()
	if err := k.checkOpen(); err != nil {
		k.mu.Unlock()
		return nil, err
	}
	img, ok := k.images[image]
	if !ok {
		k.mu.Unlock()
		return nil, errors.NotFound(errors.PhaseLoad, "image", image)
	}
	if _, ok := k.domains[name]; ok {
		k.mu.Unlock()
		return nil, errors.AlreadyExists(errors.PhaseKernel, "domain", name)
	}
	if factory == nil {
		factory, ok = k.ifaces[img.Interface]
		if !ok {
			k.mu.Unlock()
			return nil, errors.NotFound(errors.PhaseLoad, "interface", img.Interface)
		}
	}
	h := factory(name, k.proxyOpts)
	k.domains[name] = &slot{handle: h, image: image, iface: img.Interface, created: time.Now()}
	k.mu.Unlock()

	p := h.Replaceable()
	err := p.Init(ctx, arg)
	if err == nil {
		err = k.load(ctx, p, img, nil)
	}
	if err != nil {
		k.mu.Lock()
		delete(k.domains, name)
		k.mu.Unlock()
		return nil, err
	}
	Logger().Info("domain created",
		zap.String("domain", name),
		zap.String("image", image),
		zap.Stringer("id", p.DomainID()))
	return h, nil
}

// load runs img's entry point under a fresh domain id and installs the
// result in p.
func (k *Kernel) load(ctx context.Context, p proxy.Replaceable, img core.Image, fwd ForwardFunc) error {
	id := dr.DomainID(k.nextID.Add(1))
	env := core.Env{
		Core:    k,
		Storage: k.store,
		Heap:    k.heap.Scope(id),
		Name:    p.Name(),
		ID:      id,
	}

	rec := continuation.Record{Domain: id, Name: p.Name(), Method: "entry"}
	d, err := continuation.Call(proxy.WithCaller(ctx, dr.KernelDomain), rec, nil, func(ctx context.Context) (proxy.Domain, error) {
		return img.Entry(ctx, env)
	})
	if err == nil && d == nil {
		err = errors.InvalidArgument(errors.PhaseLoad, "image %q returned no domain", img.Name)
	}
	if err != nil {
		k.reclaimFailed(id)
		return errors.Instantiation(p.Name(), err)
	}

	policy := resource.FreeAll()
	if fwd != nil {
		policy = fwd(id)
	}
	info := proxy.LoaderInfo{Image: img.Name, Size: img.Size, LoadedAt: time.Now()}
	if err := p.ReplaceDomain(ctx, id, d, info, policy); err != nil {
		k.reclaimFailed(id)
		return err
	}
	return nil
}

// reclaimFailed releases what a domain that never started serving acquired.
func (k *Kernel) reclaimFailed(id dr.DomainID) {
	if _, err := k.tracker.Reclaim(id, resource.FreeAll()); err != nil {
		Logger().Warn("reclaim failed image", zap.Stringer("domain", id), zap.Error(err))
	}
}

// Update replaces the instance name with a new domain built from image,
// which must implement the same interface. The outgoing domain's
// allocations are freed.
func (k *Kernel) Update(ctx context.Context, name, image string) error {
	return k.UpdateWith(ctx, name, image, nil)
}

// UpdateWith is Update with a policy forwarding allocations of the
// outgoing domain to its successor.
func (k *Kernel) UpdateWith(ctx context.Context, name, image string, fwd ForwardFunc) error {
	k.mu.RLock()
	if err := k.checkOpen(); err != nil {
		k.mu.RUnlock()
		return err
	}
	s, ok := k.domains[name]
	img, imgOK := k.images[image]
	k.mu.RUnlock()

	if !ok {
		return errors.NotFound(errors.PhaseReplace, "domain", name)
	}
	if !imgOK {
		return errors.NotFound(errors.PhaseReplace, "image", image)
	}
	if img.Interface != s.iface {
		return errors.TypeMismatch(errors.PhaseReplace, s.iface, img.Interface)
	}

	if err := k.load(ctx, s.handle.Replaceable(), img, fwd); err != nil {
		return err
	}

	k.mu.Lock()
	s.image = image
	k.mu.Unlock()
	return nil
}

// Reload replaces the instance name with a fresh domain from its current
// image. It is the way back from a crash.
func (k *Kernel) Reload(ctx context.Context, name string) error {
	return k.ReloadWith(ctx, name, nil)
}

// ReloadWith is Reload with a forward policy.
func (k *Kernel) ReloadWith(ctx context.Context, name string, fwd ForwardFunc) error {
	k.mu.RLock()
	s, ok := k.domains[name]
	var image string
	if ok {
		image = s.image
	}
	k.mu.RUnlock()
	if !ok {
		return errors.NotFound(errors.PhaseReplace, "domain", name)
	}
	Logger().Info("reloading domain", zap.String("domain", name), zap.String("image", image))
	return k.UpdateWith(ctx, name, image, fwd)
}

// Remove unloads the instance name and forgets it.
func (k *Kernel) Remove(ctx context.Context, name string) error {
	k.mu.Lock()
	s, ok := k.domains[name]
	delete(k.domains, name)
	k.mu.Unlock()
	if !ok {
		return errors.NotFound(errors.PhaseKernel, "domain", name)
	}
	return s.handle.Replaceable().Unload(ctx)
}

// Info returns the registered images and domain instances sorted by name.
func (k *Kernel) Info() Info {
	k.mu.RLock()
	defer k.mu.RUnlock()

	var info Info
	for _, img := range k.images {
		info.Images = append(info.Images, ImageInfo{
			Name:      img.Name,
			Interface: img.Interface,
			Kind:      img.Kind,
			Size:      img.Size,
		})
	}
	for name, s := range k.domains {
		p := s.handle.Replaceable()
		info.Domains = append(info.Domains, DomainInfo{
			Name:      name,
			Image:     s.image,
			Interface: s.iface,
			Created:   s.created,
			ID:        p.DomainID(),
			Active:    p.IsActive(),
			Empty:     p.Empty(),
			Loader:    p.Loader(),
			Stats:     p.Stats(),
		})
	}
	slices.SortFunc(info.Images, func(a, b ImageInfo) int { return strings.Compare(a.Name, b.Name) })
	slices.SortFunc(info.Domains, func(a, b DomainInfo) int { return strings.Compare(a.Name, b.Name) })
	return info
}
