package core

import "context"

// Image is a loadable domain image.
type Image struct {
	Entry Entry

	// Name identifies the image in the kernel's registry.
	Name string

	// Interface names the proxy type instances of the image are served
	// through, such as "block".
	Interface string

	// Kind is the image format, "native" for Go-native images.
	Kind string

	// Size is the image size in bytes when known.
	Size int
}

// Loader builds an image of one kind from its bytes.
type Loader func(ctx context.Context, name string, data []byte) (Image, error)
