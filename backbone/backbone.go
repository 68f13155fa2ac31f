// Package backbone defines the convolutional feature extractor consumed by
// the person search network and a registry of backbone families.
//
// A backbone exposes two halves: Head maps an image to a spatial feature
// map, Tail maps pooled region features to the task descriptor feeding the
// classification, box and identity heads. The concrete network is an
// external model (see the ONNX implementation); this package fixes only the
// interface boundary.
package backbone

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chaste10ve/person-search/tensor"
)

// Backbone is the feature extractor capability consumed by the network.
type Backbone interface {
	// Head maps a CHW image tensor to a spatial convolutional feature map.
	Head(ctx context.Context, image *tensor.Dense) (*tensor.Dense, error)

	// Tail maps pooled region features to the per-region task descriptor.
	Tail(ctx context.Context, pooled *tensor.Dense) (*tensor.Dense, error)

	// FeatureDim returns the task-descriptor width feeding the linear heads.
	FeatureDim() int

	// FlattenPooled reports whether the family consumes a flattened pooled
	// feature (vgg16 style). All other families consume the spatial pooled
	// feature and reduce the tail output by spatial averaging.
	FlattenPooled() bool

	// Close releases the underlying model resources.
	Close() error
}

// ErrUnknownBackbone indicates a backbone family name with no registered
// factory. It is a configuration error, fatal at construction.
type ErrUnknownBackbone struct {
	Name string
}

func (e *ErrUnknownBackbone) Error() string {
	return fmt.Sprintf("unknown backbone: %q", e.Name)
}

// Config carries the construction parameters common to all factories.
type Config struct {
	// HeadModel and TailModel locate the two model halves (file paths for
	// the ONNX families).
	HeadModel string
	TailModel string
}

// Factory constructs a backbone from a Config.
type Factory func(cfg Config) (Backbone, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backbone family available under the given name.
// Registering a duplicate name panics; it indicates an init-time bug.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("backbone: duplicate registration of %q", name))
	}
	registry[name] = f
}

// New constructs a backbone by family name.
func New(name string, cfg Config) (Backbone, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &ErrUnknownBackbone{Name: name}
	}
	return f(cfg)
}

// Families returns the registered family names, sorted.
func Families() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
