package personsearch

import (
	"fmt"
	"sort"
	"sync"
)

// Dataset describes the identity bank shape a training corpus needs: how
// many labeled identities exist and how many unlabeled embeddings the
// circular queue retains.
type Dataset struct {
	Name          string
	NumIdentities int
	QueueSize     int
}

var (
	datasetsMu sync.RWMutex
	datasets   = map[string]Dataset{
		"sysu": {Name: "sysu", NumIdentities: 5532, QueueSize: 5000},
		"prw":  {Name: "prw", NumIdentities: 483, QueueSize: 500},
	}
)

// RegisterDataset makes a dataset's bank shape available under its name.
// Registering a duplicate name panics; it indicates an init-time bug.
func RegisterDataset(d Dataset) {
	datasetsMu.Lock()
	defer datasetsMu.Unlock()
	if _, dup := datasets[d.Name]; dup {
		panic(fmt.Sprintf("personsearch: duplicate dataset registration of %q", d.Name))
	}
	datasets[d.Name] = d
}

// LookupDataset resolves a dataset by name.
func LookupDataset(name string) (Dataset, error) {
	datasetsMu.RLock()
	defer datasetsMu.RUnlock()
	d, ok := datasets[name]
	if !ok {
		return Dataset{}, &ErrUnknownDataset{Name: name}
	}
	return d, nil
}

// Datasets returns the registered dataset names, sorted.
func Datasets() []string {
	datasetsMu.RLock()
	defer datasetsMu.RUnlock()
	names := make([]string, 0, len(datasets))
	for name := range datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
