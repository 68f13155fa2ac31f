package personsearch

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTraining is returned when Train is called on a network built
	// for inference.
	ErrNotTraining = errors.New("network was not built for training")

	// ErrNoRegions is returned when inference produced no candidate regions.
	ErrNoRegions = errors.New("no candidate regions")
)

// ErrUnknownMode indicates a mode string outside the closed enum. It is a
// configuration error, rejected before any computation.
type ErrUnknownMode struct {
	Mode string
}

func (e *ErrUnknownMode) Error() string {
	return fmt.Sprintf("unknown mode: %q", e.Mode)
}

// ErrUnknownDataset indicates a dataset name with no registered bank shape.
type ErrUnknownDataset struct {
	Name string
}

func (e *ErrUnknownDataset) Error() string {
	return fmt.Sprintf("unknown dataset: %q", e.Name)
}
