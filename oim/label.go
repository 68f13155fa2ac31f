package oim

import "fmt"

// Label classifies a region sample for the identity bank.
//
// Non-negative values are known identity ids in [0, NumIdentities).
// LabelUnlabeled marks a valid person without an identity annotation.
// LabelBackground marks a negative (non-person) region.
type Label int32

const (
	// LabelBackground marks a background/negative region. It triggers no
	// bank mutation and contributes nothing to the identity loss.
	LabelBackground Label = -2

	// LabelUnlabeled marks an unannotated person. Its embedding is pushed
	// onto the circular queue.
	LabelUnlabeled Label = -1
)

// IsKnown reports whether l carries a known identity id.
func (l Label) IsKnown() bool { return l >= 0 }

// IsUnlabeled reports whether l marks an unlabeled person.
func (l Label) IsUnlabeled() bool { return l == LabelUnlabeled }

// IsBackground reports whether l marks a background region.
func (l Label) IsBackground() bool { return l <= LabelBackground }

func (l Label) String() string {
	switch {
	case l.IsKnown():
		return fmt.Sprintf("id(%d)", int32(l))
	case l.IsUnlabeled():
		return "unlabeled"
	default:
		return "background"
	}
}
