package personsearch

// Mode selects the inference behavior of the network. Training is a
// construction-time property, not a mode: a network built for training
// additionally accepts Train calls.
type Mode int

const (
	// ModeGallery detects every person in a scene image and returns
	// per-region scores, boxes and embeddings.
	ModeGallery Mode = iota

	// ModeQuery embeds a single known person region.
	ModeQuery
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeGallery:
		return "gallery"
	case ModeQuery:
		return "query"
	default:
		return "unknown"
	}
}

// ParseMode maps a mode string to its Mode. Unknown strings are rejected
// before any computation happens.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "gallery":
		return ModeGallery, nil
	case "query":
		return ModeQuery, nil
	default:
		return 0, &ErrUnknownMode{Mode: s}
	}
}
