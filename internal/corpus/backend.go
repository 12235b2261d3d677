package corpus

import (
	"errors"

	"corpusd/internal/types"
)

// Entry is one stored sample as handed back by a backend.
type Entry struct {
	Index    uint64
	Data     []byte
	Feedback types.Feedback
}

// Backend is the pluggable storage and selection layer beneath the corpus
// manager. Samples are addressed by monotonically increasing indices; every
// index in [FirstIndex, LastIndex] denotes a retrievable record, with no
// gaps. Which concrete backend is wired in is a deployment decision; the
// manager never depends on one.
type Backend interface {
	// Append persists one serialized sample and returns its index. Appending
	// past the backend's hard capacity discards the oldest sample.
	Append(data []byte, fb types.Feedback) (uint64, error)

	Count() int
	FirstIndex() uint64
	LastIndex() uint64
	Element(idx uint64) ([]byte, error)

	// SelectRandom returns one live sample chosen by the backend's selection
	// policy: uniform for the disk backend, the external scheduler's pick
	// for the engine backend.
	SelectRandom() (Entry, error)

	// Reset discards every live sample. Indices stay monotonic across a
	// reset. Used by the eviction pass and by state import to rebuild
	// content; not part of the minimal selection contract.
	Reset() error
}

var (
	ErrEmptyBackend    = errors.New("backend holds no samples")
	ErrIndexOutOfRange = errors.New("sample index out of live range")
)
