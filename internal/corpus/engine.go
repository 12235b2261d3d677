package corpus

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"corpusd/internal/shm"
	"corpusd/internal/types"
)

// DefaultStorageSubdir is the conventional corpus directory used when no
// storage path is configured for the engine backend.
const DefaultStorageSubdir = "corpus"

// EngineConfig wires an EngineBackend to one external engine instance.
type EngineConfig struct {
	// ChannelPath is the shared-memory channel identifier. The process
	// launcher derives it from the fuzzer process identity so it is unique
	// per running instance; the backend never computes it.
	ChannelPath string

	// StoragePath is the base directory the engine persists its corpus
	// under. Empty means the conventional subdirectory in the working
	// directory.
	StoragePath string

	// Scheduler selects the engine's internal prioritization strategy. The
	// value is opaque here; it is written into the channel header for the
	// engine to interpret.
	Scheduler int

	SlotCount uint32
	SlotSize  uint32
}

// EngineBackend adapts the corpus to an external feedback-directed fuzzing
// engine reached over shared memory. Appends publish samples into the
// channel's slot ring; selection defers to the engine's scheduler via the
// suggested-next cursor and only falls back to uniform choice when the
// engine has not published a pick.
type EngineBackend struct {
	channel    *shm.Channel
	storageDir string
	logger     *zap.Logger
}

func NewEngineBackend(cfg EngineConfig, logger *zap.Logger) (*EngineBackend, error) {
	storageDir := DefaultStorageSubdir
	if cfg.StoragePath != "" {
		storageDir = filepath.Join(cfg.StoragePath, DefaultStorageSubdir)
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create engine corpus directory: %w", err)
	}

	channel, err := shm.Create(cfg.ChannelPath, cfg.SlotCount, cfg.SlotSize, uint32(cfg.Scheduler))
	if err != nil {
		return nil, fmt.Errorf("failed to establish engine channel: %w", err)
	}

	logger.Info("engine channel established",
		zap.String("channel", cfg.ChannelPath),
		zap.String("storage_dir", storageDir),
		zap.Int("scheduler", cfg.Scheduler),
		zap.Uint32("slots", cfg.SlotCount))

	return &EngineBackend{
		channel:    channel,
		storageDir: storageDir,
		logger:     logger,
	}, nil
}

func (b *EngineBackend) Append(data []byte, fb types.Feedback) (uint64, error) {
	idx := b.channel.Head()
	if err := b.channel.WriteSlot(idx, data, fb); err != nil {
		return 0, err
	}
	b.channel.SetHead(idx + 1)

	// hard capacity: the ring wraps, so the oldest sample is gone
	if idx+1-b.channel.Tail() > uint64(b.channel.SlotCount()) {
		b.channel.SetTail(idx + 1 - uint64(b.channel.SlotCount()))
	}
	return idx, nil
}

func (b *EngineBackend) Count() int {
	return int(b.channel.Head() - b.channel.Tail())
}

func (b *EngineBackend) FirstIndex() uint64 {
	return b.channel.Tail()
}

func (b *EngineBackend) LastIndex() uint64 {
	head := b.channel.Head()
	if head == b.channel.Tail() {
		return head
	}
	return head - 1
}

func (b *EngineBackend) Element(idx uint64) ([]byte, error) {
	if idx < b.channel.Tail() || idx >= b.channel.Head() {
		return nil, ErrIndexOutOfRange
	}
	data, _, err := b.channel.ReadSlot(idx)
	return data, err
}

// SelectRandom asks the engine's scheduler for its next suggested input. A
// published cursor is consumed so every suggestion is honored exactly once;
// without one the backend degrades to uniform selection.
func (b *EngineBackend) SelectRandom() (Entry, error) {
	tail, head := b.channel.Tail(), b.channel.Head()
	if head == tail {
		return Entry{}, ErrEmptyBackend
	}

	idx := b.channel.Cursor()
	if idx >= tail && idx < head {
		b.channel.SetCursor(shm.CursorNone)
	} else {
		idx = tail + uint64(rand.Intn(int(head-tail)))
	}

	data, fb, err := b.channel.ReadSlot(idx)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Index: idx, Data: data, Feedback: fb}, nil
}

func (b *EngineBackend) Reset() error {
	b.channel.SetTail(b.channel.Head())
	b.channel.SetCursor(shm.CursorNone)
	return nil
}

// Close tears down the shared-memory channel. Called once at process exit;
// the channel is owned exclusively by this backend.
func (b *EngineBackend) Close() error {
	return b.channel.Close()
}
