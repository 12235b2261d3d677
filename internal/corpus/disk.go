package corpus

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"corpusd/internal/types"
)

const sampleSuffix = ".sample"

// DiskBackend is an append-only store keeping one file per serialized
// sample in a local directory. Selection is uniform over the live index
// range; all fairness beyond that is the manager's aging policy.
type DiskBackend struct {
	dir     string
	maxSize int
	logger  *zap.Logger

	// live range is [first, next)
	first uint64
	next  uint64
}

// NewDiskBackend opens (or creates) the store under dir, bounded by maxSize
// samples. An existing contiguous sample range in dir is adopted, so a
// restarted run resumes where it left off.
func NewDiskBackend(dir string, maxSize int, logger *zap.Logger) (*DiskBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create corpus directory: %w", err)
	}

	b := &DiskBackend{
		dir:     dir,
		maxSize: maxSize,
		logger:  logger,
	}
	if err := b.recover(); err != nil {
		return nil, err
	}
	if b.Count() > 0 {
		logger.Info("recovered corpus samples from disk",
			zap.String("dir", dir),
			zap.Int("count", b.Count()))
	}
	return b, nil
}

// recover scans dir for sample files and adopts the tightest index range
// covering them. Stray indices outside a contiguous run are discarded so the
// no-gaps guarantee holds.
func (b *DiskBackend) recover() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("failed to read corpus directory: %w", err)
	}

	var indices []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, sampleSuffix) {
			continue
		}
		idx, err := strconv.ParseUint(strings.TrimSuffix(name, sampleSuffix), 10, 64)
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	if len(indices) == 0 {
		return nil
	}

	lo, hi := indices[0], indices[0]
	for _, idx := range indices[1:] {
		lo = min(lo, idx)
		hi = max(hi, idx)
	}
	for idx := lo; idx <= hi; idx++ {
		if _, err := os.Stat(b.samplePath(idx)); err != nil {
			// gap in the range, keep only the tail after it
			for drop := lo; drop <= idx; drop++ {
				os.Remove(b.samplePath(drop))
			}
			lo = idx + 1
		}
	}
	if lo > hi {
		return nil
	}
	b.first, b.next = lo, hi+1

	// enforce the capacity bound on adopted samples too
	for b.Count() > b.maxSize {
		os.Remove(b.samplePath(b.first))
		b.first++
	}
	return nil
}

func (b *DiskBackend) samplePath(idx uint64) string {
	return filepath.Join(b.dir, fmt.Sprintf("%016d%s", idx, sampleSuffix))
}

func (b *DiskBackend) Append(data []byte, fb types.Feedback) (uint64, error) {
	idx := b.next
	if err := os.WriteFile(b.samplePath(idx), data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to persist sample %d: %w", idx, err)
	}
	b.next++

	for b.Count() > b.maxSize {
		if err := os.Remove(b.samplePath(b.first)); err != nil {
			b.logger.Warn("failed to remove evicted sample file",
				zap.Uint64("index", b.first), zap.Error(err))
		}
		b.first++
	}
	return idx, nil
}

func (b *DiskBackend) Count() int {
	return int(b.next - b.first)
}

func (b *DiskBackend) FirstIndex() uint64 {
	return b.first
}

func (b *DiskBackend) LastIndex() uint64 {
	if b.next == b.first {
		return b.first
	}
	return b.next - 1
}

func (b *DiskBackend) Element(idx uint64) ([]byte, error) {
	if idx < b.first || idx >= b.next {
		return nil, ErrIndexOutOfRange
	}
	data, err := os.ReadFile(b.samplePath(idx))
	if err != nil {
		return nil, fmt.Errorf("failed to read sample %d: %w", idx, err)
	}
	return data, nil
}

func (b *DiskBackend) SelectRandom() (Entry, error) {
	count := b.Count()
	if count == 0 {
		return Entry{}, ErrEmptyBackend
	}
	idx := b.first + uint64(rand.Intn(count))
	data, err := b.Element(idx)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Index: idx, Data: data}, nil
}

func (b *DiskBackend) Reset() error {
	for idx := b.first; idx < b.next; idx++ {
		if err := os.Remove(b.samplePath(idx)); err != nil {
			return fmt.Errorf("failed to remove sample %d: %w", idx, err)
		}
	}
	b.first = b.next
	return nil
}
