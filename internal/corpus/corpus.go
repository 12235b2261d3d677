package corpus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"corpusd/internal/types"
	"corpusd/pkg/sched"
	"corpusd/pkg/telemetry"
)

// Config bounds one corpus instance.
type Config struct {
	// MinSize is the soft floor: once the corpus has held this many samples,
	// the eviction pass never drops it below. Must be at least 1.
	MinSize int

	// MaxSize is the hard cap, enforced by backend capacity eviction.
	MaxSize int

	// MinMutationsPerSample is the age threshold: a sample used as a
	// mutation basis fewer times than this is never age-evicted.
	MinMutationsPerSample uint32

	// StaticCorpus disables the recurring cleanup pass entirely.
	StaticCorpus bool

	CleanupInterval time.Duration
}

// Manager owns the retention invariants over a storage backend and exposes
// the sampling contract to the mutation engine. One manager is created per
// fuzzing run and lives for the run's duration.
//
// The backend is the single source of truth for sample content and order;
// the manager only keeps per-sample ages, in lock-step with the backend's
// live range. A single mutex guards all state mutation so the background
// cleanup, checkpoint and inbox tasks can share the instance with the
// mutation engine.
type Manager struct {
	cfg      Config
	backend  Backend
	codec    types.Codec
	preparer types.Preparer
	logger   *zap.Logger
	tracers  *telemetry.TracerFactory

	mu           sync.Mutex
	ages         *Container[uint32]
	totalAdded   uint64
	cleanupRuns  uint64
	totalEvicted uint64
}

// New validates the size bounds and wires the manager's collaborators. A
// violated bound is a construction error: the run controller treats it as
// fatal. Registering the recurring cleanup task is a separate step, Start.
func New(cfg Config, backend Backend, codec types.Codec, preparer types.Preparer, logger *zap.Logger) (*Manager, error) {
	if cfg.MinSize < 1 {
		return nil, fmt.Errorf("corpus minSize must be at least 1, got %d", cfg.MinSize)
	}
	if cfg.MaxSize < cfg.MinSize {
		return nil, fmt.Errorf("corpus maxSize %d must not be below minSize %d", cfg.MaxSize, cfg.MinSize)
	}

	m := &Manager{
		cfg:      cfg,
		backend:  backend,
		codec:    codec,
		preparer: preparer,
		logger:   logger,
		ages:     NewContainer[uint32](cfg.MaxSize),
	}

	// samples recovered by the backend predate this process; treat them as
	// fresh so they get their fair share of mutations
	for range backend.Count() {
		m.ages.Append(0)
	}
	return m, nil
}

// EnableTracing attaches the span factory so the cleanup and export passes
// emit spans. Optional; without it the manager stays silent.
func (m *Manager) EnableTracing(tf *telemetry.TracerFactory) {
	m.tracers = tf
}

func (m *Manager) newTracer(name string) telemetry.Tracer {
	if m.tracers == nil {
		return &telemetry.DummyTracer{}
	}
	return m.tracers.NewTracer(context.Background(), name)
}

// Start registers the recurring cleanup task. Invoked once by the owning run
// controller, after construction.
func (m *Manager) Start(s *sched.Scheduler) {
	if m.cfg.StaticCorpus {
		m.logger.Info("static corpus configured, cleanup disabled")
		return
	}
	s.Every("corpus-cleanup", m.cfg.CleanupInterval, m.Cleanup)
}

// Add admits a program to the corpus. Zero-size programs carry no value for
// mutation and are silently ignored. The program runs through the prepare
// step, is serialized, and lands in the backend with age 0. A backend that
// refuses to persist a sample is malfunctioning, which is not recoverable.
func (m *Manager) Add(p types.Program, fb types.Feedback) {
	if p == nil || p.Size() == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(p, fb)
}

func (m *Manager) add(p types.Program, fb types.Feedback) {
	prepared := m.preparer.PrepareForInclusion(p)
	data, err := m.codec.Encode(prepared)
	if err != nil {
		m.logger.Fatal("failed to serialize program for admission", zap.Error(err))
	}
	if _, err := m.backend.Append(data, fb); err != nil {
		m.logger.Fatal("backend refused to store sample", zap.Error(err))
	}
	m.ages.Append(0)
	m.totalAdded++
}

func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.Count()
}

func (m *Manager) IsEmpty() bool {
	return m.Size() == 0
}

// SampleForMutating returns one program chosen by the backend's selection
// policy and records a mutation-use event against it.
func (m *Manager) SampleForMutating() types.Program {
	return m.sample(true)
}

// SampleForSplicing returns one program chosen by the backend's selection
// policy. Splicing does not count against a sample's age.
func (m *Manager) SampleForSplicing() types.Program {
	return m.sample(false)
}

func (m *Manager) sample(countUse bool) types.Program {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, err := m.backend.SelectRandom()
	if err != nil {
		m.logger.Fatal("failed to select sample from backend", zap.Error(err))
	}

	p, err := m.codec.Decode(entry.Data)
	if err != nil {
		// a stored sample that no longer decodes means the backend or codec
		// is corrupt; trusting it would poison every mutation after this one
		m.logger.Fatal("stored sample is corrupted",
			zap.Uint64("index", entry.Index), zap.Error(err))
	}

	if countUse {
		pos := int(entry.Index - m.backend.FirstIndex())
		if pos >= 0 && pos < m.ages.Len() {
			m.ages.Set(pos, m.ages.At(pos)+1)
		}
	}
	return p
}

func (m *Manager) FirstIndex() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.FirstIndex()
}

func (m *Manager) LastIndex() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.LastIndex()
}

// Element decodes the sample at idx on demand. With FirstIndex and LastIndex
// this models the corpus as an ordered read-only sequence for diagnostics
// and export.
func (m *Manager) Element(idx uint64) (types.Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.element(idx)
}

func (m *Manager) element(idx uint64) (types.Program, error) {
	data, err := m.backend.Element(idx)
	if err != nil {
		return nil, err
	}
	p, err := m.codec.Decode(data)
	if err != nil {
		m.logger.Fatal("stored sample is corrupted",
			zap.Uint64("index", idx), zap.Error(err))
	}
	return p, nil
}

// AllPrograms decodes every live sample, oldest first.
func (m *Manager) AllPrograms() []types.Program {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allPrograms()
}

func (m *Manager) allPrograms() []types.Program {
	count := m.backend.Count()
	if count == 0 {
		return nil
	}
	ps := make([]types.Program, 0, count)
	first := m.backend.FirstIndex()
	for idx := first; idx < first+uint64(count); idx++ {
		p, err := m.element(idx)
		if err != nil {
			m.logger.Fatal("live sample range has a gap",
				zap.Uint64("index", idx), zap.Error(err))
		}
		ps = append(ps, p)
	}
	return ps
}

// ExportState packs every live program into one checkpoint buffer. Failures
// here are recoverable: the caller decides whether to continue the run
// without a checkpoint.
func (m *Manager) ExportState() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracer := m.newTracer("corpus export")
	tracer.Start()
	defer tracer.End()

	ps := m.allPrograms()
	buf, err := m.codec.EncodeAll(ps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode corpus state: %w", err)
	}
	tracer.WithAttributes(
		telemetry.CorpusSize(len(ps)),
		telemetry.CorpusTotalAdded(m.totalAdded),
	)
	m.logger.Info("exported corpus state", zap.Int("samples", len(ps)))
	return buf, nil
}

// ImportState replaces the corpus with the contents of a checkpoint buffer.
// Every program is re-admitted through the normal admission path, so
// imported samples start at age 0 regardless of their age when exported.
func (m *Manager) ImportState(buf []byte) error {
	ps, err := m.codec.DecodeAll(buf)
	if err != nil {
		return fmt.Errorf("failed to decode corpus state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.backend.Reset(); err != nil {
		return fmt.Errorf("failed to clear backend for import: %w", err)
	}
	m.ages.Clear()
	for _, p := range ps {
		if p == nil || p.Size() == 0 {
			continue
		}
		m.add(p, types.Feedback{})
	}
	m.logger.Info("imported corpus state", zap.Int("samples", m.backend.Count()))
	return nil
}

// Cleanup is the periodic age-eviction pass. Walking samples oldest first,
// it retains every sample that still has mutations left in it, and protects
// the tail of the sequence whenever evicting a sample could leave the
// corpus at or below its floor. Capacity eviction in the backend is
// independent of this pass and may discard young samples when the corpus is
// persistently full; this pass never discards below MinSize.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.backend.Count()
	if n == 0 {
		return
	}

	tracer := m.newTracer("corpus cleanup")
	tracer.Start()
	defer tracer.End()

	first := m.backend.FirstIndex()
	var keptData [][]byte
	var keptAges []uint32
	for i := 0; i < n; i++ {
		remaining := n - i
		if m.ageAt(i) < m.cfg.MinMutationsPerSample || len(keptAges)+remaining-1 <= m.cfg.MinSize {
			data, err := m.backend.Element(first + uint64(i))
			if err != nil {
				m.logger.Fatal("live sample range has a gap",
					zap.Uint64("index", first+uint64(i)), zap.Error(err))
			}
			keptData = append(keptData, data)
			keptAges = append(keptAges, m.ageAt(i))
		}
	}

	if len(keptAges) == n {
		m.cleanupRuns++
		tracer.WithAttributes(telemetry.CorpusSize(n), telemetry.CorpusEvicted(0))
		m.logger.Debug("corpus cleanup evicted nothing", zap.Int("size", n))
		return
	}

	if err := m.backend.Reset(); err != nil {
		m.logger.Fatal("failed to clear backend during cleanup", zap.Error(err))
	}
	for _, data := range keptData {
		if _, err := m.backend.Append(data, types.Feedback{}); err != nil {
			m.logger.Fatal("backend refused to store sample during cleanup", zap.Error(err))
		}
	}
	m.ages.Replace(keptAges)

	m.cleanupRuns++
	m.totalEvicted += uint64(n - len(keptAges))
	tracer.WithAttributes(
		telemetry.CorpusSize(len(keptAges)),
		telemetry.CorpusEvicted(n-len(keptAges)),
	)
	m.logger.Info("corpus cleanup finished",
		zap.Int("before", n),
		zap.Int("after", len(keptAges)))
}

func (m *Manager) ageAt(i int) uint32 {
	if i >= m.ages.Len() {
		return 0
	}
	return m.ages.At(i)
}

// Stats snapshots the manager's counters for the stats publisher.
func (m *Manager) Stats() types.CorpusStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.CorpusStats{
		Size:         m.backend.Count(),
		TotalAdded:   m.totalAdded,
		CleanupRuns:  m.cleanupRuns,
		TotalEvicted: m.totalEvicted,
		UpdatedAt:    time.Now(),
	}
}
