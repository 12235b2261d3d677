package corpus

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"corpusd/internal/types"
	"corpusd/pkg/telemetry"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	backend, err := NewDiskBackend(t.TempDir(), cfg.MaxSize, zap.NewNop())
	require.NoError(t, err)
	m, err := New(cfg, backend, types.NewRawCodec(), types.NewNopPreparer(), zap.NewNop())
	require.NoError(t, err)
	return m
}

func testProgram(i int) *types.RawProgram {
	return &types.RawProgram{
		ID:      fmt.Sprintf("prog-%d", i),
		OpCount: 4 + i,
		Data:    []byte(fmt.Sprintf("payload-%d", i)),
	}
}

func programIDs(ps []types.Program) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.(*types.RawProgram).ID)
	}
	return ids
}

func TestNewRejectsInvalidBounds(t *testing.T) {
	backend, err := NewDiskBackend(t.TempDir(), 8, zap.NewNop())
	require.NoError(t, err)
	codec := types.NewRawCodec()
	prep := types.NewNopPreparer()

	_, err = New(Config{MinSize: 0, MaxSize: 8}, backend, codec, prep, zap.NewNop())
	assert.Error(t, err)

	_, err = New(Config{MinSize: 4, MaxSize: 3}, backend, codec, prep, zap.NewNop())
	assert.Error(t, err)
}

func TestAddIgnoresEmptyPrograms(t *testing.T) {
	m := newTestManager(t, Config{MinSize: 1, MaxSize: 8, MinMutationsPerSample: 5})

	m.Add(nil, types.Feedback{})
	m.Add(&types.RawProgram{ID: "empty"}, types.Feedback{})
	assert.True(t, m.IsEmpty())

	m.Add(testProgram(0), types.Feedback{})
	assert.Equal(t, 1, m.Size())
}

func TestCapacityEvictsOldest(t *testing.T) {
	m := newTestManager(t, Config{MinSize: 1, MaxSize: 3, MinMutationsPerSample: 5})
	for i := range 4 {
		m.Add(testProgram(i), types.Feedback{})
	}

	require.Equal(t, 3, m.Size())
	assert.Equal(t, []string{"prog-1", "prog-2", "prog-3"}, programIDs(m.AllPrograms()))
	assert.Equal(t, uint64(1), m.FirstIndex())
	assert.Equal(t, uint64(3), m.LastIndex())
}

func TestSampleForMutatingCountsUse(t *testing.T) {
	m := newTestManager(t, Config{MinSize: 1, MaxSize: 8, MinMutationsPerSample: 5})
	m.Add(testProgram(0), types.Feedback{})

	for range 3 {
		p := m.SampleForMutating()
		require.NotNil(t, p)
	}
	assert.Equal(t, uint32(3), m.ages.At(0))

	// splicing picks a sample without spending its mutation budget
	m.SampleForSplicing()
	assert.Equal(t, uint32(3), m.ages.At(0))
}

func TestCleanupRetainsUnexhaustedSamples(t *testing.T) {
	m := newTestManager(t, Config{MinSize: 1, MaxSize: 8, MinMutationsPerSample: 5})
	for i := range 4 {
		m.Add(testProgram(i), types.Feedback{})
	}

	m.Cleanup()
	assert.Equal(t, 4, m.Size())
	assert.Equal(t, uint64(1), m.Stats().CleanupRuns)
	assert.Equal(t, uint64(0), m.Stats().TotalEvicted)
}

func TestCleanupEvictsExhaustedOldestFirst(t *testing.T) {
	m := newTestManager(t, Config{MinSize: 2, MaxSize: 10, MinMutationsPerSample: 3})
	for i := range 5 {
		m.Add(testProgram(i), types.Feedback{})
	}
	// the three oldest samples have used up their mutation budget
	for i := range 3 {
		m.ages.Set(i, 3)
	}

	m.Cleanup()

	// prog-0 and prog-1 go; prog-2 survives only because evicting it would
	// leave the corpus at the floor
	require.Equal(t, 3, m.Size())
	assert.Equal(t, []string{"prog-2", "prog-3", "prog-4"}, programIDs(m.AllPrograms()))
	assert.Equal(t, uint64(2), m.Stats().TotalEvicted)
}

func TestCleanupNeverDropsBelowMinSize(t *testing.T) {
	m := newTestManager(t, Config{MinSize: 2, MaxSize: 10, MinMutationsPerSample: 3})
	for i := range 5 {
		m.Add(testProgram(i), types.Feedback{})
	}
	for i := range 5 {
		m.ages.Set(i, 10)
	}

	for range 4 {
		m.Cleanup()
		assert.GreaterOrEqual(t, m.Size(), 2)
	}
}

func TestCleanupSurvivorsKeepTheirAges(t *testing.T) {
	m := newTestManager(t, Config{MinSize: 1, MaxSize: 10, MinMutationsPerSample: 3})
	for i := range 3 {
		m.Add(testProgram(i), types.Feedback{})
	}
	m.ages.Set(0, 3)
	m.ages.Set(1, 2)
	m.ages.Set(2, 1)

	m.Cleanup()

	require.Equal(t, 2, m.Size())
	assert.Equal(t, uint32(2), m.ages.At(0))
	assert.Equal(t, uint32(1), m.ages.At(1))
}

func TestCleanupAndExportWithTracingEnabled(t *testing.T) {
	m := newTestManager(t, Config{MinSize: 1, MaxSize: 8, MinMutationsPerSample: 3})
	m.EnableTracing(telemetry.NewTracerFactory(telemetry.TracerFactoryParams{}))
	for i := range 3 {
		m.Add(testProgram(i), types.Feedback{})
	}
	m.ages.Set(0, 3)

	m.Cleanup()
	assert.Equal(t, 2, m.Size())

	buf, err := m.ExportState()
	require.NoError(t, err)
	assert.NotEmpty(t, buf)
}

func TestExportImportRoundTrip(t *testing.T) {
	m := newTestManager(t, Config{MinSize: 1, MaxSize: 8, MinMutationsPerSample: 5})
	for i := range 4 {
		m.Add(testProgram(i), types.Feedback{})
	}
	m.SampleForMutating()

	buf, err := m.ExportState()
	require.NoError(t, err)

	m2 := newTestManager(t, Config{MinSize: 1, MaxSize: 8, MinMutationsPerSample: 5})
	m2.Add(testProgram(99), types.Feedback{})
	require.NoError(t, m2.ImportState(buf))

	require.Equal(t, 4, m2.Size())
	assert.Equal(t, []string{"prog-0", "prog-1", "prog-2", "prog-3"}, programIDs(m2.AllPrograms()))

	// imported samples start fresh regardless of exported ages
	for i := range m2.ages.Len() {
		assert.Equal(t, uint32(0), m2.ages.At(i))
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	m := newTestManager(t, Config{MinSize: 1, MaxSize: 8, MinMutationsPerSample: 5})
	m.Add(testProgram(0), types.Feedback{})

	err := m.ImportState([]byte{0xde, 0xad})
	require.Error(t, err)
	// a failed import leaves the corpus untouched
	assert.Equal(t, 1, m.Size())
}

func TestImportRejectsCraftedLengthFields(t *testing.T) {
	m := newTestManager(t, Config{MinSize: 1, MaxSize: 8, MinMutationsPerSample: 5})
	m.Add(testProgram(0), types.Feedback{})

	// checkpoint buffer whose single frame declares an id length near
	// MaxUint32; import must fail recoverably, never crash the run
	frame := binary.LittleEndian.AppendUint32(nil, 1)
	frame = binary.LittleEndian.AppendUint32(frame, 0xFFFFFFFD)
	frame = append(frame, 0, 0, 0, 0)
	buf := binary.LittleEndian.AppendUint32(nil, 1)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(frame)))
	buf = append(buf, frame...)

	err := m.ImportState(buf)
	require.Error(t, err)
	assert.Equal(t, 1, m.Size())
}

func TestElementOutOfRange(t *testing.T) {
	m := newTestManager(t, Config{MinSize: 1, MaxSize: 8, MinMutationsPerSample: 5})
	m.Add(testProgram(0), types.Feedback{})

	_, err := m.Element(m.LastIndex() + 1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	p, err := m.Element(m.FirstIndex())
	require.NoError(t, err)
	assert.Equal(t, "prog-0", p.(*types.RawProgram).ID)
}

func TestStatsSnapshot(t *testing.T) {
	m := newTestManager(t, Config{MinSize: 1, MaxSize: 8, MinMutationsPerSample: 5})
	for i := range 3 {
		m.Add(testProgram(i), types.Feedback{})
	}

	stats := m.Stats()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, uint64(3), stats.TotalAdded)
	assert.False(t, stats.UpdatedAt.IsZero())
}
