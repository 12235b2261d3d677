package corpus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"corpusd/internal/types"
)

func TestDiskBackendAppendKeepsContiguousRange(t *testing.T) {
	b, err := NewDiskBackend(t.TempDir(), 3, zap.NewNop())
	require.NoError(t, err)

	for i := range 5 {
		idx, err := b.Append([]byte(fmt.Sprintf("sample-%d", i)), types.Feedback{})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), idx)
	}

	assert.Equal(t, 3, b.Count())
	assert.Equal(t, uint64(2), b.FirstIndex())
	assert.Equal(t, uint64(4), b.LastIndex())

	_, err = b.Element(1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	data, err := b.Element(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("sample-2"), data)
}

func TestDiskBackendRecoversExistingSamples(t *testing.T) {
	dir := t.TempDir()

	b, err := NewDiskBackend(dir, 8, zap.NewNop())
	require.NoError(t, err)
	for i := range 4 {
		_, err := b.Append([]byte(fmt.Sprintf("sample-%d", i)), types.Feedback{})
		require.NoError(t, err)
	}

	// a second backend over the same directory adopts the live range
	b2, err := NewDiskBackend(dir, 8, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 4, b2.Count())
	assert.Equal(t, uint64(0), b2.FirstIndex())
	assert.Equal(t, uint64(3), b2.LastIndex())

	data, err := b2.Element(3)
	require.NoError(t, err)
	assert.Equal(t, []byte("sample-3"), data)
}

func TestDiskBackendRecoveryEnforcesCapacity(t *testing.T) {
	dir := t.TempDir()

	b, err := NewDiskBackend(dir, 8, zap.NewNop())
	require.NoError(t, err)
	for i := range 6 {
		_, err := b.Append([]byte(fmt.Sprintf("sample-%d", i)), types.Feedback{})
		require.NoError(t, err)
	}

	b2, err := NewDiskBackend(dir, 3, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, b2.Count())
	assert.Equal(t, uint64(3), b2.FirstIndex())
}

func TestDiskBackendSelectRandomIsUniform(t *testing.T) {
	b, err := NewDiskBackend(t.TempDir(), 16, zap.NewNop())
	require.NoError(t, err)

	const samples = 8
	for i := range samples {
		_, err := b.Append([]byte(fmt.Sprintf("sample-%d", i)), types.Feedback{})
		require.NoError(t, err)
	}

	const draws = 16000
	hits := make(map[uint64]int)
	for range draws {
		entry, err := b.SelectRandom()
		require.NoError(t, err)
		hits[entry.Index]++
	}

	require.Len(t, hits, samples)
	// expected 2000 per sample, allow a wide band
	for idx, n := range hits {
		assert.Greater(t, n, 1000, "index %d undersampled", idx)
		assert.Less(t, n, 3000, "index %d oversampled", idx)
	}
}

func TestDiskBackendSelectRandomEmpty(t *testing.T) {
	b, err := NewDiskBackend(t.TempDir(), 4, zap.NewNop())
	require.NoError(t, err)

	_, err = b.SelectRandom()
	assert.ErrorIs(t, err, ErrEmptyBackend)
}

func TestDiskBackendResetKeepsIndicesMonotonic(t *testing.T) {
	b, err := NewDiskBackend(t.TempDir(), 8, zap.NewNop())
	require.NoError(t, err)
	for i := range 3 {
		_, err := b.Append([]byte(fmt.Sprintf("sample-%d", i)), types.Feedback{})
		require.NoError(t, err)
	}

	require.NoError(t, b.Reset())
	assert.Equal(t, 0, b.Count())

	idx, err := b.Append([]byte("after-reset"), types.Feedback{})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), idx)
}
