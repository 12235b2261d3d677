package shm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusd/internal/types"
)

func TestCreateOpenGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chan")

	owner, err := Create(path, 8, 128, 2)
	require.NoError(t, err)
	defer owner.Close()

	assert.Equal(t, uint32(8), owner.SlotCount())
	assert.Equal(t, uint32(128), owner.SlotSize())
	assert.Equal(t, uint32(2), owner.Scheduler())
	assert.Equal(t, uint64(0), owner.Head())
	assert.Equal(t, uint64(0), owner.Tail())
	assert.Equal(t, CursorNone, owner.Cursor())

	engine, err := Open(path)
	require.NoError(t, err)
	defer engine.Close()

	assert.Equal(t, uint32(8), engine.SlotCount())
	assert.Equal(t, uint32(128), engine.SlotSize())
	assert.Equal(t, uint32(2), engine.Scheduler())
}

func TestCreateAlignsSlotSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chan")

	c, err := Create(path, 4, 101, 0)
	require.NoError(t, err)
	defer c.Close()

	// payload capacity rounds up so slot offsets stay 4-byte aligned
	assert.Equal(t, uint32(104), c.SlotSize())

	require.NoError(t, c.WriteSlot(0, make([]byte, 104), types.Feedback{}))
	data, _, err := c.ReadSlot(0)
	require.NoError(t, err)
	assert.Len(t, data, 104)
}

func TestCreateRejectsZeroGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chan")

	_, err := Create(path, 0, 128, 0)
	assert.Error(t, err)
	_, err = Create(path, 8, 0, 0)
	assert.Error(t, err)
}

func TestOpenRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chan")
	require.NoError(t, os.WriteFile(path, make([]byte, 256), 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestSlotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chan")
	c, err := Create(path, 4, 64, 0)
	require.NoError(t, err)
	defer c.Close()

	fb := types.Feedback{NewEdges: 7, ExecTimeMS: 42}
	require.NoError(t, c.WriteSlot(2, []byte("sample"), fb))

	data, got, err := c.ReadSlot(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("sample"), data)
	assert.Equal(t, fb, got)
}

func TestSlotRoundTripAcrossProcessesView(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chan")
	owner, err := Create(path, 4, 64, 1)
	require.NoError(t, err)
	defer owner.Close()

	engine, err := Open(path)
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, owner.WriteSlot(0, []byte("shared"), types.Feedback{NewEdges: 3}))
	owner.SetHead(1)

	assert.Equal(t, uint64(1), engine.Head())
	data, fb, err := engine.ReadSlot(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("shared"), data)
	assert.Equal(t, uint32(3), fb.NewEdges)

	// the engine publishes its pick through the cursor word
	engine.SetCursor(0)
	assert.Equal(t, uint64(0), owner.Cursor())
}

func TestWriteSlotRejectsOversizedSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chan")
	c, err := Create(path, 4, 16, 0)
	require.NoError(t, err)
	defer c.Close()

	err = c.WriteSlot(0, make([]byte, 17), types.Feedback{})
	assert.ErrorIs(t, err, ErrSampleTooBig)
}

func TestSlotRingWraps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chan")
	c, err := Create(path, 4, 32, 0)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.WriteSlot(1, []byte("old"), types.Feedback{}))
	// index 5 maps onto the same slot and overwrites it
	require.NoError(t, c.WriteSlot(5, []byte("new"), types.Feedback{}))

	data, _, err := c.ReadSlot(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), data)
}

func TestOwnerCloseUnlinksFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chan")
	c, err := Create(path, 4, 32, 0)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
