package types

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawCodecRoundTrip(t *testing.T) {
	c := NewRawCodec()
	p := &RawProgram{ID: "abc", OpCount: 12, Data: []byte{1, 2, 3}}

	buf, err := c.Encode(p)
	require.NoError(t, err)

	got, err := c.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestRawCodecRejectsTruncatedBuffer(t *testing.T) {
	c := NewRawCodec()
	p := &RawProgram{ID: "abc", OpCount: 12, Data: []byte("payload")}

	buf, err := c.Encode(p)
	require.NoError(t, err)

	for _, cut := range []int{0, 4, len(buf) - 1} {
		_, err := c.Decode(buf[:cut])
		assert.ErrorIs(t, err, ErrTruncatedBuffer, "cut at %d", cut)
	}
}

func TestRawCodecRejectsWrappingLengthFields(t *testing.T) {
	c := NewRawCodec()

	// id length near MaxUint32 wraps a 32-bit `idLen+4` bound check to a
	// tiny value; the frame must be rejected, not sliced
	frame := binary.LittleEndian.AppendUint32(nil, 1)
	frame = binary.LittleEndian.AppendUint32(frame, 0xFFFFFFFD)
	frame = append(frame, 0, 0, 0, 0)
	_, err := c.Decode(frame)
	assert.ErrorIs(t, err, ErrTruncatedBuffer)

	// payload length far beyond the buffer
	frame = binary.LittleEndian.AppendUint32(nil, 1)
	frame = binary.LittleEndian.AppendUint32(frame, 0)
	frame = binary.LittleEndian.AppendUint32(frame, 0xFFFFFFFF)
	frame = append(frame, 1, 2, 3)
	_, err = c.Decode(frame)
	assert.ErrorIs(t, err, ErrTruncatedBuffer)

	// frame length far beyond the checkpoint buffer
	buf := binary.LittleEndian.AppendUint32(nil, 1)
	buf = binary.LittleEndian.AppendUint32(buf, 0xFFFFFFF0)
	buf = append(buf, 0, 0, 0, 0)
	_, err = c.DecodeAll(buf)
	assert.ErrorIs(t, err, ErrTruncatedBuffer)
}

func TestRawCodecEncodeAllDecodeAll(t *testing.T) {
	c := NewRawCodec()
	ps := []Program{
		&RawProgram{ID: "a", OpCount: 1, Data: []byte("one")},
		&RawProgram{ID: "b", OpCount: 2, Data: []byte("two")},
		&RawProgram{ID: "c", OpCount: 3, Data: nil},
	}

	buf, err := c.EncodeAll(ps)
	require.NoError(t, err)

	got, err := c.DecodeAll(buf)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[1].(*RawProgram).ID)
	assert.Equal(t, []byte("one"), got[0].(*RawProgram).Data)

	_, err = c.DecodeAll(buf[:len(buf)-2])
	assert.ErrorIs(t, err, ErrTruncatedBuffer)
}

func TestNopPreparerAssignsID(t *testing.T) {
	prep := NewNopPreparer()

	p := prep.PrepareForInclusion(&RawProgram{OpCount: 1}).(*RawProgram)
	assert.NotEmpty(t, p.ID)

	q := prep.PrepareForInclusion(&RawProgram{ID: "keep", OpCount: 1}).(*RawProgram)
	assert.Equal(t, "keep", q.ID)
}
