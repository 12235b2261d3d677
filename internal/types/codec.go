package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec converts programs to and from their serialized form. The corpus
// stores and moves the encoded bytes without inspecting them beyond length
// checks, so the wire format is entirely the codec's business.
type Codec interface {
	Encode(p Program) ([]byte, error)
	Decode(data []byte) (Program, error)

	// EncodeAll/DecodeAll pack a whole corpus into one checkpoint buffer.
	EncodeAll(ps []Program) ([]byte, error)
	DecodeAll(data []byte) ([]Program, error)
}

var ErrTruncatedBuffer = errors.New("truncated program buffer")

// RawCodec frames RawPrograms as:
//
//	uint32 op count | uint32 id length | id | uint32 data length | data
//
// and checkpoint buffers as a uint32 program count followed by
// length-prefixed frames. A real deployment swaps in the fuzzer's own
// program encoding; nothing in the corpus depends on this layout.
type RawCodec struct{}

func NewRawCodec() *RawCodec {
	return &RawCodec{}
}

func (c *RawCodec) Encode(p Program) ([]byte, error) {
	raw, ok := p.(*RawProgram)
	if !ok {
		return nil, fmt.Errorf("raw codec cannot encode %T", p)
	}
	buf := make([]byte, 0, 12+len(raw.ID)+len(raw.Data))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(raw.OpCount))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(raw.ID)))
	buf = append(buf, raw.ID...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(raw.Data)))
	buf = append(buf, raw.Data...)
	return buf, nil
}

func (c *RawCodec) Decode(data []byte) (Program, error) {
	if len(data) < 8 {
		return nil, ErrTruncatedBuffer
	}
	opCount := binary.LittleEndian.Uint32(data)
	idLen := binary.LittleEndian.Uint32(data[4:])
	rest := data[8:]
	// compare in uint64 so a crafted length field cannot wrap past the check
	if uint64(len(rest)) < uint64(idLen)+4 {
		return nil, ErrTruncatedBuffer
	}
	id := string(rest[:idLen])
	rest = rest[idLen:]
	dataLen := binary.LittleEndian.Uint32(rest)
	rest = rest[4:]
	if uint64(len(rest)) < uint64(dataLen) {
		return nil, ErrTruncatedBuffer
	}
	payload := make([]byte, dataLen)
	copy(payload, rest[:dataLen])
	return &RawProgram{ID: id, OpCount: int(opCount), Data: payload}, nil
}

func (c *RawCodec) EncodeAll(ps []Program) ([]byte, error) {
	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(ps)))
	for _, p := range ps {
		frame, err := c.Encode(p)
		if err != nil {
			return nil, err
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(frame)))
		buf = append(buf, frame...)
	}
	return buf, nil
}

func (c *RawCodec) DecodeAll(data []byte) ([]Program, error) {
	if len(data) < 4 {
		return nil, ErrTruncatedBuffer
	}
	count := binary.LittleEndian.Uint32(data)
	rest := data[4:]
	ps := make([]Program, 0, count)
	for range count {
		if len(rest) < 4 {
			return nil, ErrTruncatedBuffer
		}
		frameLen := binary.LittleEndian.Uint32(rest)
		rest = rest[4:]
		if uint64(len(rest)) < uint64(frameLen) {
			return nil, ErrTruncatedBuffer
		}
		p, err := c.Decode(rest[:frameLen])
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
		rest = rest[frameLen:]
	}
	return ps, nil
}
