package shm

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"corpusd/internal/types"
)

// Channel is a fixed-layout shared-memory region through which the corpus
// exchanges samples with an external feedback-directed engine. The corpus
// side creates the region, appends samples into the slot ring and advances
// head/tail; the engine side reads samples and publishes its next suggested
// sample index through the cursor word.
//
// Layout (little-endian, 64-byte header):
//
//	0  magic      uint32
//	4  version    uint32
//	8  scheduler  uint32   strategy selector, written once at creation
//	12 slotCount  uint32
//	16 slotSize   uint32   payload capacity per slot
//	24 head       uint64   next sample index (corpus-owned)
//	32 tail       uint64   first live sample index (corpus-owned)
//	40 cursor     uint64   engine-suggested next pick, CursorNone if unset
//
// Each slot is 16 bytes of record header (length, feedback) plus slotSize
// payload bytes. Slot payloads are written before head is published, so a
// reader that loads head first always sees complete records.
const (
	channelMagic   = 0x43505331 // "CPS1"
	channelVersion = 1

	headerSize      = 64
	slotHeaderSize  = 16
	offScheduler    = 8
	offSlotCount    = 12
	offSlotSize     = 16
	offHead         = 24
	offTail         = 32
	offCursor       = 40

	// CursorNone marks an unset engine cursor.
	CursorNone = ^uint64(0)
)

var (
	ErrBadMagic     = errors.New("shared memory region has wrong magic")
	ErrBadVersion   = errors.New("shared memory region has unsupported version")
	ErrSampleTooBig = errors.New("sample exceeds slot payload capacity")
)

type Channel struct {
	path      string
	fd        int
	buf       []byte
	slotCount uint32
	slotSize  uint32
	owner     bool
}

// Create establishes a new channel at path, sized for slotCount samples of
// up to slotSize bytes each, and records the scheduler strategy in the
// header. The region is exclusively owned by the creating corpus instance
// for its lifetime.
func Create(path string, slotCount, slotSize, scheduler uint32) (*Channel, error) {
	if slotCount == 0 || slotSize == 0 {
		return nil, errors.New("slot geometry must be non-zero")
	}
	// record headers hold atomically accessed words, so every slot offset
	// must stay 4-byte aligned regardless of the configured payload size
	slotSize = (slotSize + 3) &^ 3

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open shared memory file: %w", err)
	}

	total := headerSize + int(slotCount)*(slotHeaderSize+int(slotSize))
	if err := unix.Ftruncate(fd, int64(total)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to size shared memory file: %w", err)
	}

	buf, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to map shared memory file: %w", err)
	}

	c := &Channel{path: path, fd: fd, buf: buf, slotCount: slotCount, slotSize: slotSize, owner: true}
	c.storeUint32(0, channelMagic)
	c.storeUint32(4, channelVersion)
	c.storeUint32(offScheduler, scheduler)
	c.storeUint32(offSlotCount, slotCount)
	c.storeUint32(offSlotSize, slotSize)
	c.storeUint64(offHead, 0)
	c.storeUint64(offTail, 0)
	c.storeUint64(offCursor, CursorNone)
	return c, nil
}

// Open attaches to an existing channel. This is the engine side: geometry is
// read from the header, never imposed.
func Open(path string) (*Channel, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open shared memory file: %w", err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to stat shared memory file: %w", err)
	}

	buf, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to map shared memory file: %w", err)
	}

	c := &Channel{path: path, fd: fd, buf: buf}
	if c.loadUint32(0) != channelMagic {
		c.Close()
		return nil, ErrBadMagic
	}
	if c.loadUint32(4) != channelVersion {
		c.Close()
		return nil, ErrBadVersion
	}
	c.slotCount = c.loadUint32(offSlotCount)
	c.slotSize = c.loadUint32(offSlotSize)
	return c, nil
}

func (c *Channel) Path() string      { return c.path }
func (c *Channel) SlotCount() uint32 { return c.slotCount }
func (c *Channel) SlotSize() uint32  { return c.slotSize }
func (c *Channel) Scheduler() uint32 { return c.loadUint32(offScheduler) }

func (c *Channel) Head() uint64       { return c.loadUint64(offHead) }
func (c *Channel) Tail() uint64       { return c.loadUint64(offTail) }
func (c *Channel) Cursor() uint64     { return c.loadUint64(offCursor) }
func (c *Channel) SetHead(v uint64)   { c.storeUint64(offHead, v) }
func (c *Channel) SetTail(v uint64)   { c.storeUint64(offTail, v) }
func (c *Channel) SetCursor(v uint64) { c.storeUint64(offCursor, v) }

// WriteSlot stores a record into the ring slot for idx. The caller publishes
// the record afterwards by advancing head.
func (c *Channel) WriteSlot(idx uint64, data []byte, fb types.Feedback) error {
	if uint32(len(data)) > c.slotSize {
		return ErrSampleTooBig
	}
	off := c.slotOffset(idx)
	copy(c.buf[off+slotHeaderSize:off+slotHeaderSize+len(data)], data)
	c.storeUint32(off+4, fb.NewEdges)
	c.storeUint32(off+8, fb.ExecTimeMS)
	c.storeUint32(off, uint32(len(data)))
	return nil
}

// ReadSlot returns a copy of the record stored in the ring slot for idx.
// Bounds against the live [tail, head) range are the caller's business.
func (c *Channel) ReadSlot(idx uint64) ([]byte, types.Feedback, error) {
	off := c.slotOffset(idx)
	length := c.loadUint32(off)
	if length > c.slotSize {
		return nil, types.Feedback{}, fmt.Errorf("slot %d holds invalid length %d", idx, length)
	}
	fb := types.Feedback{
		NewEdges:   c.loadUint32(off + 4),
		ExecTimeMS: c.loadUint32(off + 8),
	}
	data := make([]byte, length)
	copy(data, c.buf[off+slotHeaderSize:off+slotHeaderSize+int(length)])
	return data, fb, nil
}

func (c *Channel) slotOffset(idx uint64) int {
	slot := idx % uint64(c.slotCount)
	return headerSize + int(slot)*(slotHeaderSize+int(c.slotSize))
}

// Close unmaps the region. The owning side also unlinks the backing file so
// the channel identifier can be reused by the next fuzzer instance.
func (c *Channel) Close() error {
	if c.buf != nil {
		if err := unix.Munmap(c.buf); err != nil {
			return err
		}
		c.buf = nil
	}
	if c.fd >= 0 {
		unix.Close(c.fd)
		c.fd = -1
	}
	if c.owner {
		unix.Unlink(c.path)
	}
	return nil
}

func (c *Channel) loadUint32(off int) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&c.buf[off])))
}

func (c *Channel) storeUint32(off int, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&c.buf[off])), v)
}

func (c *Channel) loadUint64(off int) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&c.buf[off])))
}

func (c *Channel) storeUint64(off int, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&c.buf[off])), v)
}
