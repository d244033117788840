package shmbuf

import (
	"encoding/binary"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const (
	magic         = "TRICAMSB"
	formatVersion = 1

	// headerSize is one page; slots start right after it.
	headerSize       = 4096
	maxDescriptorLen = 256

	// slot: stamp u64, checksum u64, payload
	slotHeaderSize = 16
	slotAlign      = 64

	flagClosed = 1
)

// Header offsets. Static fields are little endian and written once at
// creation; the rest are native atomics shared with other processes.
const (
	offMagic         = 0
	offVersion       = 8
	offHeaderSize    = 12
	offCapacity      = 16
	offPayloadSize   = 24
	offSlotStride    = 32
	offFingerprint   = 40
	offCreatedAt     = 48
	offWriterPID     = 56
	offEpoch         = 64
	offGeneration    = 80
	offFlags         = 88
	offHeartbeat     = 96
	offPublished     = 104
	offNotify        = 112
	offDescriptorLen = 120
	offDescriptor    = 128
)

// geometry is the fixed shape of a region.
type geometry struct {
	capacity    uint64
	payloadSize uint64
	stride      uint64
	descriptor  string
	fingerprint uint64
}

func newGeometry(capacity, payloadSize int, descriptor string) geometry {
	stride := uint64(slotHeaderSize + payloadSize)
	stride = (stride + slotAlign - 1) &^ (slotAlign - 1)
	return geometry{
		capacity:    uint64(capacity),
		payloadSize: uint64(payloadSize),
		stride:      stride,
		descriptor:  descriptor,
		fingerprint: xxhash.Sum64String(descriptor),
	}
}

func (g geometry) fileSize() int64 {
	return int64(headerSize + g.capacity*g.stride)
}

func (g geometry) slotOffset(seq uint64) uint64 {
	return headerSize + (seq%g.capacity)*g.stride
}

// header is a view over the first page of a mapped region.
type header struct {
	mem []byte
}

func (h header) u64(off int) *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&h.mem[off]))
}

func (h header) hasMagic() bool {
	return string(h.mem[offMagic:offMagic+len(magic)]) == magic
}

func (h header) version() uint32     { return binary.LittleEndian.Uint32(h.mem[offVersion:]) }
func (h header) headerSize() uint32  { return binary.LittleEndian.Uint32(h.mem[offHeaderSize:]) }
func (h header) capacity() uint64    { return binary.LittleEndian.Uint64(h.mem[offCapacity:]) }
func (h header) payloadSize() uint64 { return binary.LittleEndian.Uint64(h.mem[offPayloadSize:]) }
func (h header) stride() uint64      { return binary.LittleEndian.Uint64(h.mem[offSlotStride:]) }
func (h header) fingerprint() uint64 { return binary.LittleEndian.Uint64(h.mem[offFingerprint:]) }

func (h header) createdAt() time.Time {
	return time.Unix(0, int64(binary.LittleEndian.Uint64(h.mem[offCreatedAt:])))
}

func (h header) descriptor() string {
	n := binary.LittleEndian.Uint32(h.mem[offDescriptorLen:])
	if n > maxDescriptorLen {
		return ""
	}
	return string(h.mem[offDescriptor : offDescriptor+int(n)])
}

func (h header) pid() *atomic.Uint64        { return h.u64(offWriterPID) }
func (h header) generation() *atomic.Uint64 { return h.u64(offGeneration) }
func (h header) flags() *atomic.Uint64      { return h.u64(offFlags) }
func (h header) published() *atomic.Uint64  { return h.u64(offPublished) }

func (h header) heartbeat() *atomic.Int64 {
	return (*atomic.Int64)(unsafe.Pointer(&h.mem[offHeartbeat]))
}

func (h header) notify() *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&h.mem[offNotify]))
}

func (h header) closed() bool {
	return h.flags().Load()&flagClosed != 0
}

// epoch reads the writer epoch, retrying while a writer restart changes it.
func (h header) epoch() (uuid.UUID, uint64) {
	for {
		g1 := h.generation().Load()
		var id uuid.UUID
		copy(id[:], h.mem[offEpoch:offEpoch+16])
		if h.generation().Load() == g1 {
			return id, g1
		}
	}
}

// init writes a fresh header. The magic goes last so a concurrent Attach
// never accepts a half-written page.
func (h header) init(g geometry, now time.Time) {
	clear(h.mem[:headerSize])
	binary.LittleEndian.PutUint32(h.mem[offVersion:], formatVersion)
	binary.LittleEndian.PutUint32(h.mem[offHeaderSize:], headerSize)
	binary.LittleEndian.PutUint64(h.mem[offCapacity:], g.capacity)
	binary.LittleEndian.PutUint64(h.mem[offPayloadSize:], g.payloadSize)
	binary.LittleEndian.PutUint64(h.mem[offSlotStride:], g.stride)
	binary.LittleEndian.PutUint64(h.mem[offFingerprint:], g.fingerprint)
	binary.LittleEndian.PutUint64(h.mem[offCreatedAt:], uint64(now.UnixNano()))
	binary.LittleEndian.PutUint32(h.mem[offDescriptorLen:], uint32(len(g.descriptor)))
	copy(h.mem[offDescriptor:offDescriptor+maxDescriptorLen], g.descriptor)
	copy(h.mem[offMagic:], magic)
}

// claim records a new writer incarnation.
func (h header) claim(pid int, id uuid.UUID, now time.Time) {
	gen := h.generation().Load() + 1
	copy(h.mem[offEpoch:offEpoch+16], id[:])
	h.generation().Store(gen)
	h.pid().Store(uint64(pid))
	h.heartbeat().Store(now.UnixNano())
	h.flags().And(^uint64(flagClosed))
}

// check compares the header against the expected geometry and file size.
// It returns a description of the first mismatch, or "".
func (h header) check(g geometry, fileSize int64, wantCapacity bool) string {
	switch {
	case !h.hasMagic():
		return "missing magic, region is not initialized"
	case h.version() != formatVersion:
		return "format version mismatch"
	case h.headerSize() != headerSize:
		return "header size mismatch"
	case wantCapacity && h.capacity() != g.capacity:
		return "capacity mismatch"
	case h.capacity() == 0:
		return "zero capacity"
	case h.payloadSize() != g.payloadSize:
		return "payload size mismatch"
	case h.stride() != g.stride:
		return "slot stride mismatch"
	case h.fingerprint() != g.fingerprint:
		return "layout fingerprint mismatch"
	case fileSize != int64(headerSize+h.capacity()*h.stride()):
		return "file size mismatch"
	}
	return ""
}

// slot is a view over one ring entry.
type slot struct {
	mem []byte
}

func (s slot) stamp() *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&s.mem[0]))
}

func (s slot) checksum() *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&s.mem[8]))
}

func (s slot) payload(size uint64) []byte {
	return s.mem[slotHeaderSize : slotHeaderSize+size]
}

func writingStamp(seq uint64) uint64  { return 2*seq + 1 }
func completeStamp(seq uint64) uint64 { return 2*seq + 2 }
