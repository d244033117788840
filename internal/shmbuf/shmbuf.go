// Package shmbuf implements a fixed-capacity, single-writer, many-reader ring
// of fixed-size entries placed in a memory-mapped file, normally under
// /dev/shm, so that independent processes can follow the most recent K
// observations at their own pace.
//
// The writer stamps a slot odd before overwriting it and even once the
// payload is complete, then publishes the new sequence count. Readers never
// lock: they copy a slot and accept it only if the stamp is unchanged and the
// payload checksum matches. Blocking waits use a futex word in the header that
// the writer bumps on every append.
package shmbuf

import (
	"fmt"
	"time"

	"github.com/tphakala/tricam/internal/errors"
)

// Codec encodes values of T into fixed-size slot payloads. Decode must not
// retain src.
type Codec[T any] interface {
	Size() int
	Descriptor() string
	Encode(dst []byte, v T) error
	Decode(src []byte) (T, error)
}

// Status is the outcome of a reader lookup or wait. None of the non-available
// statuses are errors; callers decide how to react.
type Status int

const (
	Available Status = iota
	NotYetAvailable
	Evicted
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Available:
		return "available"
	case NotYetAvailable:
		return "not_yet_available"
	case Evicted:
		return "evicted"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is returned by Reader.Read. Value is only set when Status is Available.
type Result[T any] struct {
	Status Status
	Seq    uint64
	Value  T
}

// Sentinel errors
var (
	ErrWriterActive = errors.NewStd("another writer holds the buffer")
	ErrClosed       = errors.NewStd("buffer is closed")
	ErrUnsupported  = errors.NewStd("shared buffers are not supported on this platform")

	errShortRegion = errors.NewStd("region is smaller than its header")
)

// Defaults used when a config leaves a field zero.
const (
	DefaultCapacity   = 1000
	DefaultHeartbeat  = 500 * time.Millisecond
	DefaultStaleAfter = 5 * time.Second

	// waitSlice caps a single futex sleep so ctx cancellation is noticed.
	waitSlice = 100 * time.Millisecond
)

// Info describes an attached region.
type Info struct {
	Path        string    `json:"path"`
	Capacity    uint64    `json:"capacity"`
	PayloadSize uint64    `json:"payload_size"`
	SlotStride  uint64    `json:"slot_stride"`
	Descriptor  string    `json:"descriptor"`
	Fingerprint uint64    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
	Published   uint64    `json:"published"`
}

func configError(path, format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("shmbuf").
		Category(errors.CategoryConfiguration).
		Context("path", path).
		Build()
}

func bufferError(err error, path, op string) error {
	return errors.New(err).
		Component("shmbuf").
		Category(errors.CategorySharedBuffer).
		Context("path", path).
		Context("operation", op).
		Build()
}
