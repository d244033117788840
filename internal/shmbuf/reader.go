package shmbuf

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observability/metrics"
)

// ReaderConfig configures Attach.
type ReaderConfig struct {
	// ExpectCapacity, when non-zero, must equal the region capacity.
	ExpectCapacity int
	// StaleAfter is the heartbeat age after which the writer is considered gone.
	StaleAfter time.Duration
	Logger     logger.Logger
	Metrics    *metrics.BufferMetrics
}

// Reader is a read-only attachment to a region. It is safe for concurrent use
// and never blocks the writer.
type Reader[T any] struct {
	codec Codec[T]
	path  string
	cfg   ReaderConfig
	log   logger.Logger

	reg *region
	hdr header
	geo geometry

	scratch sync.Pool

	mu     sync.RWMutex
	closed bool
}

// WriterStatus reports writer liveness as seen from a reader.
type WriterStatus struct {
	PID          int       `json:"pid"`
	Epoch        uuid.UUID `json:"epoch"`
	Generation   uint64    `json:"generation"`
	Heartbeat    time.Time `json:"heartbeat"`
	Closed       bool      `json:"closed"`
	ProcessAlive bool      `json:"process_alive"`
	Alive        bool      `json:"alive"`
}

// Attach maps the region at path read-only. The region must have been created
// with a codec of the same size and descriptor; any layout difference is a
// configuration error.
func Attach[T any](path string, codec Codec[T], cfg ReaderConfig) (*Reader[T], error) {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = log
	}

	geo := newGeometry(cfg.ExpectCapacity, codec.Size(), codec.Descriptor())

	reg, fileSize, err := openRegion(path, 0, false)
	if err != nil {
		if errors.Is(err, errShortRegion) {
			return nil, configError(path, "region is %d bytes, smaller than its header", fileSize)
		}
		return nil, bufferError(err, path, "attach")
	}

	hdr := header{mem: reg.mem}
	if reason := hdr.check(geo, fileSize, cfg.ExpectCapacity > 0); reason != "" {
		_ = reg.close()
		return nil, configError(path, "cannot attach to shared buffer: %s (want %q, region has %q)",
			reason, codec.Descriptor(), hdr.descriptor())
	}
	geo.capacity = hdr.capacity()

	r := &Reader[T]{
		codec: codec,
		path:  path,
		cfg:   cfg,
		log:   cfg.Logger.With(logger.String("path", path)),
		reg:   reg,
		hdr:   hdr,
		geo:   geo,
	}
	r.scratch.New = func() any {
		b := make([]byte, geo.payloadSize)
		return &b
	}

	r.log.Debug("attached to shared buffer",
		logger.Uint64("capacity", geo.capacity),
		logger.Uint64("published", hdr.published().Load()))
	return r, nil
}

// Read returns a copy of the entry with sequence number seq. Reading has no
// side effects, so repeated reads of a stable entry return the same result.
func (r *Reader[T]) Read(seq uint64) Result[T] {
	if !r.acquire() {
		return Result[T]{Status: NotYetAvailable, Seq: seq}
	}
	defer r.mu.RUnlock()

	res := r.read(seq)
	r.cfg.Metrics.RecordRead(res.Status.String())
	return res
}

func (r *Reader[T]) read(seq uint64) Result[T] {
	pub := r.hdr.published().Load()
	if seq >= pub {
		return Result[T]{Status: NotYetAvailable, Seq: seq}
	}
	if pub > r.geo.capacity && seq < pub-r.geo.capacity {
		return Result[T]{Status: Evicted, Seq: seq}
	}

	bufp := r.scratch.Get().(*[]byte)
	defer r.scratch.Put(bufp)
	buf := *bufp

	if !r.copySlot(seq, buf) {
		return Result[T]{Status: Evicted, Seq: seq}
	}

	v, err := r.codec.Decode(buf)
	if err != nil {
		r.log.Error("verified slot failed to decode",
			logger.Uint64("sequence", seq),
			logger.Error(err))
		return Result[T]{Status: Evicted, Seq: seq}
	}
	return Result[T]{Status: Available, Seq: seq, Value: v}
}

// copySlot copies seq's payload into buf and reports whether the copy is a
// complete write of seq. The stamp is compared before and after the copy and
// the checksum guards against torn reads the stamps cannot see.
func (r *Reader[T]) copySlot(seq uint64, buf []byte) bool {
	s := slot{mem: r.reg.mem[r.geo.slotOffset(seq):]}
	want := completeStamp(seq)

	if s.stamp().Load() != want {
		return false
	}
	sum := s.checksum().Load()
	copy(buf, s.payload(r.geo.payloadSize))
	if s.stamp().Load() != want {
		return false
	}
	return xxhash.Sum64(buf) == sum
}

// acquire pins the mapping against Close. Callers release with r.mu.RUnlock.
func (r *Reader[T]) acquire() bool {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return false
	}
	return true
}

func (r *Reader[T]) published() (uint64, bool) {
	if !r.acquire() {
		return 0, false
	}
	defer r.mu.RUnlock()
	return r.hdr.published().Load(), true
}

// Latest returns the newest published sequence number.
func (r *Reader[T]) Latest() (uint64, bool) {
	pub, _ := r.published()
	if pub == 0 {
		return 0, false
	}
	return pub - 1, true
}

// Oldest returns the oldest sequence number still retained.
func (r *Reader[T]) Oldest() (uint64, bool) {
	pub, _ := r.published()
	if pub == 0 {
		return 0, false
	}
	return r.oldest(pub), true
}

func (r *Reader[T]) oldest(pub uint64) uint64 {
	if pub > r.geo.capacity {
		return pub - r.geo.capacity
	}
	return 0
}

// Gap returns how many entries after lastSeen have already been evicted,
// which is what a reader that fell more than the capacity behind has lost.
func (r *Reader[T]) Gap(lastSeen uint64) uint64 {
	pub, _ := r.published()
	if pub == 0 {
		return 0
	}
	oldest := r.oldest(pub)
	if lastSeen+1 >= oldest {
		return 0
	}
	return oldest - (lastSeen + 1)
}

// WaitForSequence blocks until seq has been published, timeout elapses or ctx
// is done. A cancelled ctx returns TimedOut together with ctx.Err().
func (r *Reader[T]) WaitForSequence(ctx context.Context, seq uint64, timeout time.Duration) (Status, error) {
	status, err := r.waitForSequence(ctx, seq, timeout)
	r.cfg.Metrics.RecordWait(status.String())
	return status, err
}

func (r *Reader[T]) waitForSequence(ctx context.Context, seq uint64, timeout time.Duration) (Status, error) {
	deadline := time.Now().Add(timeout)

	for {
		status, done, err := r.waitOnce(ctx, seq, deadline)
		if done {
			return status, err
		}
	}
}

// waitOnce sleeps at most waitSlice while holding the mapping, so Close
// waits for in-flight sleepers instead of unmapping under them.
func (r *Reader[T]) waitOnce(ctx context.Context, seq uint64, deadline time.Time) (Status, bool, error) {
	if !r.acquire() {
		return TimedOut, true, ErrClosed
	}
	defer r.mu.RUnlock()

	word := r.hdr.notify()
	observed := word.Load()
	if r.hdr.published().Load() > seq {
		return Available, true, nil
	}
	if err := ctx.Err(); err != nil {
		return TimedOut, true, err
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return TimedOut, true, nil
	}
	if err := futexWait(word, observed, min(remaining, waitSlice)); err != nil {
		return TimedOut, true, bufferError(err, r.path, "wait")
	}
	return 0, false, nil
}

// WaitForNext blocks until the entry after after is published and returns its
// sequence number, or TimedOut.
func (r *Reader[T]) WaitForNext(ctx context.Context, after uint64, timeout time.Duration) (uint64, Status, error) {
	next := after + 1
	status, err := r.WaitForSequence(ctx, next, timeout)
	if status != Available {
		return 0, status, err
	}
	return next, Available, nil
}

// WriterStatus reports the writer's liveness. A writer is alive when it has
// not closed the region, its process exists and its heartbeat is recent.
func (r *Reader[T]) WriterStatus() WriterStatus {
	if !r.acquire() {
		return WriterStatus{Closed: true}
	}
	epoch, gen := r.hdr.epoch()
	st := WriterStatus{
		PID:        int(r.hdr.pid().Load()),
		Epoch:      epoch,
		Generation: gen,
		Heartbeat:  time.Unix(0, r.hdr.heartbeat().Load()),
		Closed:     r.hdr.closed(),
	}
	r.mu.RUnlock()

	if st.PID > 0 {
		exists, err := process.PidExists(int32(st.PID))
		if err != nil {
			r.log.Debug("writer process lookup failed", logger.Int("pid", st.PID), logger.Error(err))
		}
		st.ProcessAlive = exists
	}

	age := time.Since(st.Heartbeat)
	st.Alive = !st.Closed && st.ProcessAlive && age < r.cfg.StaleAfter
	r.cfg.Metrics.UpdateWriterStatus(st.Alive, age.Seconds())
	return st
}

// Info describes the region.
func (r *Reader[T]) Info() Info {
	if !r.acquire() {
		return Info{Path: r.path}
	}
	defer r.mu.RUnlock()
	return regionInfo(r.path, r.hdr)
}

// Close unmaps the region. Reads after Close report NotYetAvailable.
func (r *Reader[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.reg.close(); err != nil {
		return bufferError(err, r.path, "detach")
	}
	return nil
}
