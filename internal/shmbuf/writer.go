package shmbuf

import (
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observability/metrics"
)

// WriterConfig configures Create. Zero values select the package defaults.
type WriterConfig struct {
	Capacity      int           // number of entries retained
	Heartbeat     time.Duration // liveness update interval
	RemoveOnClose bool          // unlink the region file on Close
	Logger        logger.Logger
	Metrics       *metrics.BufferMetrics
}

// Writer is the single owner of a region. Append is safe for concurrent use
// but entries are published strictly in call order.
type Writer[T any] struct {
	codec Codec[T]
	path  string
	cfg   WriterConfig
	log   logger.Logger

	lock *os.File
	reg  *region
	hdr  header
	geo  geometry

	epoch  uuid.UUID
	reused bool

	mu     sync.Mutex
	closed bool
	final  Info // snapshot taken by Close

	stop chan struct{}
	wg   sync.WaitGroup
}

// Create opens the region at path for exclusive writing. If a region with the
// same layout already exists it is reused and numbering continues from its
// published count, so attached readers keep their cursors. A region with a
// different layout is marked closed and replaced by a fresh file; readers
// still mapping the old file see it frozen.
func Create[T any](path string, codec Codec[T], cfg WriterConfig) (*Writer[T], error) {
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Logger == nil {
		cfg.Logger = log
	}
	if cfg.Capacity < 0 {
		return nil, configError(path, "capacity %d must be positive", cfg.Capacity)
	}
	if codec.Size() <= 0 {
		return nil, configError(path, "codec payload size %d must be positive", codec.Size())
	}
	if len(codec.Descriptor()) > maxDescriptorLen {
		return nil, configError(path, "codec descriptor longer than %d bytes", maxDescriptorLen)
	}

	geo := newGeometry(cfg.Capacity, codec.Size(), codec.Descriptor())

	lock, err := lockFile(path)
	if err != nil {
		if errors.Is(err, ErrWriterActive) {
			return nil, errors.New(ErrWriterActive).
				Component("shmbuf").
				Category(errors.CategoryState).
				Context("path", path).
				Build()
		}
		return nil, bufferError(err, path, "lock")
	}

	reg, reused, err := prepareRegion(path, geo, cfg.Logger)
	if err != nil {
		_ = unlockFile(lock)
		return nil, err
	}

	w := &Writer[T]{
		codec:  codec,
		path:   path,
		cfg:    cfg,
		log:    cfg.Logger.With(logger.String("path", path)),
		lock:   lock,
		reg:    reg,
		hdr:    header{mem: reg.mem},
		geo:    geo,
		epoch:  uuid.New(),
		reused: reused,
		stop:   make(chan struct{}),
	}

	w.hdr.claim(os.Getpid(), w.epoch, time.Now())
	w.hdr.notify().Add(1)
	futexWake(w.hdr.notify())

	w.log.Info("shared buffer writer ready",
		logger.Bool("reused", reused),
		logger.Uint64("next_sequence", w.hdr.published().Load()),
		logger.Int("capacity", cfg.Capacity),
		logger.Uint64("slot_stride", geo.stride),
		logger.String("epoch", w.epoch.String()))

	w.wg.Go(w.heartbeatLoop)
	return w, nil
}

// prepareRegion maps a compatible existing region or creates a fresh one.
func prepareRegion(path string, geo geometry, log logger.Logger) (*region, bool, error) {
	reg, fileSize, err := openRegion(path, 0, true)
	switch {
	case err == nil:
		hdr := header{mem: reg.mem}
		reason := hdr.check(geo, fileSize, true)
		if reason == "" {
			return reg, true, nil
		}
		log.Warn("replacing shared buffer with a different layout",
			logger.String("path", path),
			logger.String("reason", reason))
		if hdr.hasMagic() {
			hdr.flags().Or(flagClosed)
			hdr.notify().Add(1)
			futexWake(hdr.notify())
		}
		_ = reg.close()
	case os.IsNotExist(err):
	case errors.Is(err, errShortRegion):
		log.Warn("replacing truncated shared buffer", logger.String("path", path))
	default:
		return nil, false, bufferError(err, path, "open")
	}

	// Unlink instead of truncating so readers of the old file never fault.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, false, bufferError(err, path, "remove")
	}
	reg, err = createRegion(path, geo.fileSize())
	if err != nil {
		return nil, false, bufferError(err, path, "create")
	}
	header{mem: reg.mem}.init(geo, time.Now())
	return reg, false, nil
}

// Append copies v into the next slot and publishes it. It never waits for
// readers; once the ring is full the oldest entry is overwritten.
func (w *Writer[T]) Append(v T) (uint64, error) {
	start := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}

	seq := w.hdr.published().Load()
	s := slot{mem: w.reg.mem[w.geo.slotOffset(seq):]}
	payload := s.payload(w.geo.payloadSize)

	prev := s.stamp().Swap(writingStamp(seq))
	if err := w.codec.Encode(payload, v); err != nil {
		// The slot still belongs to seq-K. If the codec wrote nothing that
		// entry stays readable; a partial write fails its checksum.
		s.stamp().Store(prev)
		w.cfg.Metrics.RecordAppend(metrics.StatusError, 0, seq)
		return 0, errors.New(err).
			Component("shmbuf").
			Context("sequence", seq).
			Context("operation", "append").
			Build()
	}
	s.checksum().Store(xxhash.Sum64(payload))
	s.stamp().Store(completeStamp(seq))
	w.hdr.published().Store(seq + 1)

	w.hdr.heartbeat().Store(time.Now().UnixNano())
	w.hdr.notify().Add(1)
	futexWake(w.hdr.notify())

	w.cfg.Metrics.RecordAppend(metrics.StatusOK, time.Since(start).Seconds(), seq+1)
	return seq, nil
}

func (w *Writer[T]) heartbeatLoop() {
	ticker := time.NewTicker(w.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case now := <-ticker.C:
			w.hdr.heartbeat().Store(now.UnixNano())
		}
	}
}

// Next returns the sequence number the next Append will use.
func (w *Writer[T]) Next() uint64 {
	return w.Info().Published
}

// Reused reports whether Create continued an existing region.
func (w *Writer[T]) Reused() bool {
	return w.reused
}

// Epoch identifies this writer incarnation.
func (w *Writer[T]) Epoch() uuid.UUID {
	return w.epoch
}

// Path returns the region file path.
func (w *Writer[T]) Path() string {
	return w.path
}

// Info describes the region.
func (w *Writer[T]) Info() Info {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.final
	}
	return regionInfo(w.path, w.hdr)
}

// Close marks the region closed, stops the heartbeat and releases the
// mapping and the writer lock. The region file stays readable unless
// RemoveOnClose is set.
func (w *Writer[T]) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.final = regionInfo(w.path, w.hdr)
	w.mu.Unlock()

	close(w.stop)
	w.wg.Wait()

	w.hdr.flags().Or(flagClosed)
	w.hdr.notify().Add(1)
	futexWake(w.hdr.notify())

	var errs []error
	if err := w.reg.close(); err != nil {
		errs = append(errs, bufferError(err, w.path, "unmap"))
	}
	if w.cfg.RemoveOnClose {
		if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, bufferError(err, w.path, "remove"))
		}
	}
	if err := unlockFile(w.lock); err != nil {
		errs = append(errs, bufferError(err, w.path, "unlock"))
	}

	w.log.Info("shared buffer writer closed", logger.Uint64("published", w.final.Published))
	return errors.Join(errs...)
}

func regionInfo(path string, hdr header) Info {
	return Info{
		Path:        path,
		Capacity:    hdr.capacity(),
		PayloadSize: hdr.payloadSize(),
		SlotStride:  hdr.stride(),
		Descriptor:  hdr.descriptor(),
		Fingerprint: hdr.fingerprint(),
		CreatedAt:   hdr.createdAt(),
		Published:   hdr.published().Load(),
	}
}
