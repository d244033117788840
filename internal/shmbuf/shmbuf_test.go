//go:build linux

package shmbuf

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observation"
)

// blockCodec stores a sequence-tagged block: an 8-byte value followed by the
// low byte of that value repeated, so torn copies are easy to spot.
type blockCodec struct {
	size int
	desc string
}

func newBlockCodec(size int) blockCodec {
	return blockCodec{size: size, desc: fmt.Sprintf("test/block/%d", size)}
}

func (c blockCodec) Size() int          { return c.size }
func (c blockCodec) Descriptor() string { return c.desc }

func (c blockCodec) Encode(dst []byte, v []byte) error {
	if len(v) != c.size {
		return fmt.Errorf("block is %d bytes, want %d", len(v), c.size)
	}
	copy(dst, v)
	return nil
}

func (c blockCodec) Decode(src []byte) ([]byte, error) {
	out := make([]byte, c.size)
	copy(out, src[:c.size])
	return out, nil
}

func (c blockCodec) block(v uint64) []byte {
	b := make([]byte, c.size)
	binary.LittleEndian.PutUint64(b, v)
	for i := 8; i < len(b); i++ {
		b[i] = byte(v)
	}
	return b
}

// consistent reports whether b is an untorn block and returns its value.
func consistent(b []byte) (uint64, bool) {
	v := binary.LittleEndian.Uint64(b)
	for i := 8; i < len(b); i++ {
		if b[i] != byte(v) {
			return v, false
		}
	}
	return v, true
}

func testConfig(capacity int) WriterConfig {
	return WriterConfig{
		Capacity:  capacity,
		Heartbeat: 20 * time.Millisecond,
		Logger:    logger.NewDiscardLogger(),
	}
}

func readerConfig() ReaderConfig {
	return ReaderConfig{StaleAfter: time.Second, Logger: logger.NewDiscardLogger()}
}

func regionPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "buffer")
}

func newPair(t *testing.T, codec Codec[[]byte], capacity int) (*Writer[[]byte], *Reader[[]byte]) {
	t.Helper()
	path := regionPath(t)

	w, err := Create[[]byte](path, codec, testConfig(capacity))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	r, err := Attach[[]byte](path, codec, readerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	return w, r
}

func TestEndToEndCapacityFour(t *testing.T) {
	t.Parallel()

	codec := newBlockCodec(64)
	w, r := newPair(t, codec, 4)

	for i := range uint64(5) {
		seq, err := w.Append(codec.block(100 + i))
		require.NoError(t, err)
		assert.Equal(t, i, seq)
	}

	assert.Equal(t, Evicted, r.Read(0).Status)

	res := r.Read(4)
	require.Equal(t, Available, res.Status)
	assert.Equal(t, codec.block(104), res.Value)

	assert.Equal(t, NotYetAvailable, r.Read(5).Status)
}

func TestReadBoundaries(t *testing.T) {
	t.Parallel()

	codec := newBlockCodec(32)
	for _, capacity := range []int{1, 3, 4, 7} {
		for n := capacity; n <= capacity*3+1; n++ {
			t.Run(fmt.Sprintf("K=%d/N=%d", capacity, n), func(t *testing.T) {
				t.Parallel()
				w, r := newPair(t, codec, capacity)
				for i := range n {
					_, err := w.Append(codec.block(uint64(i)))
					require.NoError(t, err)
				}

				N, K := uint64(n), uint64(capacity)
				for seq := range N + 3 {
					res := r.Read(seq)
					switch {
					case seq < N-K:
						assert.Equal(t, Evicted, res.Status, "seq %d", seq)
					case seq < N:
						require.Equal(t, Available, res.Status, "seq %d", seq)
						assert.Equal(t, codec.block(seq), res.Value)
					default:
						assert.Equal(t, NotYetAvailable, res.Status, "seq %d", seq)
					}
				}
			})
		}
	}
}

func TestTriCameraRoundTrip(t *testing.T) {
	t.Parallel()

	layout, err := observation.NewLayout(8, 6, 3)
	require.NoError(t, err)
	path := regionPath(t)

	w, err := CreateTriCamera(path, layout, testConfig(3))
	require.NoError(t, err)
	defer w.Close()

	r, err := AttachTriCamera(path, layout, readerConfig())
	require.NoError(t, err)
	defer r.Close()

	rng := rand.New(rand.NewPCG(1, 2))
	var in observation.TriCameraObservation
	for i := range in.Cameras {
		img := observation.NewImage(8, 6, 3)
		for j := range img.Pix {
			img.Pix[j] = byte(rng.IntN(256))
		}
		in.Cameras[i] = observation.New(img, time.Duration(1000+i)*time.Millisecond, uint64(i+1))
	}

	seq, err := w.Append(in)
	require.NoError(t, err)

	res := r.Read(seq)
	require.Equal(t, Available, res.Status)
	for i := range in.Cameras {
		assert.Equal(t, in.Cameras[i].Image.Pix, res.Value.Cameras[i].Image.Pix)
		assert.Equal(t, in.Cameras[i].Timestamp, res.Value.Cameras[i].Timestamp)
		assert.Equal(t, in.Cameras[i].FrameID, res.Value.Cameras[i].FrameID)
	}
}

func TestDiscoverTriCamera(t *testing.T) {
	t.Parallel()

	layout, err := observation.NewLayout(4, 2, 1)
	require.NoError(t, err)
	path := regionPath(t)

	w, err := CreateTriCamera(path, layout, testConfig(5))
	require.NoError(t, err)
	defer w.Close()
	_, err = w.Append(layout.Placeholder())
	require.NoError(t, err)

	info, err := Stat(path)
	require.NoError(t, err)
	assert.Equal(t, layout.Descriptor(), info.Descriptor)
	assert.Equal(t, uint64(5), info.Capacity)
	assert.Equal(t, uint64(1), info.Published)

	r, got, err := DiscoverTriCamera(path, readerConfig())
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, layout, got)
	assert.Equal(t, Available, r.Read(0).Status)

	// a region of another payload type is refused
	other := regionPath(t)
	bw, err := Create[[]byte](other, newBlockCodec(32), testConfig(2))
	require.NoError(t, err)
	defer bw.Close()
	_, _, err = DiscoverTriCamera(other, readerConfig())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = Stat(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestReadIsIdempotent(t *testing.T) {
	t.Parallel()

	codec := newBlockCodec(16)
	w, r := newPair(t, codec, 2)
	for i := range 5 {
		_, err := w.Append(codec.block(uint64(i)))
		require.NoError(t, err)
	}

	for _, seq := range []uint64{0, 3, 4, 9} {
		first := r.Read(seq)
		second := r.Read(seq)
		assert.Equal(t, first, second, "seq %d", seq)
	}
}

func TestConcurrentReadersNeverSeeTornPayloads(t *testing.T) {
	t.Parallel()

	const (
		appends = 3000
		readers = 4
	)
	codec := newBlockCodec(64 * 1024)
	w, r := newPair(t, codec, 8)

	var (
		wg      sync.WaitGroup
		done    atomic.Bool
		checked atomic.Int64
	)

	for range readers {
		wg.Go(func() {
			for !done.Load() {
				latest, ok := r.Latest()
				if !ok {
					continue
				}
				for _, seq := range []uint64{latest, latest - min(latest, 7)} {
					res := r.Read(seq)
					switch res.Status {
					case Available:
						v, ok := consistent(res.Value)
						if !assert.True(t, ok, "torn payload at seq %d", seq) {
							return
						}
						assert.Equal(t, seq, v)
						checked.Add(1)
					case Evicted, NotYetAvailable:
					default:
						t.Errorf("unexpected status %s", res.Status)
						return
					}
				}
			}
		})
	}

	for i := range appends {
		_, err := w.Append(codec.block(uint64(i)))
		require.NoError(t, err)
	}
	done.Store(true)
	wg.Wait()

	assert.Positive(t, checked.Load())
}

func TestWriterRestartContinuesNumbering(t *testing.T) {
	t.Parallel()

	codec := newBlockCodec(32)
	path := regionPath(t)

	w, err := Create[[]byte](path, codec, testConfig(4))
	require.NoError(t, err)
	assert.False(t, w.Reused())
	for i := range 3 {
		_, err := w.Append(codec.block(uint64(i)))
		require.NoError(t, err)
	}
	firstEpoch := w.Epoch()

	r, err := Attach[[]byte](path, codec, readerConfig())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, w.Close())
	st := r.WriterStatus()
	assert.True(t, st.Closed)
	assert.False(t, st.Alive)

	w2, err := Create[[]byte](path, codec, testConfig(4))
	require.NoError(t, err)
	defer w2.Close()

	assert.True(t, w2.Reused())
	assert.Equal(t, uint64(3), w2.Next())
	assert.NotEqual(t, firstEpoch, w2.Epoch())

	seq, err := w2.Append(codec.block(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)

	// the reader attached before the restart keeps working
	res := r.Read(3)
	require.Equal(t, Available, res.Status)
	assert.Equal(t, codec.block(3), res.Value)
	assert.Equal(t, codec.block(1), r.Read(1).Value)

	st = r.WriterStatus()
	assert.False(t, st.Closed)
	assert.True(t, st.Alive)
	assert.Equal(t, w2.Epoch(), st.Epoch)
	assert.Equal(t, uint64(2), st.Generation)
	assert.Equal(t, os.Getpid(), st.PID)
}

func TestAttachLayoutMismatchIsConfigurationError(t *testing.T) {
	t.Parallel()

	codec := newBlockCodec(32)
	path := regionPath(t)
	w, err := Create[[]byte](path, codec, testConfig(4))
	require.NoError(t, err)
	defer w.Close()

	tests := []struct {
		name  string
		codec blockCodec
		cfg   ReaderConfig
	}{
		{"payload size", newBlockCodec(48), readerConfig()},
		{"descriptor", blockCodec{size: 32, desc: "test/other"}, readerConfig()},
		{"capacity", codec, ReaderConfig{ExpectCapacity: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Attach[[]byte](path, tt.codec, tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration), "got %v", err)
		})
	}

	_, err = Attach[[]byte](path, codec, ReaderConfig{ExpectCapacity: 4})
	require.NoError(t, err)
}

func TestAttachRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := regionPath(t)
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o600))
	_, err := Attach[[]byte](path, newBlockCodec(8), readerConfig())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	require.NoError(t, os.WriteFile(path, make([]byte, 2*headerSize), 0o600))
	_, err = Attach[[]byte](path, newBlockCodec(8), readerConfig())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestCreateReplacesDifferentLayout(t *testing.T) {
	t.Parallel()

	small := newBlockCodec(32)
	large := newBlockCodec(96)
	path := regionPath(t)

	w, err := Create[[]byte](path, small, testConfig(4))
	require.NoError(t, err)
	_, err = w.Append(small.block(7))
	require.NoError(t, err)

	old, err := Attach[[]byte](path, small, readerConfig())
	require.NoError(t, err)
	defer old.Close()
	require.NoError(t, w.Close())

	w2, err := Create[[]byte](path, large, testConfig(2))
	require.NoError(t, err)
	defer w2.Close()
	assert.False(t, w2.Reused())
	assert.Equal(t, uint64(0), w2.Next())

	// the old mapping is frozen and marked closed
	assert.True(t, old.WriterStatus().Closed)
	assert.Equal(t, small.block(7), old.Read(0).Value)

	_, err = Attach[[]byte](path, small, readerConfig())
	require.Error(t, err)
}

func TestSecondWriterIsRejected(t *testing.T) {
	t.Parallel()

	codec := newBlockCodec(16)
	path := regionPath(t)
	w, err := Create[[]byte](path, codec, testConfig(2))
	require.NoError(t, err)
	defer w.Close()

	_, err = Create[[]byte](path, codec, testConfig(2))
	require.ErrorIs(t, err, ErrWriterActive)
}

func TestWaitForNext(t *testing.T) {
	t.Parallel()

	codec := newBlockCodec(16)
	w, r := newPair(t, codec, 4)
	_, err := w.Append(codec.block(0))
	require.NoError(t, err)

	t.Run("available", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Go(func() {
			time.Sleep(30 * time.Millisecond)
			_, err := w.Append(codec.block(1))
			assert.NoError(t, err)
		})

		seq, status, err := r.WaitForNext(t.Context(), 0, 2*time.Second)
		wg.Wait()
		require.NoError(t, err)
		assert.Equal(t, Available, status)
		assert.Equal(t, uint64(1), seq)
	})

	t.Run("already published", func(t *testing.T) {
		status, err := r.WaitForSequence(t.Context(), 0, 0)
		require.NoError(t, err)
		assert.Equal(t, Available, status)
	})

	t.Run("timeout", func(t *testing.T) {
		start := time.Now()
		_, status, err := r.WaitForNext(t.Context(), 5, 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, TimedOut, status)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		time.AfterFunc(20*time.Millisecond, cancel)
		_, status, err := r.WaitForNext(ctx, 5, 5*time.Second)
		assert.Equal(t, TimedOut, status)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestCursorReportsGaps(t *testing.T) {
	t.Parallel()

	codec := newBlockCodec(16)
	w, r := newPair(t, codec, 4)

	c := r.CursorAt(0)
	for i := range 10 {
		_, err := w.Append(codec.block(uint64(i)))
		require.NoError(t, err)
	}

	assert.Equal(t, uint64(5), r.Gap(0))

	e, status, err := c.Next(t.Context(), time.Second)
	require.NoError(t, err)
	require.Equal(t, Available, status)
	assert.Equal(t, uint64(6), e.Seq)
	assert.Equal(t, uint64(6), e.Skipped)
	assert.Equal(t, codec.block(6), e.Value)

	for want := uint64(7); want < 10; want++ {
		e, status, err = c.Next(t.Context(), time.Second)
		require.NoError(t, err)
		require.Equal(t, Available, status)
		assert.Equal(t, want, e.Seq)
		assert.Zero(t, e.Skipped)
	}

	_, status, err = c.Next(t.Context(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, status)
	assert.Equal(t, uint64(10), c.Position())
}

func TestGap(t *testing.T) {
	t.Parallel()

	codec := newBlockCodec(16)
	w, r := newPair(t, codec, 4)
	assert.Zero(t, r.Gap(0))

	for i := range 10 {
		_, err := w.Append(codec.block(uint64(i)))
		require.NoError(t, err)
	}

	// retained: 6..9
	assert.Equal(t, uint64(5), r.Gap(0))
	assert.Equal(t, uint64(1), r.Gap(4))
	assert.Zero(t, r.Gap(5))
	assert.Zero(t, r.Gap(9))

	oldest, ok := r.Oldest()
	require.True(t, ok)
	assert.Equal(t, uint64(6), oldest)
	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(9), latest)
}

func TestWriterStatusHeartbeat(t *testing.T) {
	t.Parallel()

	codec := newBlockCodec(16)
	w, r := newPair(t, codec, 2)

	first := r.WriterStatus()
	assert.True(t, first.Alive)
	assert.True(t, first.ProcessAlive)
	assert.Equal(t, w.Epoch(), first.Epoch)

	assert.Eventually(t, func() bool {
		return r.WriterStatus().Heartbeat.After(first.Heartbeat)
	}, time.Second, 10*time.Millisecond)
}

func TestAppendAfterCloseAndRemoveOnClose(t *testing.T) {
	t.Parallel()

	codec := newBlockCodec(16)
	path := regionPath(t)
	cfg := testConfig(2)
	cfg.RemoveOnClose = true

	w, err := Create[[]byte](path, codec, cfg)
	require.NoError(t, err)
	_, err = w.Append(codec.block(1))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, uint64(1), w.Info().Published)

	_, err = w.Append(codec.block(2))
	require.ErrorIs(t, err, ErrClosed)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestEncodeFailureDoesNotPublish(t *testing.T) {
	t.Parallel()

	codec := newBlockCodec(16)
	w, r := newPair(t, codec, 4)

	_, err := w.Append(codec.block(0))
	require.NoError(t, err)
	_, err = w.Append([]byte("short"))
	require.Error(t, err)

	assert.Equal(t, uint64(1), w.Next())
	assert.Equal(t, NotYetAvailable, r.Read(1).Status)

	seq, err := w.Append(codec.block(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, codec.block(1), r.Read(1).Value)

	t.Run("full ring keeps oldest entry", func(t *testing.T) {
		w, r := newPair(t, codec, 4)
		for v := range uint64(4) {
			_, err := w.Append(codec.block(v))
			require.NoError(t, err)
		}
		_, err := w.Append([]byte("short"))
		require.Error(t, err)

		assert.Equal(t, uint64(4), w.Next())
		res := r.Read(0)
		require.Equal(t, Available, res.Status)
		assert.Equal(t, codec.block(0), res.Value)
	})

	t.Run("partial write is not served", func(t *testing.T) {
		scribble := scribblingCodec{blockCodec: codec}
		w, r := newPair(t, scribble, 4)
		for v := range uint64(4) {
			_, err := w.Append(codec.block(v))
			require.NoError(t, err)
		}
		_, err := w.Append([]byte("short"))
		require.Error(t, err)

		assert.Equal(t, Evicted, r.Read(0).Status)
		assert.Equal(t, codec.block(1), r.Read(1).Value)
	})
}

// scribblingCodec damages dst before rejecting a value.
type scribblingCodec struct{ blockCodec }

func (c scribblingCodec) Encode(dst []byte, v []byte) error {
	if len(v) != c.size {
		dst[0] ^= 0xff
	}
	return c.blockCodec.Encode(dst, v)
}

func TestReaderCloseIsSafe(t *testing.T) {
	t.Parallel()

	codec := newBlockCodec(16)
	path := regionPath(t)
	w, err := Create[[]byte](path, codec, testConfig(2))
	require.NoError(t, err)
	defer w.Close()

	r, err := Attach[[]byte](path, codec, readerConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Go(func() {
		_, _ = r.WaitForSequence(t.Context(), 10, time.Second)
	})
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Close())
	wg.Wait()

	assert.Equal(t, NotYetAvailable, r.Read(0).Status)
	_, ok := r.Latest()
	assert.False(t, ok)
	assert.True(t, r.WriterStatus().Closed)
}
