package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observability"
	"github.com/tphakala/tricam/internal/observation"
	"github.com/tphakala/tricam/internal/pose"
	"github.com/tphakala/tricam/internal/shmbuf"
)

// memBuffer is an in-process ring with the shared buffer's read semantics.
type memBuffer struct {
	mu       sync.Mutex
	capacity uint64
	entries  []observation.TriCameraObservation
	changed  chan struct{}
}

func newMemBuffer(capacity uint64) *memBuffer {
	return &memBuffer{capacity: capacity, changed: make(chan struct{})}
}

func (b *memBuffer) append(obs observation.TriCameraObservation) {
	b.mu.Lock()
	b.entries = append(b.entries, obs)
	ch := b.changed
	b.changed = make(chan struct{})
	b.mu.Unlock()
	close(ch)
}

func (b *memBuffer) Read(seq uint64) shmbuf.TriCameraResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := uint64(len(b.entries))
	switch {
	case seq >= n:
		return shmbuf.TriCameraResult{Status: shmbuf.NotYetAvailable, Seq: seq}
	case n > b.capacity && seq < n-b.capacity:
		return shmbuf.TriCameraResult{Status: shmbuf.Evicted, Seq: seq}
	}
	return shmbuf.TriCameraResult{Status: shmbuf.Available, Seq: seq, Value: b.entries[seq]}
}

func (b *memBuffer) Latest() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return 0, false
	}
	return uint64(len(b.entries) - 1), true
}

func (b *memBuffer) Oldest() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := uint64(len(b.entries))
	if n == 0 {
		return 0, false
	}
	if n > b.capacity {
		return n - b.capacity, true
	}
	return 0, true
}

func (b *memBuffer) WaitForSequence(ctx context.Context, seq uint64, timeout time.Duration) (shmbuf.Status, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		b.mu.Lock()
		published := uint64(len(b.entries)) > seq
		ch := b.changed
		b.mu.Unlock()
		if published {
			return shmbuf.Available, nil
		}
		select {
		case <-ch:
		case <-timer.C:
			return shmbuf.TimedOut, nil
		case <-ctx.Done():
			return shmbuf.TimedOut, ctx.Err()
		}
	}
}

func (b *memBuffer) WriterStatus() shmbuf.WriterStatus {
	return shmbuf.WriterStatus{PID: 42, Alive: true, ProcessAlive: true}
}

func (b *memBuffer) Info() shmbuf.Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	return shmbuf.Info{Path: "mem", Capacity: b.capacity, Published: uint64(len(b.entries)), Fingerprint: 7}
}

var testLayout = observation.Layout{Width: 4, Height: 3, Channels: 3}

func entry(n int) observation.TriCameraObservation {
	tri := testLayout.Placeholder()
	for i := range tri.Cameras {
		if n == 0 && i == 2 {
			continue // camera300 has not captured yet
		}
		img := observation.NewImage(testLayout.Width, testLayout.Height, testLayout.Channels)
		for j := range img.Pix {
			img.Pix[j] = byte(n + i + j)
		}
		tri.Cameras[i] = observation.New(img, time.Duration(n+1)*time.Millisecond, uint64(n+1))
	}
	return tri
}

func newTestServer(t *testing.T, buf Buffer, opts ...Option) *Server {
	t.Helper()
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	opts = append([]Option{WithLogger(logger.NewDiscardLogger()), WithMetrics(m), WithVersion("test")}, opts...)
	return New(buf, testLayout, &conf.APISettings{ImageCacheTTL: time.Minute}, opts...)
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, target, http.NoBody)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func filledBuffer(n int) *memBuffer {
	b := newMemBuffer(4)
	for i := range n {
		b.append(entry(i))
	}
	return b
}

func TestObservationStatuses(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, filledBuffer(5))

	tests := []struct {
		target string
		code   int
		status string
	}{
		{"/api/v1/observations/0", http.StatusGone, "evicted"},
		{"/api/v1/observations/1", http.StatusOK, "available"},
		{"/api/v1/observations/4", http.StatusOK, "available"},
		{"/api/v1/observations/5", http.StatusNotFound, "not_yet_available"},
		{"/api/v1/observations/latest", http.StatusOK, "available"},
	}
	for _, tt := range tests {
		rec := get(t, s, tt.target)
		require.Equal(t, tt.code, rec.Code, tt.target)
		body := decode[map[string]any](t, rec)
		assert.Equal(t, tt.status, body["status"], tt.target)
	}

	rec := get(t, s, "/api/v1/observations/0")
	st := decode[StatusResponse](t, rec)
	assert.Equal(t, uint64(1), st.Oldest)
	assert.Equal(t, uint64(4), st.Latest)

	rec = get(t, s, "/api/v1/observations/x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[ErrorResponse](t, rec).CorrelationID)
}

func TestObservationMetadata(t *testing.T) {
	t.Parallel()

	b := newMemBuffer(4)
	b.append(entry(0))
	s := newTestServer(t, b)

	rec := get(t, s, "/api/v1/observations/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	obs := decode[ObservationResponse](t, rec)
	assert.Equal(t, uint64(0), obs.Seq)
	require.Len(t, obs.Cameras, 3)
	assert.Equal(t, "camera60", obs.Cameras[0].Camera)
	assert.Equal(t, uint64(1), obs.Cameras[0].FrameID)
	assert.Equal(t, int64(time.Millisecond), obs.Cameras[0].Timestamp)
	assert.True(t, obs.Cameras[0].Captured)
	assert.False(t, obs.Cameras[2].Captured)
	assert.Equal(t, 4, obs.Cameras[2].Width)
}

func TestLatestOnEmptyBuffer(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newMemBuffer(4))
	rec := get(t, s, "/api/v1/observations/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_yet_available", decode[StatusResponse](t, rec).Status)
}

func TestWait(t *testing.T) {
	t.Parallel()

	b := filledBuffer(2)
	s := newTestServer(t, b)

	// already published
	rec := get(t, s, "/api/v1/observations/wait?after=0&timeout=10ms")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(1), decode[ObservationResponse](t, rec).Seq)

	// times out
	rec = get(t, s, "/api/v1/observations/wait?after=1&timeout=20ms")
	require.Equal(t, http.StatusRequestTimeout, rec.Code)
	st := decode[StatusResponse](t, rec)
	assert.Equal(t, "timed_out", st.Status)
	assert.Equal(t, uint64(2), st.Seq)

	// released by a new entry
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- get(t, s, "/api/v1/observations/wait?after=1&timeout=5s") }()
	time.Sleep(20 * time.Millisecond)
	b.append(entry(2))
	rec = <-done
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(2), decode[ObservationResponse](t, rec).Seq)

	// without after the wait starts past the latest entry
	rec = get(t, s, "/api/v1/observations/wait?timeout=10ms")
	require.Equal(t, http.StatusRequestTimeout, rec.Code)
	assert.Equal(t, uint64(3), decode[StatusResponse](t, rec).Seq)

	rec = get(t, s, "/api/v1/observations/wait?timeout=soon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// the largest sequence has no successor; it must not wrap to entry 0
	rec = get(t, s, "/api/v1/observations/wait?after=18446744073709551615&timeout=10ms")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "after parameter out of range", errResp.Message)
	assert.NotEmpty(t, errResp.CorrelationID)
}

func TestImage(t *testing.T) {
	t.Parallel()

	b := filledBuffer(2)
	s := newTestServer(t, b)

	rec := get(t, s, "/api/v1/observations/1/cameras/camera180/image")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	// served from cache the second time
	again := get(t, s, "/api/v1/observations/1/cameras/180/image?format=png")
	assert.Equal(t, rec.Body.Bytes(), again.Body.Bytes())
	assert.Equal(t, 1, s.images.ItemCount())

	raw := get(t, s, "/api/v1/observations/1/cameras/camera300/image?format=raw")
	require.Equal(t, http.StatusOK, raw.Code)
	assert.Equal(t, "2", raw.Header().Get("X-Frame-Id"))
	assert.Equal(t, "3", raw.Header().Get("X-Channels"))
	assert.Equal(t, entry(1).Cameras[2].Image.Pix, raw.Body.Bytes())

	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/v1/observations/9/cameras/camera60/image").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/v1/observations/1/cameras/camera90/image").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/v1/observations/1/cameras/camera60/image?format=bmp").Code)
}

func TestPose(t *testing.T) {
	t.Parallel()

	b := filledBuffer(1)

	s := newTestServer(t, b)
	assert.Equal(t, http.StatusNotImplemented, get(t, s, "/api/v1/observations/0/cameras/camera60/pose").Code)

	est := pose.EstimatorFunc(func(_ context.Context, obs observation.Observation) (pose.Result, error) {
		if obs.IsPlaceholder() {
			return pose.Result{}, nil
		}
		if obs.Image.Pix[0] == 1 {
			return pose.Result{}, errors.NewStd("estimator crashed")
		}
		return pose.Result{RotationVector: &[3]float64{1, 2, 3}, TranslationVector: &[3]float64{4, 5, 6}}, nil
	})
	s = newTestServer(t, b, WithEstimator(est))

	rec := get(t, s, "/api/v1/observations/0/cameras/camera60/pose")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[PoseResponse](t, rec)
	assert.True(t, resp.Found)
	assert.Equal(t, "camera60", resp.Camera)
	assert.Equal(t, [3]float64{4, 5, 6}, *resp.TranslationVector)

	rec = get(t, s, "/api/v1/observations/0/cameras/camera300/pose")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, false, body["found"])
	assert.Nil(t, body["rotation_vector"])

	assert.Equal(t, http.StatusBadGateway, get(t, s, "/api/v1/observations/0/cameras/camera180/pose").Code)
}

func TestBufferAndHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, filledBuffer(6), WithStats(func() any { return map[string]int{"cycles": 6} }))

	rec := get(t, s, "/api/v1/buffer")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[BufferResponse](t, rec)
	require.NotNil(t, resp.Oldest)
	require.NotNil(t, resp.Latest)
	assert.Equal(t, uint64(2), *resp.Oldest)
	assert.Equal(t, uint64(5), *resp.Latest)
	assert.Equal(t, testLayout.Descriptor(), resp.Layout.Descriptor)
	assert.Equal(t, 42, resp.Writer.PID)
	assert.NotNil(t, resp.Stats)

	rec = get(t, s, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "test", health["version"])
	assert.Equal(t, true, health["writer_alive"])
}

func TestRunShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	s := New(newMemBuffer(1), testLayout, &conf.APISettings{Listen: "127.0.0.1:0"}, WithLogger(logger.NewDiscardLogger()))
	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}
