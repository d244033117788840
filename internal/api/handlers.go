package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observability/metrics"
	"github.com/tphakala/tricam/internal/observation"
	"github.com/tphakala/tricam/internal/pose"
	"github.com/tphakala/tricam/internal/shmbuf"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// StatusResponse reports a buffer entry that cannot be returned. These are
// expected outcomes, not errors.
type StatusResponse struct {
	Seq    uint64 `json:"seq"`
	Status string `json:"status"`
	Oldest uint64 `json:"oldest,omitempty"`
	Latest uint64 `json:"latest,omitempty"`
}

// CameraMeta describes one camera slot of an observation.
type CameraMeta struct {
	Camera    string `json:"camera"`
	FrameID   uint64 `json:"frame_id"`
	Timestamp int64  `json:"timestamp_ns"` // CLOCK_MONOTONIC
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Channels  int    `json:"channels"`
	Captured  bool   `json:"captured"` // false for the placeholder before a camera's first frame
}

// ObservationResponse is the metadata of one tri-camera observation.
type ObservationResponse struct {
	Seq     uint64       `json:"seq"`
	Status  string       `json:"status"`
	Cameras []CameraMeta `json:"cameras"`
}

// LayoutResponse describes the buffer payload.
type LayoutResponse struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Channels   int    `json:"channels"`
	Descriptor string `json:"descriptor"`
}

// BufferResponse is the state of the shared buffer.
type BufferResponse struct {
	Info   shmbuf.Info         `json:"info"`
	Layout LayoutResponse      `json:"layout"`
	Oldest *uint64             `json:"oldest"`
	Latest *uint64             `json:"latest"`
	Writer shmbuf.WriterStatus `json:"writer"`
	Stats  any                 `json:"capture_stats,omitempty"`
}

// PoseResponse is the marker pose of one camera.
type PoseResponse struct {
	Seq     uint64 `json:"seq"`
	Camera  string `json:"camera"`
	FrameID uint64 `json:"frame_id"`
	Found   bool   `json:"found"`
	pose.Result
}

// handleError writes an ErrorResponse and logs it with a correlation id.
func (s *Server) handleError(c echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Error = message
	}
	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("path", c.Request().URL.Path),
		logger.Int("code", code),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		s.log.Error(message, fields...)
	} else {
		s.log.Debug(message, fields...)
	}
	return c.JSON(code, resp)
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	ws := s.buffer.WriterStatus()
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.version,
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"writer_alive":   ws.Alive,
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

func (s *Server) getBuffer(c echo.Context) error {
	resp := BufferResponse{
		Info: s.buffer.Info(),
		Layout: LayoutResponse{
			Width:      s.layout.Width,
			Height:     s.layout.Height,
			Channels:   s.layout.Channels,
			Descriptor: s.layout.Descriptor(),
		},
		Writer: s.buffer.WriterStatus(),
	}
	if seq, ok := s.buffer.Oldest(); ok {
		resp.Oldest = &seq
	}
	if seq, ok := s.buffer.Latest(); ok {
		resp.Latest = &seq
	}
	if s.stats != nil {
		resp.Stats = s.stats()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getLatest(c echo.Context) error {
	seq, ok := s.buffer.Latest()
	if !ok {
		return c.JSON(http.StatusNotFound, StatusResponse{Status: shmbuf.NotYetAvailable.String()})
	}
	return s.respondObservation(c, seq)
}

func (s *Server) getObservation(c echo.Context) error {
	seq, err := strconv.ParseUint(c.Param("seq"), 10, 64)
	if err != nil {
		return s.handleError(c, err, "invalid sequence number", http.StatusBadRequest)
	}
	return s.respondObservation(c, seq)
}

// waitForNext blocks until the entry after ?after= is published. Without
// after it waits for the entry following the current latest.
func (s *Server) waitForNext(c echo.Context) error {
	timeout := defaultWait
	if v := c.QueryParam("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return s.handleError(c, err, "invalid timeout", http.StatusBadRequest)
		}
		timeout = min(d, maxWait)
	}

	var next uint64
	if v := c.QueryParam("after"); v != "" {
		after, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return s.handleError(c, err, "invalid after parameter", http.StatusBadRequest)
		}
		if after == math.MaxUint64 {
			// no sequence follows it
			return s.handleError(c, nil, "after parameter out of range", http.StatusBadRequest)
		}
		next = after + 1
	} else if latest, ok := s.buffer.Latest(); ok {
		next = latest + 1
	}

	status, err := s.buffer.WaitForSequence(c.Request().Context(), next, timeout)
	if status != shmbuf.Available {
		if err != nil && c.Request().Context().Err() == nil {
			return s.handleError(c, err, "wait failed", http.StatusServiceUnavailable)
		}
		return c.JSON(http.StatusRequestTimeout, StatusResponse{Seq: next, Status: shmbuf.TimedOut.String()})
	}
	return s.respondObservation(c, next)
}

func (s *Server) respondObservation(c echo.Context, seq uint64) error {
	res, ok := s.read(c, seq)
	if !ok {
		return nil
	}
	resp := ObservationResponse{Seq: seq, Status: res.Status.String()}
	for _, role := range observation.Roles {
		obs := res.Value.Camera(role)
		resp.Cameras = append(resp.Cameras, CameraMeta{
			Camera:    role.String(),
			FrameID:   obs.FrameID,
			Timestamp: int64(obs.Timestamp),
			Width:     obs.Image.Width,
			Height:    obs.Image.Height,
			Channels:  obs.Image.Channels,
			Captured:  !obs.IsPlaceholder(),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// read fetches seq and, for anything but an available entry, writes the
// status response itself and returns false.
func (s *Server) read(c echo.Context, seq uint64) (shmbuf.TriCameraResult, bool) {
	res := s.buffer.Read(seq)
	if res.Status == shmbuf.Available {
		return res, true
	}

	body := StatusResponse{Seq: seq, Status: res.Status.String()}
	if oldest, ok := s.buffer.Oldest(); ok {
		body.Oldest = oldest
	}
	if latest, ok := s.buffer.Latest(); ok {
		body.Latest = latest
	}
	code := http.StatusNotFound
	if res.Status == shmbuf.Evicted {
		code = http.StatusGone
	}
	_ = c.JSON(code, body)
	return res, false
}

func (s *Server) cameraParams(c echo.Context) (uint64, observation.Role, error) {
	seq, err := strconv.ParseUint(c.Param("seq"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid sequence number: %w", err)
	}
	role, err := observation.ParseRole(c.Param("camera"))
	if err != nil {
		return 0, 0, err
	}
	return seq, role, nil
}

// getImage returns one camera image as PNG (default) or raw pixels.
func (s *Server) getImage(c echo.Context) error {
	seq, role, err := s.cameraParams(c)
	if err != nil {
		return s.handleError(c, err, "invalid image request", http.StatusBadRequest)
	}

	format := c.QueryParam("format")
	switch format {
	case "", "png":
		info := s.buffer.Info()
		key := fmt.Sprintf("%x/%d/%d/%s", info.Fingerprint, info.CreatedAt.UnixNano(), seq, role)
		if data, found := s.images.Get(key); found {
			s.apiMetrics.RecordImageCache(true)
			return c.Blob(http.StatusOK, "image/png", data.([]byte))
		}
		s.apiMetrics.RecordImageCache(false)

		res, ok := s.read(c, seq)
		if !ok {
			return nil
		}
		var buf bytes.Buffer
		if err := res.Value.Camera(role).Image.EncodePNG(&buf); err != nil {
			return s.handleError(c, err, "failed to encode image", http.StatusInternalServerError)
		}
		s.images.Set(key, buf.Bytes(), cache.DefaultExpiration)
		return c.Blob(http.StatusOK, "image/png", buf.Bytes())

	case "raw":
		res, ok := s.read(c, seq)
		if !ok {
			return nil
		}
		obs := res.Value.Camera(role)
		h := c.Response().Header()
		h.Set("X-Width", strconv.Itoa(obs.Image.Width))
		h.Set("X-Height", strconv.Itoa(obs.Image.Height))
		h.Set("X-Channels", strconv.Itoa(obs.Image.Channels))
		h.Set("X-Frame-Id", strconv.FormatUint(obs.FrameID, 10))
		h.Set("X-Timestamp-Ns", strconv.FormatInt(int64(obs.Timestamp), 10))
		return c.Blob(http.StatusOK, echo.MIMEOctetStream, obs.Image.Pix)

	default:
		return s.handleError(c, nil, fmt.Sprintf("unsupported image format %q", format), http.StatusBadRequest)
	}
}

// getPose runs the pose estimator on one camera image.
func (s *Server) getPose(c echo.Context) error {
	if s.estimator == nil {
		return s.handleError(c, nil, "pose estimation is not configured", http.StatusNotImplemented)
	}
	seq, role, err := s.cameraParams(c)
	if err != nil {
		return s.handleError(c, err, "invalid pose request", http.StatusBadRequest)
	}
	res, ok := s.read(c, seq)
	if !ok {
		return nil
	}

	obs := res.Value.Camera(role)
	est, err := s.estimator.Estimate(c.Request().Context(), obs)
	if err != nil {
		s.captureMetrics.RecordPoseRequest(role.String(), metrics.StatusError)
		return s.handleError(c, err, "pose estimation failed", http.StatusBadGateway)
	}
	s.captureMetrics.RecordPoseRequest(role.String(), metrics.StatusOK)

	return c.JSON(http.StatusOK, PoseResponse{
		Seq:     seq,
		Camera:  role.String(),
		FrameID: obs.FrameID,
		Found:   est.Found(),
		Result:  est,
	})
}
