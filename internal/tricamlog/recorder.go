package tricamlog

import (
	"context"
	"time"

	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/shmbuf"
)

// RecorderConfig controls what a Recorder captures.
type RecorderConfig struct {
	FromOldest  bool          // start at the oldest retained entry instead of the next new one
	MaxRecords  uint64        // stop after this many records, 0 for no limit
	WaitTimeout time.Duration // how long to wait for a new entry before checking the writer
	Logger      logger.Logger
}

// RecordStats is Stats plus the entries the recorder could not keep up with.
type RecordStats struct {
	Stats
	Skipped uint64 `json:"skipped"`
}

// Recorder follows a shared buffer and writes every entry to a log.
type Recorder struct {
	reader *shmbuf.TriCameraReader
	w      *Writer
	cfg    RecorderConfig
	log    logger.Logger
}

// NewRecorder records from reader into w. The caller keeps ownership of both.
func NewRecorder(reader *shmbuf.TriCameraReader, w *Writer, cfg RecorderConfig) *Recorder {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log
	}
	return &Recorder{reader: reader, w: w, cfg: cfg, log: cfg.Logger}
}

// Run records until ctx is done, MaxRecords is reached or the writer has
// closed the buffer and every published entry has been recorded.
func (rc *Recorder) Run(ctx context.Context) (RecordStats, error) {
	var stats RecordStats

	var cursor *shmbuf.TriCameraCursor
	switch latest, ok := rc.reader.Latest(); {
	case rc.cfg.FromOldest:
		cursor = rc.reader.CursorAtOldest()
	case ok:
		cursor = rc.reader.CursorAt(latest + 1)
	default:
		cursor = rc.reader.CursorAt(0)
	}

	rc.log.Info("recording started", logger.Uint64("from_seq", cursor.Position()))

	for rc.cfg.MaxRecords == 0 || stats.Count < rc.cfg.MaxRecords {
		entry, status, err := cursor.Next(ctx, rc.cfg.WaitTimeout)
		stats.Skipped += entry.Skipped
		if entry.Skipped > 0 {
			rc.log.Warn("recorder fell behind, entries lost",
				logger.Uint64("skipped", entry.Skipped),
				logger.Uint64("resume_seq", cursor.Position()))
		}

		switch {
		case ctx.Err() != nil:
			rc.logDone(stats, "context done")
			return stats, nil
		case err != nil:
			return stats, err
		case status == shmbuf.Available:
			if err := rc.w.Write(entry.Seq, entry.Value); err != nil {
				return stats, err
			}
			stats.Add(entry.Seq, entry.Value)
		case status == shmbuf.TimedOut:
			if ws := rc.reader.WriterStatus(); ws.Closed {
				rc.logDone(stats, "writer closed")
				return stats, nil
			}
		}
	}
	rc.logDone(stats, "record limit reached")
	return stats, nil
}

func (rc *Recorder) logDone(s RecordStats, reason string) {
	rc.log.Info("recording finished",
		logger.String("reason", reason),
		logger.Uint64("records", s.Count),
		logger.Uint64("skipped", s.Skipped),
		logger.Float64("fps", s.FPS()))
}
