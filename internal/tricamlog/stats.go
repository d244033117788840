package tricamlog

import (
	"io"
	"time"

	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/observation"
)

// Stats summarizes a sequence of records. Timing is derived from the
// camera60 timestamps.
type Stats struct {
	Count    uint64        `json:"count"`
	FirstSeq uint64        `json:"first_seq"`
	LastSeq  uint64        `json:"last_seq"`
	Missing  uint64        `json:"missing"` // sequence numbers absent between FirstSeq and LastSeq
	Start    time.Duration `json:"start"`
	End      time.Duration `json:"end"`
}

// Add folds one record into s. Records must arrive in sequence order.
func (s *Stats) Add(seq uint64, obs observation.TriCameraObservation) {
	ts := obs.Camera(observation.Camera60).Timestamp
	if s.Count == 0 {
		s.FirstSeq, s.Start = seq, ts
	} else if seq > s.LastSeq+1 {
		s.Missing += seq - s.LastSeq - 1
	}
	s.LastSeq, s.End = seq, ts
	s.Count++
}

// Duration is the time between the first and last record.
func (s Stats) Duration() time.Duration {
	if s.Count < 2 || s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// AverageInterval is the mean time between consecutive records.
func (s Stats) AverageInterval() time.Duration {
	if s.Count < 2 {
		return 0
	}
	return s.Duration() / time.Duration(s.Count-1)
}

// FPS is the average record rate, 0 when it cannot be determined.
func (s Stats) FPS() float64 {
	iv := s.AverageInterval()
	if iv <= 0 {
		return 0
	}
	return float64(time.Second) / float64(iv)
}

// Summarize reads r to the end. fn, when not nil, sees every record in order
// and may stop early by returning an error, which Summarize returns.
func Summarize(r *Reader, fn func(Record) error) (Stats, error) {
	var s Stats
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return s, nil
		}
		if err != nil {
			return s, err
		}
		s.Add(rec.Seq, rec.Observation)
		if fn != nil {
			if err := fn(rec); err != nil {
				return s, err
			}
		}
	}
}
