// Package tricamlog stores TriCameraObservations in zstd-compressed log files
// for offline playback.
//
// A log starts with an uncompressed header (magic, format version, layout
// descriptor) followed by a single zstd stream of fixed-size records: the
// buffer sequence number as a little endian u64 and the observation encoded
// with the header's layout.
package tricamlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observation"
)

var log = logger.Global().Module("record")

const (
	magic         = "TRICAMLG"
	formatVersion = 1
	maxDescriptor = 256

	// DefaultLevel is zstd's fastest level; capture is usually I/O bound.
	DefaultLevel = 1
)

// Record is one logged observation.
type Record struct {
	Seq         uint64
	Observation observation.TriCameraObservation
}

func recordingError(err error, path, op string) error {
	return errors.New(err).
		Component("tricamlog").
		Category(errors.CategoryRecording).
		Context("path", path).
		Context("operation", op).
		Build()
}

// Writer appends records to a log.
type Writer struct {
	path   string
	layout observation.Layout
	enc    *zstd.Encoder
	file   io.Closer // nil when the caller owns the destination
	buf    []byte
	count  uint64
	closed bool
}

// Create creates the log file at path, truncating an existing one.
func Create(path string, layout observation.Layout, level int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, recordingError(err, path, "create")
	}
	w, err := NewWriter(f, layout, level)
	if err != nil {
		_ = f.Close()
		return nil, recordingError(err, path, "create")
	}
	w.path = path
	w.file = f
	return w, nil
}

// NewWriter writes a log header to dst and returns a writer for its records.
// level ranges from 1 (fastest) to 4 (best compression); 0 selects
// DefaultLevel.
func NewWriter(dst io.Writer, layout observation.Layout, level int) (*Writer, error) {
	if level == 0 {
		level = DefaultLevel
	}
	if level < int(zstd.SpeedFastest) || level > int(zstd.SpeedBestCompression) {
		return nil, errors.Newf("compression level %d out of range 1..4", level).
			Component("tricamlog").
			Category(errors.CategoryValidation).
			Build()
	}
	if err := writeHeader(dst, layout); err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	if err != nil {
		return nil, err
	}
	return &Writer{
		layout: layout,
		enc:    enc,
		buf:    make([]byte, 8+layout.Size()),
	}, nil
}

func writeHeader(dst io.Writer, layout observation.Layout) error {
	desc := layout.Descriptor()
	hdr := make([]byte, 0, len(magic)+8+len(desc))
	hdr = append(hdr, magic...)
	hdr = binary.LittleEndian.AppendUint32(hdr, formatVersion)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(len(desc))) //nolint:gosec // descriptor is short
	hdr = append(hdr, desc...)
	_, err := dst.Write(hdr)
	return err
}

// Layout returns the layout every record is encoded with.
func (w *Writer) Layout() observation.Layout {
	return w.layout
}

// Count returns the number of records written.
func (w *Writer) Count() uint64 {
	return w.count
}

// Write appends one record.
func (w *Writer) Write(seq uint64, obs observation.TriCameraObservation) error {
	if w.closed {
		return recordingError(os.ErrClosed, w.path, "write")
	}
	binary.LittleEndian.PutUint64(w.buf, seq)
	if err := w.layout.Encode(w.buf[8:], obs); err != nil {
		return err
	}
	if _, err := w.enc.Write(w.buf); err != nil {
		return recordingError(err, w.path, "write")
	}
	w.count++
	return nil
}

// Close flushes the compressed stream and closes the file if Create opened it.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.enc.Close()
	if w.file != nil {
		err = errors.Join(err, w.file.Close())
	}
	if err != nil {
		return recordingError(err, w.path, "close")
	}
	return nil
}

// Reader iterates the records of a log.
type Reader struct {
	path   string
	layout observation.Layout
	dec    *zstd.Decoder
	file   io.Closer
	buf    []byte
}

// Open opens the log file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, recordingError(err, path, "open")
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, recordingError(err, path, "open")
	}
	r.path = path
	r.file = f
	return r, nil
}

// NewReader reads the log header from src.
func NewReader(src io.Reader) (*Reader, error) {
	var fixed [len(magic) + 8]byte
	if _, err := io.ReadFull(src, fixed[:]); err != nil {
		return nil, fmt.Errorf("read log header: %w", err)
	}
	if string(fixed[:len(magic)]) != magic {
		return nil, errors.Newf("not a tri-camera log").
			Category(errors.CategoryFileParsing).
			Build()
	}
	if v := binary.LittleEndian.Uint32(fixed[len(magic):]); v != formatVersion {
		return nil, errors.Newf("unsupported log version %d", v).
			Category(errors.CategoryFileParsing).
			Build()
	}
	n := binary.LittleEndian.Uint32(fixed[len(magic)+4:])
	if n == 0 || n > maxDescriptor {
		return nil, errors.Newf("invalid descriptor length %d", n).
			Category(errors.CategoryFileParsing).
			Build()
	}
	desc := make([]byte, n)
	if _, err := io.ReadFull(src, desc); err != nil {
		return nil, fmt.Errorf("read layout descriptor: %w", err)
	}
	layout, err := observation.ParseDescriptor(string(desc))
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(src)
	if err != nil {
		return nil, err
	}
	return &Reader{
		layout: layout,
		dec:    dec,
		buf:    make([]byte, 8+layout.Size()),
	}, nil
}

// Layout returns the layout of the logged observations.
func (r *Reader) Layout() observation.Layout {
	return r.layout
}

// Next returns the next record, or io.EOF after the last one. A log cut off
// mid-record returns io.ErrUnexpectedEOF.
func (r *Reader) Next() (Record, error) {
	if _, err := io.ReadFull(r.dec, r.buf); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, recordingError(err, r.path, "read")
	}
	obs, err := r.layout.Decode(r.buf[8:])
	if err != nil {
		return Record{}, recordingError(err, r.path, "decode")
	}
	return Record{Seq: binary.LittleEndian.Uint64(r.buf), Observation: obs}, nil
}

// Close releases the decoder and the file if Open opened it.
func (r *Reader) Close() error {
	r.dec.Close()
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
