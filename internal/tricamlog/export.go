package tricamlog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tphakala/tricam/internal/observation"
)

// ExportPNG writes one PNG per camera of rec into dir as
// <seq>_<role>.png and returns the file names.
func ExportPNG(dir string, rec Record) ([]string, error) {
	names := make([]string, 0, observation.NumCameras)
	for _, role := range observation.Roles {
		name := filepath.Join(dir, fmt.Sprintf("%08d_%s.png", rec.Seq, role))
		if err := writePNG(name, rec.Observation.Camera(role).Image); err != nil {
			return names, recordingError(err, name, "export")
		}
		names = append(names, name)
	}
	return names, nil
}

func writePNG(name string, img observation.Image) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := img.EncodePNG(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
