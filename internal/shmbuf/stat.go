package shmbuf

import (
	"github.com/tphakala/tricam/internal/errors"
)

// Stat reads the header of the region at path without attaching. It lets a
// reader learn the payload descriptor before choosing a codec.
func Stat(path string) (Info, error) {
	reg, fileSize, err := openRegion(path, headerSize, false)
	if err != nil {
		if errors.Is(err, errShortRegion) {
			return Info{}, configError(path, "region is %d bytes, smaller than its header", fileSize)
		}
		return Info{}, bufferError(err, path, "stat")
	}
	defer func() { _ = reg.close() }()

	hdr := header{mem: reg.mem}
	switch {
	case !hdr.hasMagic():
		return Info{}, configError(path, "missing magic, region is not initialized")
	case hdr.version() != formatVersion:
		return Info{}, configError(path, "format version %d, want %d", hdr.version(), formatVersion)
	}
	return regionInfo(path, hdr), nil
}
