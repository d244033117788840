//go:build !unix

package shmbuf

import "os"

type region struct {
	file *os.File
	mem  []byte
}

func lockFile(string) (*os.File, error) { return nil, ErrUnsupported }

func unlockFile(*os.File) error { return ErrUnsupported }

func createRegion(string, int64) (*region, error) { return nil, ErrUnsupported }

func openRegion(string, int64, bool) (*region, int64, error) { return nil, 0, ErrUnsupported }

func (r *region) close() error { return ErrUnsupported }
