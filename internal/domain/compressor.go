package domain

import "io"

type Compressor interface {
	NewWriter(w io.Writer) (io.WriteCloser, error)
	// Verify reads the whole compressed file and returns the uncompressed size.
	Verify(path string) (int64, error)
	Extension() string
}
