package compressor

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

type GzipCompressor struct {
	level int
}

// NewGzip returns a compressor writing at level, from gzip.HuffmanOnly to
// gzip.BestCompression; gzip.DefaultCompression (-1) picks the default.
func NewGzip(level int) (*GzipCompressor, error) {
	if _, err := gzip.NewWriterLevel(io.Discard, level); err != nil {
		return nil, fmt.Errorf("invalid gzip level %d: %w", level, err)
	}
	return &GzipCompressor{level: level}, nil
}

// NewWriter wraps w in a gzip stream. Closing the returned writer flushes the
// gzip footer but does not close w.
func (g *GzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	gzipWriter, err := gzip.NewWriterLevel(w, g.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	return gzipWriter, nil
}

// Verify decompresses the whole file, checking the gzip CRC and length, and
// returns the uncompressed size.
func (g *GzipCompressor) Verify(path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open compressed file: %w", err)
	}
	defer file.Close()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return 0, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	n, err := io.Copy(io.Discard, gzipReader)
	if err != nil {
		return n, fmt.Errorf("corrupt gzip stream: %w", err)
	}
	return n, nil
}

func (g *GzipCompressor) Extension() string {
	return ".gz"
}
